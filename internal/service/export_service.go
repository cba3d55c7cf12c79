package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/mediahub-api/internal/models"
	appErrors "github.com/noah-isme/mediahub-api/pkg/errors"
	"github.com/noah-isme/mediahub-api/pkg/export"
)

// Supported audit export formats.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

const (
	exportPageSize = 1000
	exportMaxRows  = 10000
)

var auditExportHeaders = []string{"Time", "Action", "Actor", "Account", "IP Address", "User Agent", "Details"}

type auditLister interface {
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, *models.Pagination, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportFile is a rendered export ready to be streamed.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportService renders the security audit trail as CSV or PDF.
type ExportService struct {
	audit  auditLister
	csv    csvRenderer
	pdf    pdfRenderer
	logger *zap.Logger
	now    func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(audit auditLister, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{audit: audit, csv: csv, pdf: pdf, logger: logger, now: time.Now}
}

// ExportAudit renders every audit entry matching filter, newest first.
func (s *ExportService) ExportAudit(ctx context.Context, filter models.AuditFilter, format string) (*ExportFile, error) {
	format = strings.ToLower(format)
	if format != ExportFormatCSV && format != ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}

	dataset, err := s.collect(ctx, filter)
	if err != nil {
		return nil, err
	}

	var (
		payload     []byte
		contentType string
	)
	switch format {
	case ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
		contentType = "text/csv"
	case ExportFormatPDF:
		payload, err = s.pdf.Render(dataset, "Security audit trail")
		contentType = "application/pdf"
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to render export")
	}

	return &ExportFile{
		Filename:    fmt.Sprintf("audit_%s.%s", s.now().UTC().Format("20060102_150405"), format),
		ContentType: contentType,
		Data:        payload,
	}, nil
}

func (s *ExportService) collect(ctx context.Context, filter models.AuditFilter) (export.Dataset, error) {
	dataset := export.Dataset{Headers: auditExportHeaders}
	filter.PageSize = exportPageSize
	for page := 1; ; page++ {
		filter.Page = page
		logs, pagination, err := s.audit.List(ctx, filter)
		if err != nil {
			return export.Dataset{}, err
		}
		for _, entry := range logs {
			dataset.Rows = append(dataset.Rows, auditRow(entry))
		}
		if len(logs) < exportPageSize || page*exportPageSize >= pagination.TotalCount {
			break
		}
		if len(dataset.Rows) >= exportMaxRows {
			s.logger.Warn("audit export truncated", zap.Int("rows", len(dataset.Rows)), zap.Int("total", pagination.TotalCount))
			break
		}
	}
	return dataset, nil
}

func auditRow(entry models.AuditLog) map[string]string {
	details := string(entry.NewValues)
	if len(entry.OldValues) > 0 {
		details = string(entry.OldValues) + " -> " + details
	}
	return map[string]string{
		"Time":       entry.CreatedAt.UTC().Format(time.RFC3339),
		"Action":     entry.Action,
		"Actor":      deref(entry.AccountID),
		"Account":    deref(entry.ResourceID),
		"IP Address": entry.IPAddress,
		"User Agent": entry.UserAgent,
		"Details":    details,
	}
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
