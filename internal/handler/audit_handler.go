package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/mediahub-api/internal/models"
	"github.com/noah-isme/mediahub-api/internal/service"
	appErrors "github.com/noah-isme/mediahub-api/pkg/errors"
	"github.com/noah-isme/mediahub-api/pkg/response"
)

type auditService interface {
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, *models.Pagination, error)
}

type auditExporter interface {
	ExportAudit(ctx context.Context, filter models.AuditFilter, format string) (*service.ExportFile, error)
}

// AuditHandler exposes the security audit trail.
type AuditHandler struct {
	audit    auditService
	exporter auditExporter
}

// NewAuditHandler builds a new handler.
func NewAuditHandler(audit auditService, exporter auditExporter) *AuditHandler {
	return &AuditHandler{audit: audit, exporter: exporter}
}

// List godoc
// @Summary List or export audit logs
// @Description Without format the page is returned as JSON; format=csv or format=pdf downloads every matching entry.
// @Tags Audit
// @Security BearerAuth
// @Produce json
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf"
// @Param account_id query string false "Account ID"
// @Param action query string false "Action"
// @Param from query string false "RFC3339 lower bound"
// @Param to query string false "RFC3339 upper bound"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/audit-logs [get]
func (h *AuditHandler) List(c *gin.Context) {
	filter, err := parseAuditFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if format := strings.ToLower(strings.TrimSpace(c.Query("format"))); format != "" {
		h.export(c, filter, format)
		return
	}
	logs, pagination, err := h.audit.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, pagination)
}

func (h *AuditHandler) export(c *gin.Context, filter models.AuditFilter, format string) {
	file, err := h.exporter.ExportAudit(c.Request.Context(), filter, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, file.ContentType, file.Data)
}

func parseAuditFilter(c *gin.Context) (models.AuditFilter, error) {
	filter := models.AuditFilter{
		AccountID: strings.TrimSpace(c.Query("account_id")),
		Action:    strings.ToUpper(strings.TrimSpace(c.Query("action"))),
		Page:      parseQueryInt(c, "page", 1),
		PageSize:  parseQueryInt(c, "page_size", 50),
	}
	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "invalid from parameter")
		}
		filter.From = &parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "invalid to parameter")
		}
		filter.To = &parsed
	}
	return filter, nil
}
