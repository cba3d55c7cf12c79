package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/mediahub-api/internal/models"
	appErrors "github.com/noah-isme/mediahub-api/pkg/errors"
	"github.com/noah-isme/mediahub-api/pkg/jobs"
)

const auditJobType = "audit.write"

type auditRepository interface {
	Create(ctx context.Context, log *models.AuditLog) error
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error)
}

// AuditEvent is a security event about an account.
type AuditEvent struct {
	AccountID string
	ActorID   string
	Action    string
	Old       map[string]interface{}
	New       map[string]interface{}
	Meta      models.ClientMeta
}

// AuditService records the security audit trail. Writes go through a worker
// queue when one is running and are performed inline otherwise. Failures are
// logged and never returned to the caller.
type AuditService struct {
	repo   auditRepository
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewAuditService constructs an AuditService.
func NewAuditService(repo auditRepository, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{repo: repo, logger: logger}
}

// UseQueue builds the background writer. Callers own Start and Stop of the returned queue.
func (s *AuditService) UseQueue(cfg jobs.QueueConfig) *jobs.Queue {
	if cfg.Logger == nil {
		cfg.Logger = s.logger
	}
	s.queue = jobs.NewQueue("audit", s.handle, cfg)
	return s.queue
}

// Record stores an audit event.
func (s *AuditService) Record(ctx context.Context, event AuditEvent) {
	if s == nil || s.repo == nil {
		return
	}
	entry, err := s.entry(event)
	if err != nil {
		s.logger.Warn("failed to build audit log", zap.String("action", event.Action), zap.Error(err))
		return
	}

	if s.queue != nil && s.queue.Started() {
		err := s.queue.Enqueue(jobs.Job{ID: entry.ID, Type: auditJobType, Payload: entry})
		if err == nil {
			return
		}
		s.logger.Warn("audit queue unavailable, writing inline", zap.String("action", entry.Action), zap.Error(err))
	}

	// the request may already be finishing; the write must not be cancelled with it
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.repo.Create(writeCtx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", entry.Action), zap.Error(err))
	}
}

// List returns audit entries matching the filter.
func (s *AuditService) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, *models.Pagination, error) {
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "from must be before to")
	}
	logs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to list audit logs")
	}
	page, size := normalizePage(filter.Page, filter.PageSize)
	return logs, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

func (s *AuditService) handle(ctx context.Context, job jobs.Job) error {
	entry, ok := job.Payload.(*models.AuditLog)
	if !ok {
		return fmt.Errorf("unexpected audit payload %T", job.Payload)
	}
	return s.repo.Create(ctx, entry)
}

func (s *AuditService) entry(event AuditEvent) (*models.AuditLog, error) {
	entry := &models.AuditLog{
		ID:        uuid.NewString(),
		Action:    event.Action,
		Resource:  "account",
		IPAddress: event.Meta.IP,
		UserAgent: event.Meta.UserAgent,
		CreatedAt: time.Now().UTC(),
	}
	if event.AccountID != "" {
		accountID := event.AccountID
		entry.ResourceID = &accountID
	}
	actor := event.ActorID
	if actor == "" {
		actor = event.AccountID
	}
	if actor != "" {
		entry.AccountID = &actor
	}
	var err error
	if entry.OldValues, err = marshalPayload(event.Old); err != nil {
		return nil, err
	}
	if entry.NewValues, err = marshalPayload(event.New); err != nil {
		return nil, err
	}
	return entry, nil
}

func marshalPayload(values map[string]interface{}) (models.JSONPayload, error) {
	if len(values) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return models.JSONPayload(raw), nil
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 1000 {
		size = 50
	}
	return page, size
}
