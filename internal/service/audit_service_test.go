package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/mediahub-api/internal/models"
	appErrors "github.com/noah-isme/mediahub-api/pkg/errors"
	"github.com/noah-isme/mediahub-api/pkg/jobs"
)

type auditRepoStub struct {
	mu      sync.Mutex
	entries []*models.AuditLog
	listed  models.AuditFilter
}

func (s *auditRepoStub) Create(ctx context.Context, log *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, log)
	return nil
}

func (s *auditRepoStub) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error) {
	s.listed = filter
	return []models.AuditLog{{ID: "l1"}}, 1, nil
}

func (s *auditRepoStub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func TestAuditServiceRecordsInline(t *testing.T) {
	repo := &auditRepoStub{}
	svc := NewAuditService(repo, zap.NewNop())

	svc.Record(context.Background(), AuditEvent{
		AccountID: "u1",
		ActorID:   "admin",
		Action:    models.AuditActionStatusChange,
		Old:       map[string]interface{}{"status": "ACTIVE"},
		New:       map[string]interface{}{"status": "SUSPENDED"},
		Meta:      models.ClientMeta{IP: "10.0.0.1", UserAgent: "curl"},
	})

	require.Equal(t, 1, repo.count())
	entry := repo.entries[0]
	assert.Equal(t, "admin", *entry.AccountID)
	assert.Equal(t, "u1", *entry.ResourceID)
	assert.Equal(t, "10.0.0.1", entry.IPAddress)

	var newValues map[string]string
	require.NoError(t, json.Unmarshal(entry.NewValues, &newValues))
	assert.Equal(t, "SUSPENDED", newValues["status"])
}

func TestAuditServiceWritesThroughQueue(t *testing.T) {
	repo := &auditRepoStub{}
	svc := NewAuditService(repo, zap.NewNop())
	queue := svc.UseQueue(jobs.QueueConfig{Workers: 1, BufferSize: 4})
	queue.Start(context.Background())

	svc.Record(context.Background(), AuditEvent{AccountID: "u1", Action: models.AuditActionLogin})
	queue.Stop()

	assert.Equal(t, 1, repo.count())
	assert.Nil(t, repo.entries[0].OldValues)
}

func TestAuditServiceList(t *testing.T) {
	repo := &auditRepoStub{}
	svc := NewAuditService(repo, zap.NewNop())

	logs, pagination, err := svc.List(context.Background(), models.AuditFilter{Page: 0, PageSize: 5000})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 50, pagination.PageSize)

	from := time.Now()
	to := from.Add(-time.Hour)
	_, _, err = svc.List(context.Background(), models.AuditFilter{From: &from, To: &to})
	assert.Equal(t, appErrors.KindInvalidInput, appErrors.KindOf(err))
}
