package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type refreshTokenPurger interface {
	PurgeDead(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionConfig tunes the refresh token sweeper.
type RetentionConfig struct {
	Interval time.Duration
	Grace    time.Duration
}

// RetentionService physically removes refresh tokens that have been revoked or
// expired for longer than the grace period. Token validity never depends on it.
type RetentionService struct {
	tokens refreshTokenPurger
	cfg    RetentionConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewRetentionService constructs a RetentionService.
func NewRetentionService(tokens refreshTokenPurger, cfg RetentionConfig, logger *zap.Logger) *RetentionService {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetentionService{tokens: tokens, cfg: cfg, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// PurgeOnce runs a single sweep.
func (s *RetentionService) PurgeOnce(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.cfg.Grace)
	purged, err := s.tokens.PurgeDead(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.logger.Info("purged dead refresh tokens", zap.Int64("count", purged), zap.Time("cutoff", cutoff))
	}
	return purged, nil
}

// Run sweeps on every tick until ctx is cancelled.
func (s *RetentionService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PurgeOnce(ctx); err != nil {
				s.logger.Warn("refresh token retention sweep failed", zap.Error(err))
			}
		}
	}
}
