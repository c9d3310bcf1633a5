package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"keepalive-service/internal/models"
	"keepalive-service/internal/repository"
	"keepalive-service/internal/sink"
	"keepalive-service/internal/util"
)

var (
	ErrStore        = errors.New("heartbeat store error")
	ErrInvalidInput = errors.New("invalid input")
)

const (
	// DefaultRetentionCap is how many heartbeat records survive a sweep.
	DefaultRetentionCap = 30

	maxSourceLength = 128
	isoMillis       = "2006-01-02T15:04:05.000Z07:00"
	sinkTimeout     = 5 * time.Second
)

// HeartbeatService records keep-alive pings and reports on their health.
type HeartbeatService struct {
	repo         repository.HeartbeatRepository
	events       sink.EventSink
	archive      sink.Archive
	schedule     Schedule
	retentionCap int
	logger       *zap.Logger
	nowFunc      func() time.Time

	inflight sync.WaitGroup
}

// Options configures optional collaborators; zero values fall back to defaults.
type Options struct {
	RetentionCap int
	Schedule     *Schedule
	Events       sink.EventSink
	Archive      sink.Archive
	Now          func() time.Time
}

// RecordResult describes one accepted heartbeat.
type RecordResult struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	Retained  int       `json:"retained"`
	Evicted   int       `json:"evicted"`
}

// SweepResult describes one retention pass.
type SweepResult struct {
	Retained int                      `json:"retained"`
	Evicted  []models.HeartbeatRecord `json:"evicted"`
}

// HeartbeatStatus is the read-only health projection shown on the admin dashboard.
type HeartbeatStatus struct {
	LastHeartbeat *models.HeartbeatRecord `json:"last_heartbeat"`
	NextExpected  time.Time               `json:"next_expected"`
	AtRisk        bool                    `json:"at_risk"`
	RetainedCount int                     `json:"retained_count"`
	RetentionCap  int                     `json:"retention_cap"`
	CheckedAt     time.Time               `json:"checked_at"`
}

func NewHeartbeatService(repo repository.HeartbeatRepository, logger *zap.Logger, opts Options) *HeartbeatService {
	s := &HeartbeatService{
		repo:         repo,
		events:       opts.Events,
		archive:      opts.Archive,
		schedule:     DefaultSchedule(),
		retentionCap: opts.RetentionCap,
		logger:       logger,
		nowFunc:      opts.Now,
	}
	if opts.Schedule != nil {
		s.schedule = *opts.Schedule
	}
	if s.retentionCap <= 0 {
		s.retentionCap = DefaultRetentionCap
	}
	if s.nowFunc == nil {
		s.nowFunc = time.Now
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// ResolveSource turns whatever the caller sent as an origin tag into the stored value.
// Anything that is not a non-blank string becomes models.DefaultSource.
func ResolveSource(v interface{}) string {
	raw, ok := v.(string)
	if !ok {
		return models.DefaultSource
	}
	source := strings.TrimSpace(util.Truncate(util.SanitizeInput(raw), maxSourceLength))
	if strings.TrimSpace(source) == "" {
		return models.DefaultSource
	}
	return source
}

// Record inserts one keep-alive heartbeat and then trims history to the retention cap.
// It is not idempotent: every call adds a record.
func (s *HeartbeatService) Record(ctx context.Context, source string) (*RecordResult, error) {
	startTime := time.Now()
	resolved := ResolveSource(source)

	record := &models.HeartbeatRecord{
		Kind: models.KindKeepAlive,
		Details: models.HeartbeatDetails{
			Timestamp: s.nowFunc().UTC().Format(isoMillis),
			Source:    resolved,
		},
	}

	id, err := s.repo.Append(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to insert heartbeat: %w", ErrStore, err)
	}

	sweep, err := s.Sweep(ctx)
	if err != nil {
		return nil, err
	}

	result := &RecordResult{
		ID:        id,
		Source:    resolved,
		CreatedAt: record.CreatedAt,
		Retained:  sweep.Retained,
		Evicted:   len(sweep.Evicted),
	}

	s.publish(ctx, models.NewHeartbeatEvent(*record, result.Retained, result.Evicted))

	s.logger.Info("Heartbeat recorded",
		util.String("id", id),
		util.String("source", resolved),
		util.Int("retained", result.Retained),
		util.Int("evicted", result.Evicted),
		util.Duration("duration", time.Since(startTime)),
	)
	return result, nil
}

// Sweep deletes every record past the newest retentionCap in a single delete.
// It is a read-then-delete with no isolation, so concurrent sweeps give an eventual bound.
func (s *HeartbeatService) Sweep(ctx context.Context) (*SweepResult, error) {
	records, err := s.repo.ListAllByRecencyDesc(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list heartbeats: %w", ErrStore, err)
	}
	if len(records) <= s.retentionCap {
		return &SweepResult{Retained: len(records)}, nil
	}

	excess := records[s.retentionCap:]
	ids := make([]string, len(excess))
	for i, rec := range excess {
		ids[i] = rec.ID
	}

	if s.archive != nil {
		if err := s.archive.ArchiveEvicted(ctx, excess); err != nil {
			s.logger.Warn("Failed to archive evicted heartbeats",
				util.Int("count", len(excess)),
				util.ErrorField(err))
		}
	}

	deleted, err := s.repo.DeleteByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to delete old heartbeats: %w", ErrStore, err)
	}

	s.logger.Debug("Retention sweep completed",
		util.Int("listed", len(records)),
		util.Int64("deleted", deleted),
		util.Int("cap", s.retentionCap))

	// Rows the delete did not remove (a racing sweep, a missed lookup) still count as retained.
	return &SweepResult{Retained: len(records) - int(deleted), Evicted: excess}, nil
}

// Status projects the newest heartbeat onto the schedule predicates.
func (s *HeartbeatService) Status(ctx context.Context) (*HeartbeatStatus, error) {
	records, err := s.repo.ListAllByRecencyDesc(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list heartbeats: %w", ErrStore, err)
	}

	now := s.nowFunc()
	status := &HeartbeatStatus{
		RetainedCount: len(records),
		RetentionCap:  s.retentionCap,
		CheckedAt:     now,
	}

	var last *time.Time
	if len(records) > 0 {
		latest := records[0]
		status.LastHeartbeat = &latest
		last = &latest.CreatedAt
	}
	status.NextExpected = s.schedule.NextExpected(last, now)
	status.AtRisk = s.schedule.AtRisk(last, now)
	return status, nil
}

// List returns up to limit records, newest first. A zero limit means the retention cap.
func (s *HeartbeatService) List(ctx context.Context, limit int) ([]models.HeartbeatRecord, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", ErrInvalidInput)
	}
	if limit == 0 {
		limit = s.retentionCap
	}

	records, err := s.repo.ListAllByRecencyDesc(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list heartbeats: %w", ErrStore, err)
	}
	if len(records) > limit {
		records = records[:limit]
	}
	if records == nil {
		records = []models.HeartbeatRecord{}
	}
	return records, nil
}

// HealthCheck reports whether the backing store answers.
func (s *HeartbeatService) HealthCheck(ctx context.Context) error {
	return s.repo.HealthCheck(ctx)
}

// publish hands the event to the sinks without holding up the caller.
func (s *HeartbeatService) publish(ctx context.Context, event models.HeartbeatEvent) {
	if s.events == nil {
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
		defer cancel()

		if err := s.events.Publish(pubCtx, event); err != nil {
			s.logger.Warn("Failed to publish heartbeat event",
				util.String("id", event.ID),
				util.String("sink", s.events.Name()),
				util.ErrorField(err))
		}
	}()
}

// Cleanup waits for in-flight sink publishes.
func (s *HeartbeatService) Cleanup() {
	s.inflight.Wait()
}
