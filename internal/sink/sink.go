// Package sink forwards recorded heartbeats to secondary systems.
// Sinks are best effort: the recorder logs their failures and carries on.
package sink

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"keepalive-service/internal/models"
)

// EventSink receives one event per recorded heartbeat.
type EventSink interface {
	Name() string
	Publish(ctx context.Context, event models.HeartbeatEvent) error
}

// Archive receives records removed by the retention sweep.
type Archive interface {
	ArchiveEvicted(ctx context.Context, records []models.HeartbeatRecord) error
}

// Fanout publishes to every sink concurrently.
type Fanout struct {
	sinks []EventSink
}

func NewFanout(sinks ...EventSink) *Fanout {
	var active []EventSink
	for _, s := range sinks {
		if s != nil {
			active = append(active, s)
		}
	}
	return &Fanout{sinks: active}
}

func (f *Fanout) Name() string { return "fanout" }

// Len reports how many sinks are attached.
func (f *Fanout) Len() int { return len(f.sinks) }

// Publish waits for all sinks and joins their errors; one failing sink does not stop the others.
func (f *Fanout) Publish(ctx context.Context, event models.HeartbeatEvent) error {
	if len(f.sinks) == 0 {
		return nil
	}

	errs := make([]error, len(f.sinks))
	var g errgroup.Group
	for i, s := range f.sinks {
		i, s := i, s
		g.Go(func() error {
			if err := s.Publish(ctx, event); err != nil {
				errs[i] = fmt.Errorf("%s: %w", s.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
