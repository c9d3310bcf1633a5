package service

import (
	"go.uber.org/zap"

	"keepalive-service/internal/repository"
	"keepalive-service/internal/sink"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	heartbeatRepo    repository.HeartbeatRepository
	events           sink.EventSink
	archive          sink.Archive
	schedule         Schedule
	retentionCap     int
	logger           *zap.Logger
	heartbeatService *HeartbeatService
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(
	heartbeatRepo repository.HeartbeatRepository,
	events sink.EventSink,
	archive sink.Archive,
	schedule Schedule,
	retentionCap int,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		heartbeatRepo: heartbeatRepo,
		events:        events,
		archive:       archive,
		schedule:      schedule,
		retentionCap:  retentionCap,
		logger:        logger,
	}
}

// HeartbeatService returns the heartbeat service instance (singleton)
func (f *ServiceFactory) HeartbeatService() *HeartbeatService {
	if f.heartbeatService == nil {
		schedule := f.schedule
		f.heartbeatService = NewHeartbeatService(f.heartbeatRepo, f.logger, Options{
			RetentionCap: f.retentionCap,
			Schedule:     &schedule,
			Events:       f.events,
			Archive:      f.archive,
		})
	}
	return f.heartbeatService
}

// Cleanup waits for background work in all services
func (f *ServiceFactory) Cleanup() {
	if f.heartbeatService != nil {
		f.heartbeatService.Cleanup()
	}
}
