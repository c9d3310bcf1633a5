package factory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"keepalive-service/internal/client"
	"keepalive-service/internal/config"
	"keepalive-service/internal/keepalive"
	"keepalive-service/internal/repository"
	"keepalive-service/internal/repository/memory"
	redisrepo "keepalive-service/internal/repository/redis"
	"keepalive-service/internal/repository/scylla"
	"keepalive-service/internal/repository/sqlite"
	"keepalive-service/internal/service"
	"keepalive-service/internal/sink"
	"keepalive-service/internal/tls"
	"keepalive-service/internal/util"
)

// stateStore is a throttle state backend that owns resources.
type stateStore interface {
	keepalive.KeyValueStore
	Close() error
}

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient
	sqliteStores     map[string]*sqlite.Store

	// Repositories
	heartbeatRepository repository.HeartbeatRepository
	stateStore          stateStore

	events         *sink.Fanout
	archive        sink.Archive
	serviceFactory *service.ServiceFactory
	throttle       *keepalive.Throttle

	mu        sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory loads configuration and initializes everything the HTTP server needs.
func NewFactory() (*Factory, error) {
	f, err := newFactory()
	if err != nil {
		return nil, err
	}
	cfg := f.config

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewTLSManager(cfg.Server, cfg.Environment, util.Named("tls"))
	}

	if err := f.initializeClients(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := f.initializeRepository(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize heartbeat repository: %w", err)
	}

	f.initializeSinks()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("store_driver", cfg.Store.Driver),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Int("event_sinks", f.events.Len()),
		util.Bool("archive_enabled", f.archive != nil),
	)

	return f, nil
}

// NewClientFactory loads configuration for the keep-alive CLI. Only the throttle
// state backend is opened, and only when first used.
func NewClientFactory() (*Factory, error) {
	return newFactory()
}

func newFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Factory{
		config:       cfg,
		sqliteStores: make(map[string]*sqlite.Store),
		closed:       make(chan struct{}),
	}, nil
}

// initializeClients opens the external clients the configuration asks for.
// Event sinks are optional; the heartbeat store is not.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error
	logger := util.Get()

	if f.config.Store.Driver == "scylla" {
		c, err := scylla.NewScyllaClient(f.config, logger)
		if err != nil {
			return fmt.Errorf("scylla: %w", err)
		}
		f.scyllaClient = c
	}

	if f.config.KeepAlive.OnLoad && f.config.KeepAlive.StateDriver == "redis" {
		if err := f.ensureRedis(); err != nil {
			initErrors = append(initErrors, err)
		}
	}

	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config, logger); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
		}
	}

	if f.config.Elasticsearch.Enabled {
		if c, err := client.NewElasticsearchClient(f.config, logger); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
		} else {
			f.esClient = c
		}
	}

	if f.config.Clickhouse.Enabled {
		if c, err := client.NewClickHouseClient(f.config, logger); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = c
			if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
			}
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %w", errors.Join(initErrors...))
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

func (f *Factory) ensureRedis() error {
	if f.redisClient != nil {
		return nil
	}
	c, err := client.NewRedisClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	f.redisClient = c
	return nil
}

// openSQLite shares one store per path so the heartbeat table and the
// throttle state can live in the same file.
func (f *Factory) openSQLite(path string) (*sqlite.Store, error) {
	if s, ok := f.sqliteStores[path]; ok {
		return s, nil
	}
	s, err := sqlite.New(path)
	if err != nil {
		return nil, err
	}
	f.sqliteStores[path] = s
	util.Info("SQLite store opened", util.String("path", path))
	return s, nil
}

func (f *Factory) initializeRepository() error {
	switch f.config.Store.Driver {
	case "memory":
		f.heartbeatRepository = memory.NewHeartbeatRepository()
	case "sqlite":
		store, err := f.openSQLite(f.config.Store.SQLitePath)
		if err != nil {
			return err
		}
		f.heartbeatRepository = store
	case "scylla":
		f.heartbeatRepository = scylla.NewHeartbeatRepository(f.scyllaClient)
	default:
		return fmt.Errorf("unknown store driver %q", f.config.Store.Driver)
	}
	return nil
}

// initializeSinks wires whichever secondary systems came up.
func (f *Factory) initializeSinks() {
	var sinks []sink.EventSink
	if f.kafkaProducer != nil {
		sinks = append(sinks, sink.NewKafkaSink(f.kafkaProducer, f.config.Kafka.HeartbeatTopic))
	}
	if f.esClient != nil {
		sinks = append(sinks, sink.NewElasticsearchSink(f.esClient, f.config.Elasticsearch.Index))
	}
	f.events = sink.NewFanout(sinks...)

	if f.clickhouseClient != nil {
		archive := sink.NewClickHouseArchive(f.clickhouseClient)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := archive.EnsureTable(ctx); err != nil {
			util.Warn("ClickHouse archive table unavailable - evicted heartbeats will not be archived",
				util.ErrorField(err))
			return
		}
		f.archive = archive
	}
}

// ==============================
// Service Factory
// ==============================
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.serviceFactory == nil {
		hb := f.config.Heartbeat
		schedule := service.Schedule{
			Location:      f.config.Location(),
			DailyHour:     hb.DailyHour,
			Cadence:       hb.Cadence,
			RiskThreshold: hb.RiskThreshold,
		}

		var events sink.EventSink
		if f.events != nil && f.events.Len() > 0 {
			events = f.events
		}

		f.serviceFactory = service.NewServiceFactory(
			f.heartbeatRepository,
			events,
			f.archive,
			schedule,
			hb.RetentionCap,
			util.Named("heartbeat"),
		)
	}
	return f.serviceFactory
}

// ==============================
// Keep-alive throttle
// ==============================

// StateStore opens the configured throttle state backend.
func (f *Factory) StateStore() (keepalive.KeyValueStore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateStoreLocked()
}

func (f *Factory) stateStoreLocked() (keepalive.KeyValueStore, error) {
	if f.stateStore != nil {
		return f.stateStore, nil
	}

	switch f.config.KeepAlive.StateDriver {
	case "memory":
		f.stateStore = memory.NewStateStore()
	case "sqlite":
		store, err := f.openSQLite(f.config.KeepAlive.StatePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open keep-alive state: %w", err)
		}
		f.stateStore = store
	case "redis":
		if err := f.ensureRedis(); err != nil {
			return nil, err
		}
		f.stateStore = redisrepo.NewKeepAliveStateStore(f.redisClient)
	default:
		return nil, fmt.Errorf("unknown keep-alive state driver %q", f.config.KeepAlive.StateDriver)
	}
	return f.stateStore, nil
}

// Throttle builds the client keep-alive throttle from the KeepAlive config.
func (f *Factory) Throttle() (*keepalive.Throttle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.throttle != nil {
		return f.throttle, nil
	}

	store, err := f.stateStoreLocked()
	if err != nil {
		return nil, err
	}

	ka := f.config.KeepAlive
	invoker := keepalive.NewHTTPInvoker(ka.FunctionURL, ka.APIKey, ka.RequestTimeout)
	f.throttle = keepalive.NewThrottle(store, invoker, util.Named("keepalive"),
		keepalive.WithInterval(ka.Interval),
		keepalive.WithSource(ka.Source),
	)
	return f.throttle, nil
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.heartbeatRepository != nil {
		if err := f.heartbeatRepository.HealthCheck(ctx); err != nil {
			healthErrors["heartbeat_repository"] = err
		}
	} else {
		healthErrors["heartbeat_repository"] = fmt.Errorf("heartbeat repository not initialized")
	}

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(ctx); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	return healthErrors
}

// Ready reports an error only when the heartbeat store is unreachable.
// Sink outages degrade side channels, not the recorder.
func (f *Factory) Ready(ctx context.Context) error {
	healthErrors := f.HealthCheck(ctx)
	if err, ok := healthErrors["heartbeat_repository"]; ok {
		return fmt.Errorf("heartbeat_repository: %w", err)
	}

	names := make([]string, 0, len(healthErrors))
	for name := range healthErrors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		util.Warn("Dependency unhealthy", util.String("component", name), util.ErrorField(healthErrors[name]))
	}
	return nil
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	return len(f.HealthCheck(ctx)) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.throttle != nil {
			f.throttle.Wait()
		}

		// Drain in-flight sink publishes before their clients go away.
		if f.serviceFactory != nil {
			f.serviceFactory.Cleanup()
			util.Info("Service factory cleaned up")
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
			util.Info("Elasticsearch client closed")
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.heartbeatRepository != nil {
			if err := f.heartbeatRepository.Close(); err != nil {
				util.Error("Failed to close heartbeat repository", util.ErrorField(err))
			}
		}

		if f.stateStore != nil {
			if err := f.stateStore.Close(); err != nil {
				util.Error("Failed to close keep-alive state store", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}
