package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"keepalive-service/internal/config"
	"keepalive-service/internal/repository"
	"keepalive-service/internal/util"
)

// Statements holds the CQL used by the heartbeat repository.
// Queries are built per call because a *gocql.Query is not safe for concurrent reuse.
type Statements struct {
	InsertHeartbeat     string
	InsertHeartbeatByID string
	ListHeartbeats      string
	GetHeartbeatKey     string
	DeleteHeartbeat     string
	DeleteHeartbeatByID string
}

var heartbeatStatements = Statements{
	InsertHeartbeat: `
        INSERT INTO heartbeats (kind, created_at, id, source, client_timestamp)
        VALUES (?, ?, ?, ?, ?)`,
	InsertHeartbeatByID: `
        INSERT INTO heartbeats_by_id (id, kind, created_at) VALUES (?, ?, ?)`,
	ListHeartbeats: `
        SELECT id, created_at, kind, source, client_timestamp
        FROM heartbeats WHERE kind = ?`,
	GetHeartbeatKey: `
        SELECT kind, created_at FROM heartbeats_by_id WHERE id = ?`,
	DeleteHeartbeat: `
        DELETE FROM heartbeats WHERE kind = ? AND created_at = ? AND id = ?`,
	DeleteHeartbeatByID: `
        DELETE FROM heartbeats_by_id WHERE id = ?`,
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS heartbeats (
        kind text,
        created_at timestamp,
        id text,
        source text,
        client_timestamp text,
        PRIMARY KEY ((kind), created_at, id)
    ) WITH CLUSTERING ORDER BY (created_at DESC, id DESC)`,
	`CREATE TABLE IF NOT EXISTS heartbeats_by_id (
        id text PRIMARY KEY,
        kind text,
        created_at timestamp
    )`,
}

type ScyllaClient struct {
	Session    *gocql.Session
	config     *config.ScyllaConfig
	Statements Statements
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 2
	cluster.SocketKeepalive = 30 * time.Second
	cluster.PageSize = 500
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.UseTLS {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 util.GetEnv("SCYLLA_TLS_CA_FILE", "/app/certs/ca.pem"),
			CertPath:               util.GetEnv("SCYLLA_TLS_CERT_FILE", "/app/certs/scylla.pem"),
			KeyPath:                util.GetEnv("SCYLLA_TLS_KEY_FILE", "/app/certs/scylla.key"),
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session:    session,
		config:     &scyllaConfig,
		Statements: heartbeatStatements,
	}

	if err := client.EnsureSchema(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to ensure heartbeat schema: %w", err)
	}

	logger.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

// EnsureSchema creates the heartbeat tables in the configured keyspace.
func (s *ScyllaClient) EnsureSchema() error {
	for _, stmt := range schemaStatements {
		if err := s.ExecuteWithRetry(s.Session.Query(stmt), 2); err != nil {
			return err
		}
	}
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(ctx context.Context, stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...).WithContext(ctx)
}

func (s *ScyllaClient) Batch(ctx context.Context, typ gocql.BatchType) *gocql.Batch {
	return s.Session.NewBatch(typ).WithContext(ctx)
}

func (s *ScyllaClient) ExecuteBatch(batch *gocql.Batch) error {
	return s.Session.ExecuteBatch(batch)
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		err := query.Scan(dest...)
		if err == nil {
			return nil
		}
		if errors.Is(err, gocql.ErrNotFound) {
			return repository.ErrNotFound
		}
		lastErr = err
		if i < 2 {
			time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
		}
	}
	return lastErr
}
