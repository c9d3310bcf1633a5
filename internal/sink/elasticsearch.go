package sink

import (
	"context"

	"keepalive-service/internal/models"
)

// DocumentIndexer is the subset of client.ESClient the sink uses.
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, index, id string, document interface{}) error
}

// ElasticsearchSink indexes every heartbeat so history beyond the retention cap stays searchable.
type ElasticsearchSink struct {
	indexer DocumentIndexer
	index   string
}

func NewElasticsearchSink(indexer DocumentIndexer, index string) *ElasticsearchSink {
	return &ElasticsearchSink{indexer: indexer, index: index}
}

func (s *ElasticsearchSink) Name() string { return "elasticsearch" }

func (s *ElasticsearchSink) Publish(ctx context.Context, event models.HeartbeatEvent) error {
	return s.indexer.IndexDocument(ctx, s.index, event.ID, event)
}
