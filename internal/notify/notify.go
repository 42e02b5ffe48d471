// Package notify delivers ingestion progress events to interested
// clients over Redis pub/sub.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/mserrat/docser/internal/rag/ingest"
)

// Channel is the pub/sub channel progress events are published on.
const Channel = "docser:progress"

// publisher is the slice of the Redis client used for publishing.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Progress publishes pipeline stage events. Subscribers are external;
// nobody waits on delivery.
type Progress struct {
	client  publisher
	channel string
	logger  *log.Logger
}

// New builds a Progress notifier on the default channel.
func New(client *redis.Client) *Progress {
	return &Progress{
		client:  client,
		channel: Channel,
		logger:  log.New(log.Writer(), "[notify] ", log.LstdFlags),
	}
}

// Notify publishes one stage event as JSON.
func (p *Progress) Notify(ctx context.Context, event ingest.Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish progress event: %w", err)
	}
	return nil
}

// Subscribe returns a pub/sub subscription on the progress channel. The
// caller owns closing it.
func Subscribe(ctx context.Context, client *redis.Client) *redis.PubSub {
	return client.Subscribe(ctx, Channel)
}

var _ ingest.Notifier = (*Progress)(nil)
