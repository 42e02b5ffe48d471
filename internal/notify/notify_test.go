package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/mserrat/docser/internal/rag/ingest"
)

type fakePublisher struct {
	channel string
	message []byte
	err     error
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.message = message.([]byte)
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	}
	return cmd
}

func TestNotifyPublishesEventJSON(t *testing.T) {
	fake := &fakePublisher{}
	p := &Progress{client: fake, channel: Channel, logger: log.Default()}

	event := ingest.Event{JobID: "job-1", Filename: "sample.txt", Stage: "embedding", Chunks: 3}
	if err := p.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if fake.channel != Channel {
		t.Errorf("published on %q, want %q", fake.channel, Channel)
	}
	var got ingest.Event
	if err := json.Unmarshal(fake.message, &got); err != nil {
		t.Fatalf("decode published event: %v", err)
	}
	if got.JobID != "job-1" || got.Stage != "embedding" || got.Chunks != 3 {
		t.Errorf("unexpected event: %+v", got)
	}
}

func TestNotifyWrapsPublishError(t *testing.T) {
	fake := &fakePublisher{err: errors.New("connection refused")}
	p := &Progress{client: fake, channel: Channel, logger: log.Default()}

	err := p.Notify(context.Background(), ingest.Event{JobID: "job-1", Stage: "parsing"})
	if err == nil {
		t.Fatal("expected error")
	}
}
