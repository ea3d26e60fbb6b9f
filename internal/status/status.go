// Package status publishes transfer progress and state to Redis so an
// external dashboard or log aggregator can watch a transfer without parsing
// stdout. It is optional: callers that don't pass a Redis address never
// construct a Publisher.
package status

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publisher writes transfer state under a single hash key and publishes the
// same updates on a channel of the same name, mirroring the
// write-and-publish pattern used elsewhere for state reporting.
type Publisher struct {
	client *redis.Client
	ctx    context.Context
	key    string
}

// NewPublisher connects to addr and verifies it's reachable before
// returning, so a misconfigured Redis address fails fast instead of
// silently dropping every update later.
func NewPublisher(addr, key string) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("status: connect to redis at %s: %w", addr, err)
	}

	return &Publisher{client: client, ctx: ctx, key: key}, nil
}

// ReportState records a coarse transfer state (e.g. "connecting",
// "sending", "receiving", "complete", "failed").
func (p *Publisher) ReportState(state string) error {
	pipe := p.client.Pipeline()
	pipe.HSet(p.ctx, p.key, "state", state)
	pipe.Publish(p.ctx, p.key, fmt.Sprintf("state:%s", state))
	_, err := pipe.Exec(p.ctx)
	if err != nil {
		return fmt.Errorf("status: report state %q: %w", state, err)
	}
	return nil
}

// ReportProgress records the running byte counters of an in-flight
// transfer.
func (p *Publisher) ReportProgress(done, total int64) error {
	pipe := p.client.Pipeline()
	pipe.HSet(p.ctx, p.key, "bytes_done", done)
	pipe.HSet(p.ctx, p.key, "bytes_total", total)
	pipe.Publish(p.ctx, p.key, fmt.Sprintf("progress:%d/%d", done, total))
	_, err := pipe.Exec(p.ctx)
	if err != nil {
		return fmt.Errorf("status: report progress %d/%d: %w", done, total, err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}
