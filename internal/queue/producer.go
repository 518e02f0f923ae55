package queue

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// ClientSource resolves the current Redis client. The holder swaps clients
// when its health loop reconnects, so callers look the client up per call
// instead of caching one.
type ClientSource interface {
	Get() redis.UniversalClient
}

type Producer struct {
	rc     ClientSource
	stream string
	maxLen int64
}

func NewProducer(rc ClientSource, stream string, maxLen int64) *Producer {
	return &Producer{rc: rc, stream: stream, maxLen: maxLen}
}

// Enqueue appends one job to the stream. The payload is just the photo
// record id; fire-and-forget beyond the broker's own durability.
func (p *Producer) Enqueue(ctx context.Context, photoID string) error {
	return p.rc.Get().XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Values: map[string]any{
			payloadField: photoID,
			attemptField: 0,
		},
	}).Err()
}
