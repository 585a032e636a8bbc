package redis

import (
	"context"
	"fmt"

	"github.com/Zernach/chainequity-sub000/internal/domain/event"
	"github.com/redis/go-redis/v9"
)

// Stream publishes committed ledger events to per-token Redis Streams so
// downstream consumers (notifications, read replicas) can tail the log
// without polling postgres.
type Stream struct {
	client *redis.Client
}

func NewStream(url string) (*Stream, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Stream{client: client}, nil
}

// Publish appends the event to chainequity:events:<tokenID>. Stream IDs are
// Redis-assigned; consumers order by the sequence field.
func (s *Stream) Publish(ctx context.Context, ev event.LedgerEvent) error {
	key := fmt.Sprintf("chainequity:events:%s", ev.TokenID)
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]any{
			"sequence":   ev.Sequence,
			"event_type": string(ev.Type),
			"token_id":   ev.TokenID.String(),
			"payload":    string(ev.Payload),
			"created_at": ev.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000Z"),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", key, err)
	}
	return nil
}

func (s *Stream) Close() error {
	return s.client.Close()
}

func (s *Stream) Client() *redis.Client {
	return s.client
}
