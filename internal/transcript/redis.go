package transcript

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamName is the Redis stream transcript chunks are appended to.
const StreamName = "moshi_transcripts"

// RedisSink appends every chunk to a Redis stream, tagged with the
// conversation it belongs to and its position in that conversation.
type RedisSink struct {
	client         *redis.Client
	conversationID string
	seq            atomic.Int64
}

func NewRedisSink(client *redis.Client, conversationID string) *RedisSink {
	return &RedisSink{client: client, conversationID: conversationID}
}

func (s *RedisSink) WriteText(ctx context.Context, text string) error {
	seq := s.seq.Add(1)
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamName,
		Values: map[string]any{
			"conversationID": s.conversationID,
			"seq":            seq,
			"text":           text,
			"at":             time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append transcript chunk %d to %s: %w", seq, StreamName, err)
	}
	return nil
}

var _ Sink = (*RedisSink)(nil)
