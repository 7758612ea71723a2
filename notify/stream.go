package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/teranos/courseforge/errors"
	"github.com/teranos/courseforge/metrics"
)

// DefaultStream is the redis stream events are appended to
const DefaultStream = "courseforge:events"

// StreamNotifier appends events to a redis stream for downstream consumers.
// A nil *StreamNotifier is a valid no-op, used when redis is not configured.
type StreamNotifier struct {
	client  redis.UniversalClient
	stream  string
	maxLen  int64
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewStreamNotifier returns nil when client is nil
func NewStreamNotifier(client redis.UniversalClient, stream string, maxLen int64, m *metrics.Metrics) *StreamNotifier {
	if client == nil {
		return nil
	}
	if stream == "" {
		stream = DefaultStream
	}
	return &StreamNotifier{client: client, stream: stream, maxLen: maxLen, metrics: m, now: time.Now}
}

func (s *StreamNotifier) NotifyJobComplete(ctx context.Context, owner string, job JobSummary) error {
	if s == nil {
		return nil
	}
	return s.publish(ctx, jobEvent(owner, job, s.now()))
}

func (s *StreamNotifier) NotifyBatchComplete(ctx context.Context, owner string, batch BatchSummary) error {
	if s == nil {
		return nil
	}
	return s.publish(ctx, batchEvent(owner, batch, s.now()))
}

func (s *StreamNotifier) publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"type":  ev.Type,
			"owner": ev.OwnerID,
			"event": string(payload),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		s.metrics.Notified("stream", "error")
		return errors.Wrapf(err, "publish to stream %s", s.stream)
	}
	s.metrics.Notified("stream", "ok")
	return nil
}
