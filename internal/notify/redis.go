package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes outcomes on a per-requester pub/sub channel. The
// conversational front-end subscribes to its users' channels and
// renders the reply; a missed publish is logged here, not retried.
type RedisSink struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

func NewRedisSink(client *redis.Client, channelPrefix string, logger *slog.Logger) *RedisSink {
	if channelPrefix == "" {
		channelPrefix = "vidbot:notify:"
	}
	return &RedisSink{client: client, prefix: channelPrefix, logger: logger}
}

func (s *RedisSink) Deliver(ctx context.Context, requester string, outcome Outcome) {
	payload, err := json.Marshal(outcome)
	if err != nil {
		s.logger.Error("notify: marshal outcome failed",
			"job_id", outcome.JobID.String(), "error", err.Error())
		return
	}

	channel := s.prefix + requester
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		s.logger.Error("notify: publish failed",
			"channel", channel,
			"job_id", outcome.JobID.String(),
			"error", err.Error(),
		)
	}
}
