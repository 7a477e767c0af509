// Package redisbus publishes detection results over Redis so dashboards and
// alerting can follow a run without polling the history store.
package redisbus

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"

	"arbscan/internal/application/port"
	"arbscan/internal/domain/model"
)

type Publisher struct {
	rdb       *redis.Client
	channel   string // opportunity pub/sub channel
	stream    string // opportunity stream, replayable
	keyStatus string // latest supervisor status, plain SET
}

func New(rdb *redis.Client, channel string) *Publisher {
	if strings.TrimSpace(channel) == "" {
		channel = "arbscan:opportunities"
	}
	return &Publisher{
		rdb:       rdb,
		channel:   channel,
		stream:    channel + ":stream",
		keyStatus: "arbscan:last_status",
	}
}

func (p *Publisher) PublishOpportunity(ctx context.Context, opp *model.Opportunity) error {
	b, err := json.Marshal(opp)
	if err != nil {
		return err
	}

	// Stream first so a consumer subscribing late can replay.
	_, err = p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: 10_000,
		Approx: true,
		Values: map[string]any{
			"ts_ms":         opp.Timestamp,
			"profit_factor": opp.ProfitFactor,
			"payload":       string(b),
		},
	}).Result()
	if err != nil {
		return err
	}

	return p.rdb.Publish(ctx, p.channel, string(b)).Err()
}

func (p *Publisher) PublishStatus(ctx context.Context, state string, payload []byte) error {
	pipe := p.rdb.Pipeline()
	pipe.Set(ctx, p.keyStatus, string(payload), 0)
	pipe.Publish(ctx, p.channel+":status", string(payload))
	_, err := pipe.Exec(ctx)
	return err
}

func (p *Publisher) Close() error { return p.rdb.Close() }

var _ port.StatusPublisher = (*Publisher)(nil)
