package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/config"
)

// activeSessionTTL bounds how long a crashed client stays listed as active.
const activeSessionTTL = 6 * time.Hour

// Publisher fans session events out over Redis Pub/Sub.
type Publisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewPublisher creates a Publisher. A nil client yields a no-op publisher.
func NewPublisher(rdb *redis.Client, log zerolog.Logger) *Publisher {
	return &Publisher{
		rdb: rdb,
		log: log.With().Str("component", "monitor").Logger(),
	}
}

// Publish sends ev to exam:<session>:monitor and maintains the active set.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	if p == nil || p.rdb == nil {
		return nil
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal monitor event: %w", err)
	}

	pipe := p.rdb.Pipeline()
	pipe.Publish(ctx, config.MonitorKey.SessionChannel(ev.SessionID), data)
	switch ev.Type {
	case EventStarted:
		pipe.SAdd(ctx, config.MonitorKey.ActiveSessionsKey(), ev.SessionID)
		pipe.Expire(ctx, config.MonitorKey.ActiveSessionsKey(), activeSessionTTL)
	case EventCompleted, EventFailed:
		pipe.SRem(ctx, config.MonitorKey.ActiveSessionsKey(), ev.SessionID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish monitor event: %w", err)
	}

	p.log.Debug().
		Str("session_id", ev.SessionID).
		Str("type", string(ev.Type)).
		Msg("Monitor event published")
	return nil
}

// ActiveSessions lists sessions that started and have not yet finished.
func (p *Publisher) ActiveSessions(ctx context.Context) ([]string, error) {
	if p == nil || p.rdb == nil {
		return nil, nil
	}
	ids, err := p.rdb.SMembers(ctx, config.MonitorKey.ActiveSessionsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return ids, nil
}

// Subscribe opens a Pub/Sub subscription on a session's monitor channel.
// Returns nil when Redis is not configured.
func (p *Publisher) Subscribe(ctx context.Context, sessionID string) *redis.PubSub {
	if p == nil || p.rdb == nil {
		return nil
	}
	return p.rdb.Subscribe(ctx, config.MonitorKey.SessionChannel(sessionID))
}
