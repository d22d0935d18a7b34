package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/upcguard/internal/core"
)

// Redis publishes progress events as JSON on a pub/sub channel. Each event
// goes to the shared channel and to "<channel>:<analysis id>" so clients
// can follow a single run.
type Redis struct {
	client  *redis.Client
	channel string
}

// NewRedis connects to addr and verifies the connection.
func NewRedis(ctx context.Context, addr, password string, db int, channel string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Redis{client: client, channel: channel}, nil
}

// RunChannel is the channel carrying the events of one analysis.
func (r *Redis) RunChannel(analysisID string) string {
	return r.channel + ":" + analysisID
}

func (r *Redis) Publish(ctx context.Context, ev core.ProgressEvent) error {
	msg, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}

	_, err = r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Publish(ctx, r.channel, msg)
		p.Publish(ctx, r.RunChannel(ev.AnalysisID), msg)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish progress event: %w", err)
	}
	return nil
}

// Subscribe follows the events of one analysis.
func (r *Redis) Subscribe(ctx context.Context, analysisID string) *redis.PubSub {
	return r.client.Subscribe(ctx, r.RunChannel(analysisID))
}

func (r *Redis) Close() error {
	return r.client.Close()
}
