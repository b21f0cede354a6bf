// Package pubsub carries live frames and recording notices over Redis
// pub/sub between the capture agent and observer processes.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/invigil/capture/internal/domain"
)

// RecordingsChannel carries {location, checksum} notices after uploads.
const RecordingsChannel = "proctor:recordings"

type RecordingNotice struct {
	SessionID   domain.SessionID `json:"session_id"`
	DisplayName string           `json:"display_name"`
	Location    string           `json:"location"`
	Checksum    string           `json:"checksum"`
	StoredAt    time.Time        `json:"stored_at"`
}

// Redis implements core.Publisher and core.Subscriber on one client.
type Redis struct {
	rdb *redis.Client
}

func New(addr, password string, db int) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{rdb: rdb}, nil
}

func (r *Redis) Close() error { return r.rdb.Close() }

func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	return r.rdb.Publish(ctx, channel, payload).Err()
}

// Subscribe delivers matching messages until ctx is cancelled. Handler runs
// on the subscriber goroutine; keep it fast or hand off.
func (r *Redis) Subscribe(ctx context.Context, pattern string, onMessage func(channel string, payload []byte)) error {
	sub := r.rdb.PSubscribe(ctx, pattern)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription %q closed", pattern)
			}
			onMessage(msg.Channel, []byte(msg.Payload))
		}
	}
}

// RecordingNotifier publishes upload outcomes. Implements core.MetadataSink.
type RecordingNotifier struct {
	pub *Redis
}

func NewRecordingNotifier(pub *Redis) *RecordingNotifier {
	return &RecordingNotifier{pub: pub}
}

func (n *RecordingNotifier) RecordingStored(ctx context.Context, session domain.CaptureSession, location, checksum string) error {
	payload, err := json.Marshal(RecordingNotice{
		SessionID:   session.ID,
		DisplayName: session.DisplayName,
		Location:    location,
		Checksum:    checksum,
		StoredAt:    time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := n.pub.Publish(ctx, RecordingsChannel, payload); err != nil {
		return fmt.Errorf("publish recording notice: %w", err)
	}
	log.Info().Str("module", "pubsub").Str("session", string(session.ID)).
		Str("location", location).Msg("recording notice published")
	return nil
}
