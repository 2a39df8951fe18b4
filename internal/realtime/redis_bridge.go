package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/restaurant-waitlist/internal/model"
)

// ChannelPrefix prefixes the Redis channel of every restaurant.
const ChannelPrefix = "waitlist:restaurant:"

// ChannelFor returns the Redis channel carrying a restaurant's snapshots.
func ChannelFor(restaurantID string) string { return ChannelPrefix + restaurantID }

// RedisBridge publishes snapshots to Redis and relays every snapshot seen
// on Redis, including this instance's own, into the local hub.
type RedisBridge struct {
	rdb redis.UniversalClient
	hub *Hub
}

// NewRedisBridge returns a bridge between rdb and hub.
func NewRedisBridge(rdb redis.UniversalClient, hub *Hub) *RedisBridge {
	return &RedisBridge{rdb: rdb, hub: hub}
}

// Publish sends the snapshot to the restaurant's Redis channel.  When Redis
// is unreachable the snapshot is delivered to local viewers directly and
// the error is returned for logging.
func (b *RedisBridge) Publish(ctx context.Context, snap model.Snapshot) error {
	ev := NewEvent(snap)
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.rdb.Publish(ctx, ChannelFor(snap.Restaurant.ID), string(payload)).Err(); err != nil {
		b.hub.Deliver(ctx, snap.Restaurant.ID, ev)
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run relays Redis messages to the hub until ctx is cancelled, re-subscribing
// after connection failures.
func (b *RedisBridge) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := b.subscribe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("realtime-bridge: subscription ended: %v; retrying in %s", err, backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (b *RedisBridge) subscribe(ctx context.Context) error {
	sub := b.rdb.PSubscribe(ctx, ChannelPrefix+"*")
	defer func() { _ = sub.Close() }()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("channel closed")
			}
			if err := b.relay(ctx, msg); err != nil {
				log.Printf("realtime-bridge: %v", err)
			}
		}
	}
}

func (b *RedisBridge) relay(ctx context.Context, msg *redis.Message) error {
	restaurantID := strings.TrimPrefix(msg.Channel, ChannelPrefix)
	if restaurantID == "" || restaurantID == msg.Channel {
		return fmt.Errorf("unexpected channel %q", msg.Channel)
	}
	var ev Event
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		return fmt.Errorf("decode event on %s: %w", msg.Channel, err)
	}
	b.hub.Deliver(ctx, restaurantID, ev)
	return nil
}
