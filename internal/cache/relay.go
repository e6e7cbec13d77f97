package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ruleta/internal/game"
)

const (
	roundChannelPrefix = "ruleta:round:"
	snapshotKeyPrefix  = "ruleta:snapshot:"

	snapshotTTL  = 30 * time.Second
	relayTimeout = time.Second
	relayBuffer  = 16
)

func RoundChannel(gameID string) string { return roundChannelPrefix + gameID }

func SnapshotKey(gameID string) string { return snapshotKeyPrefix + gameID }

type relayItem struct {
	gameID string
	data   []byte
}

// SnapshotRelay publishes clock snapshots to Redis so replicas without a
// clock can serve viewers, and keeps the latest one under a key.
type SnapshotRelay struct {
	client *redis.Client
	queue  chan relayItem
	log    *zap.Logger
}

func NewSnapshotRelay(client *redis.Client, log *zap.Logger) *SnapshotRelay {
	return &SnapshotRelay{
		client: client,
		queue:  make(chan relayItem, relayBuffer),
		log:    log.Named("relay"),
	}
}

// BroadcastSnapshot queues s for Run. It never blocks the clock; when Redis
// falls behind, snapshots are dropped.
func (r *SnapshotRelay) BroadcastSnapshot(gameID string, s game.Snapshot) {
	data, err := json.Marshal(s)
	if err != nil {
		r.log.Error("marshal snapshot", zap.Error(err))
		return
	}
	select {
	case r.queue <- relayItem{gameID: gameID, data: data}:
	default:
		r.log.Debug("relay queue full, dropping snapshot", zap.String("game_id", gameID))
	}
}

// Run writes queued snapshots until ctx is cancelled.
func (r *SnapshotRelay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-r.queue:
			if err := r.write(ctx, item); err != nil {
				r.log.Warn("relay snapshot", zap.String("game_id", item.gameID), zap.Error(err))
			}
		}
	}
}

func (r *SnapshotRelay) write(ctx context.Context, item relayItem) error {
	ctx, cancel := context.WithTimeout(ctx, relayTimeout)
	defer cancel()

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, SnapshotKey(item.gameID), item.data, snapshotTTL)
	pipe.Publish(ctx, RoundChannel(item.gameID), item.data)
	_, err := pipe.Exec(ctx)
	return err
}

// Latest returns the last relayed snapshot. ok is false when none is stored.
func (r *SnapshotRelay) Latest(ctx context.Context, gameID string) (game.Snapshot, bool, error) {
	data, err := r.client.Get(ctx, SnapshotKey(gameID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return game.EmptySnapshot(), false, nil
	}
	if err != nil {
		return game.EmptySnapshot(), false, fmt.Errorf("latest snapshot: %w", err)
	}
	var s game.Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return game.EmptySnapshot(), false, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, true, nil
}

// Subscribe feeds every snapshot published for gameID into sink until ctx is
// cancelled. It returns once the subscription is confirmed.
func (r *SnapshotRelay) Subscribe(ctx context.Context, gameID string, sink game.Broadcaster) error {
	sub := r.client.Subscribe(ctx, RoundChannel(gameID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("subscribe %s: %w", RoundChannel(gameID), err)
	}

	ch := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var s game.Snapshot
				if err := json.Unmarshal([]byte(msg.Payload), &s); err != nil {
					r.log.Warn("relay unmarshal", zap.Error(err))
					continue
				}
				sink.BroadcastSnapshot(gameID, s)
			}
		}
	}()
	return nil
}
