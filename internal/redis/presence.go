// Package redis mirrors room membership to Redis so operators can inspect
// who is connected without touching the relay. The relay routes from
// memory only; nothing here is read back on the hot path.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mossy-p/coderoom/config"
	"github.com/mossy-p/coderoom/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

const roomTTL = 24 * time.Hour

func peersKey(roomID string) string   { return "room:" + roomID + ":peers" }
func membersKey(roomID string) string { return "room:" + roomID + ":members" }

// Presence implements rooms.PresenceMirror on top of a Redis client.
type Presence struct {
	client *redis.Client
	logger *slog.Logger
}

// Connect dials Redis and checks the connection.
func Connect(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*Presence, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return New(client, logger), nil
}

func New(client *redis.Client, logger *slog.Logger) *Presence {
	if logger == nil {
		logger = slog.Default()
	}
	return &Presence{client: client, logger: logger.With("component", "presence")}
}

func (p *Presence) Joined(ctx context.Context, roomID string, m models.Member) error {
	record, err := msgpack.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode member: %w", err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, peersKey(roomID), m.ConnectionID)
		pipe.HSet(ctx, membersKey(roomID), m.ConnectionID, record)
		pipe.Expire(ctx, peersKey(roomID), roomTTL)
		pipe.Expire(ctx, membersKey(roomID), roomTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mirror join %s/%s: %w", roomID, m.ConnectionID, err)
	}
	return nil
}

func (p *Presence) Left(ctx context.Context, roomID, connectionID string) error {
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, peersKey(roomID), connectionID)
		pipe.HDel(ctx, membersKey(roomID), connectionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mirror leave %s/%s: %w", roomID, connectionID, err)
	}
	return nil
}

// Members returns the mirrored roster of roomID sorted by connection id.
// Records that fail to decode are skipped.
func (p *Presence) Members(ctx context.Context, roomID string) ([]models.Member, error) {
	records, err := p.client.HGetAll(ctx, membersKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read members of %s: %w", roomID, err)
	}

	members := make([]models.Member, 0, len(records))
	for connID, raw := range records {
		var m models.Member
		if err := msgpack.Unmarshal([]byte(raw), &m); err != nil {
			p.logger.Warn("skipping undecodable member", "room", roomID, "connection", connID, "error", err)
			continue
		}
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ConnectionID < members[j].ConnectionID })
	return members, nil
}

// Count returns the number of mirrored peers in roomID.
func (p *Presence) Count(ctx context.Context, roomID string) (int64, error) {
	n, err := p.client.SCard(ctx, peersKey(roomID)).Result()
	if err != nil {
		return 0, fmt.Errorf("count peers of %s: %w", roomID, err)
	}
	return n, nil
}

// Close closes the Redis connection
func (p *Presence) Close() error {
	return p.client.Close()
}
