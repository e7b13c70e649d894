/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Default TTL values for cached catalog reads.
const (
	DefaultTrackTTL      = 1 * time.Hour
	DefaultPlaylistTTL   = 10 * time.Minute
	DefaultCommercialTTL = 15 * time.Minute
	DefaultFallbackTTL   = 15 * time.Minute
)

// Key prefixes for Redis.
const (
	keyTrack       = "conductor:cache:track:"    // + track_id
	keyPlaylist    = "conductor:cache:playlist:" // + playlist_id
	keyCommercials = "conductor:cache:commercials"
	keyFallback    = "conductor:cache:fallback:" // + weekday
)

// CacheConfig contains cache configuration.
type CacheConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TrackTTL      time.Duration
	PlaylistTTL   time.Duration
	CommercialTTL time.Duration
	FallbackTTL   time.Duration
}

// DefaultCacheConfig returns default cache configuration.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		RedisAddr:     "localhost:6379",
		TrackTTL:      DefaultTrackTTL,
		PlaylistTTL:   DefaultPlaylistTTL,
		CommercialTTL: DefaultCommercialTTL,
		FallbackTTL:   DefaultFallbackTTL,
	}
}

// Cached wraps a Catalog with a Redis read-through cache. When Redis is
// unavailable the wrapper disables itself and every call falls through to
// the inner catalog.
type Cached struct {
	inner  Catalog
	client *redis.Client
	config CacheConfig
	logger zerolog.Logger

	mu       sync.RWMutex
	disabled bool
}

// NewCached creates a cached catalog. A failed Redis ping does not fail
// construction; caching is simply disabled.
func NewCached(inner Catalog, cfg CacheConfig, logger zerolog.Logger) *Cached {
	c := &Cached{
		inner:  inner,
		config: cfg,
		logger: logger.With().Str("component", "catalog-cache").Logger(),
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("Redis unavailable, catalog caching disabled")
		c.disabled = true
		return c
	}

	c.client = client
	c.logger.Info().Str("addr", cfg.RedisAddr).Msg("catalog cache initialized")
	return c
}

// Close releases the Redis connection.
func (c *Cached) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Cached) isDisabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.disabled
}

func (c *Cached) disable(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.disabled {
		c.logger.Warn().Err(err).Msg("Redis error, catalog caching disabled")
		c.disabled = true
	}
}

func (c *Cached) get(ctx context.Context, key string, out any) bool {
	if c.isDisabled() {
		return false
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		c.disable(err)
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false
	}
	return true
}

func (c *Cached) set(ctx context.Context, key string, val any, ttl time.Duration) {
	if c.isDisabled() {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.disable(err)
	}
}

// GetTrack returns a cached descriptor or falls through to the catalog.
func (c *Cached) GetTrack(ctx context.Context, id string) (*Track, error) {
	var track Track
	if c.get(ctx, keyTrack+id, &track) {
		return &track, nil
	}
	fetched, err := c.inner.GetTrack(ctx, id)
	if err != nil {
		return nil, err
	}
	c.set(ctx, keyTrack+id, fetched, c.config.TrackTTL)
	return fetched, nil
}

// GetPlaylistTrackIDs returns cached playlist contents or falls through.
func (c *Cached) GetPlaylistTrackIDs(ctx context.Context, playlistID string) ([]string, error) {
	var ids []string
	if c.get(ctx, keyPlaylist+playlistID, &ids) {
		return ids, nil
	}
	fetched, err := c.inner.GetPlaylistTrackIDs(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	c.set(ctx, keyPlaylist+playlistID, fetched, c.config.PlaylistTTL)
	return fetched, nil
}

// GetCommercialIDs returns the cached commercial pool or falls through.
func (c *Cached) GetCommercialIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if c.get(ctx, keyCommercials, &ids) {
		return ids, nil
	}
	fetched, err := c.inner.GetCommercialIDs(ctx)
	if err != nil {
		return nil, err
	}
	c.set(ctx, keyCommercials, fetched, c.config.CommercialTTL)
	return fetched, nil
}

// GetScheduleOverride is never cached: slot overrides are consulted once per
// 10-minute boundary and staleness there means wrong content for the venue.
func (c *Cached) GetScheduleOverride(ctx context.Context, date string, slot int) (string, bool, error) {
	return c.inner.GetScheduleOverride(ctx, date, slot)
}

// GetFallbackPlaylistID returns the cached weekday fallback or falls through.
func (c *Cached) GetFallbackPlaylistID(ctx context.Context, weekday time.Weekday) (string, error) {
	key := keyFallback + weekday.String()
	var id string
	if c.get(ctx, key, &id) {
		return id, nil
	}
	fetched, err := c.inner.GetFallbackPlaylistID(ctx, weekday)
	if err != nil {
		return "", err
	}
	c.set(ctx, key, fetched, c.config.FallbackTTL)
	return fetched, nil
}

// ListPlaylistIDs always falls through: it is only consulted on the last
// resort resolution path.
func (c *Cached) ListPlaylistIDs(ctx context.Context) ([]string, error) {
	return c.inner.ListPlaylistIDs(ctx)
}
