// Package cache stores complete answers in Redis so repeated questions skip
// the pipeline.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"digitaltwin/internal/domain"
	"digitaltwin/internal/metrics"
)

const keyPrefix = "twin:answer:"

// AnswerCache is a Redis-backed cache of pipeline responses. Every failure is
// logged and treated as a miss.
type AnswerCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

type Config struct {
	Address  string
	Password string
	DB       int
	TTL      time.Duration
	Logger   *slog.Logger
}

// New creates the client. It does not dial; use Ping to check reachability.
func New(cfg Config) *AnswerCache {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     10,
	})
	return &AnswerCache{client: rdb, ttl: cfg.TTL, logger: cfg.Logger}
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, ttl time.Duration, logger *slog.Logger) *AnswerCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnswerCache{client: client, ttl: ttl, logger: logger}
}

// Key derives the cache key for a request. Questions are compared trimmed
// and case-insensitively.
func Key(req domain.PipelineRequest) string {
	norm := strings.ToLower(strings.TrimSpace(req.Question))
	sum := sha256.Sum256([]byte(norm + "|" + strconv.FormatBool(req.Enhanced) + "|" + req.InterviewType))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Get returns the cached response, or false on a miss or any error.
func (c *AnswerCache) Get(ctx context.Context, req domain.PipelineRequest) (*domain.PipelineResponse, bool) {
	val, err := c.client.Get(ctx, Key(req)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.CacheLookups.WithLabelValues("miss").Inc()
		} else {
			metrics.CacheLookups.WithLabelValues("error").Inc()
			c.logger.Warn("answer cache read failed", "err", err)
		}
		return nil, false
	}

	var resp domain.PipelineResponse
	if err := json.Unmarshal(val, &resp); err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		c.logger.Warn("answer cache entry corrupt", "err", err)
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return &resp, true
}

// Set stores the response under the request key with the configured TTL.
func (c *AnswerCache) Set(ctx context.Context, req domain.PipelineRequest, resp *domain.PipelineResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Warn("answer cache encode failed", "err", err)
		return
	}
	if err := c.client.Set(ctx, Key(req), data, c.ttl).Err(); err != nil {
		c.logger.Warn("answer cache write failed", "err", err)
	}
}

// Ping tests the Redis connection.
func (c *AnswerCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (c *AnswerCache) Close() error {
	return c.client.Close()
}
