package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"nepse-simulator/internal/logging"
	"nepse-simulator/internal/models"
)

// RedisPublisher mirrors the latest market state into Redis for external
// readers. It is registered as an engine observer; write failures are
// logged and never propagated into the simulation. After repeated failures
// the observer hooks stop writing until the breaker cooldown has passed.
type RedisPublisher struct {
	rdb     *redis.Client
	ttl     time.Duration
	timeout time.Duration
	breaker *Breaker
	logger  zerolog.Logger
}

// NewRedisPublisher creates a publisher writing keys with the given TTL.
func NewRedisPublisher(rdb *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{
		rdb:     rdb,
		ttl:     ttl,
		timeout: 2 * time.Second,
		breaker: NewBreaker(3, 30*time.Second),
		logger:  logging.WithComponent(logger, "redis"),
	}
}

// Ping checks the connection, retrying with backoff.
func Ping(ctx context.Context, rdb *redis.Client, cfg RetryConfig) error {
	return Retry(ctx, cfg, func() error {
		return rdb.Ping(ctx).Err()
	})
}

// Breaker returns the breaker guarding the observer hooks.
func (p *RedisPublisher) Breaker() *Breaker {
	return p.breaker
}

// MarketHeader is the status record stored under the status key.
type MarketHeader struct {
	Date        string                 `json:"date"`
	Day         int                    `json:"day"`
	Minute      int                    `json:"minute"`
	Session     models.SessionPhase    `json:"session"`
	State       models.SimulationState `json:"state"`
	Instruments int                    `json:"instruments"`
	Advancing   int                    `json:"advancing"`
	Declining   int                    `json:"declining"`
	Unchanged   int                    `json:"unchanged"`
	TotalVolume int64                  `json:"total_volume"`
}

func headerOf(state models.MarketState) MarketHeader {
	adv, dec, unch := state.Breadth()
	return MarketHeader{
		Date:        state.Date.Format(models.DateLayout),
		Day:         state.Day,
		Minute:      state.Minute,
		Session:     state.Session,
		State:       state.State,
		Instruments: len(state.Instruments),
		Advancing:   adv,
		Declining:   dec,
		Unchanged:   unch,
		TotalVolume: state.TotalVolume(),
	}
}

// OnPriceUpdate writes every quote and the market header.
func (p *RedisPublisher) OnPriceUpdate(state models.MarketState) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	err := p.breaker.Do(func() error { return p.PublishState(ctx, state) })
	p.logFailure(err, "Failed to publish market state")
}

// OnSessionClose writes the closing state and announces the close.
func (p *RedisPublisher) OnSessionClose(state models.MarketState) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	err := p.breaker.Do(func() error {
		if err := p.PublishState(ctx, state); err != nil {
			return err
		}
		data, err := json.Marshal(headerOf(state))
		if err != nil {
			return err
		}
		return p.rdb.Publish(ctx, sessionChannel, data).Err()
	})
	p.logFailure(err, "Failed to publish session close")
}

func (p *RedisPublisher) logFailure(err error, msg string) {
	switch {
	case err == nil:
	case errors.Is(err, ErrBreakerOpen):
		p.logger.Debug().Msg("Redis breaker open, skipping publish")
	default:
		p.logger.Warn().Err(err).Str("breaker", string(p.breaker.State())).Msg(msg)
	}
}

// PublishState writes quotes and the header in one pipeline.
func (p *RedisPublisher) PublishState(ctx context.Context, state models.MarketState) error {
	pipe := p.rdb.Pipeline()
	for symbol, st := range state.Instruments {
		data, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("failed to encode quote %s: %w", symbol, err)
		}
		pipe.Set(ctx, quoteKey(symbol), data, p.ttl)
	}
	header, err := json.Marshal(headerOf(state))
	if err != nil {
		return fmt.Errorf("failed to encode market header: %w", err)
	}
	pipe.Set(ctx, statusKey, header, p.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// PublishSummary stores an analysis result for date under kind.
func (p *RedisPublisher) PublishSummary(ctx context.Context, kind string, date time.Time, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", kind, err)
	}
	return p.rdb.Set(ctx, analysisKey(kind, date), data, p.ttl).Err()
}

// Quote reads a cached quote.
func (p *RedisPublisher) Quote(ctx context.Context, symbol string) (models.InstrumentState, error) {
	var st models.InstrumentState
	data, err := p.rdb.Get(ctx, quoteKey(symbol)).Bytes()
	if err != nil {
		return st, err
	}
	err = json.Unmarshal(data, &st)
	return st, err
}

// Header reads the cached market header.
func (p *RedisPublisher) Header(ctx context.Context) (MarketHeader, error) {
	var h MarketHeader
	data, err := p.rdb.Get(ctx, statusKey).Bytes()
	if err != nil {
		return h, err
	}
	err = json.Unmarshal(data, &h)
	return h, err
}

const (
	statusKey      = "nepse:status"
	sessionChannel = "nepse:session_close"
)

func quoteKey(symbol string) string { return fmt.Sprintf("nepse:quote:%s", symbol) }
func analysisKey(kind string, date time.Time) string {
	return fmt.Sprintf("nepse:analysis:%s:%s", kind, date.Format(models.DateLayout))
}
