package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"nepse-simulator/internal/models"
)

func sampleState() models.MarketState {
	return models.MarketState{
		Date:    time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		Day:     12,
		Minute:  300,
		Session: models.SessionClosed,
		State:   models.StateRunning,
		Instruments: map[string]models.InstrumentState{
			"NABIL": {Symbol: "NABIL", Price: 510, PrevClose: 500, Volume: 100},
			"NTC":   {Symbol: "NTC", Price: 890, PrevClose: 900, Volume: 50},
			"SHL":   {Symbol: "SHL", Price: 300, PrevClose: 300, Volume: 0},
		},
	}
}

func TestHeaderOf(t *testing.T) {
	h := headerOf(sampleState())
	if h.Date != "2024-03-04" || h.Day != 12 || h.Instruments != 3 {
		t.Errorf("header = %+v", h)
	}
	if h.Advancing != 1 || h.Declining != 1 || h.Unchanged != 1 || h.TotalVolume != 150 {
		t.Errorf("breadth = %+v", h)
	}
	if quoteKey("NABIL") != "nepse:quote:NABIL" {
		t.Errorf("quote key = %s", quoteKey("NABIL"))
	}
	if k := analysisKey("summary", time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)); k != "nepse:analysis:summary:2024-03-04" {
		t.Errorf("analysis key = %s", k)
	}
}

func TestPublisherSwallowsUnreachableRedis(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	p := NewRedisPublisher(rdb, time.Minute, zerolog.Nop())
	// Observer hooks log and return.
	p.OnPriceUpdate(sampleState())
	p.OnSessionClose(sampleState())

	if err := p.PublishState(context.Background(), sampleState()); err == nil {
		t.Error("expected error from unreachable server")
	}

	p.OnPriceUpdate(sampleState())
	if p.Breaker().State() != BreakerOpen {
		t.Errorf("breaker = %s after repeated failures", p.Breaker().State())
	}
	p.OnPriceUpdate(sampleState())
	if p.Breaker().Rejected() == 0 {
		t.Error("expected the open breaker to skip publishing")
	}

	cfg := RetryConfig{Attempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Factor: 1}
	if err := Ping(context.Background(), rdb, cfg); err == nil {
		t.Error("expected ping to fail")
	}
}

// Runs against a live server when NEPSE_TEST_REDIS is set (host:port).
func TestPublisherLive(t *testing.T) {
	addr := os.Getenv("NEPSE_TEST_REDIS")
	if addr == "" {
		t.Skip("NEPSE_TEST_REDIS not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	ctx := context.Background()

	p := NewRedisPublisher(rdb, time.Minute, zerolog.Nop())
	if err := p.PublishState(ctx, sampleState()); err != nil {
		t.Fatal(err)
	}
	q, err := p.Quote(ctx, "NABIL")
	if err != nil || q.Price != 510 {
		t.Errorf("quote = %+v, %v", q, err)
	}
	h, err := p.Header(ctx)
	if err != nil || h.Day != 12 {
		t.Errorf("header = %+v, %v", h, err)
	}
	if err := p.PublishSummary(ctx, "summary", sampleState().Date, map[string]int{"advancing": 1}); err != nil {
		t.Error(err)
	}
}
