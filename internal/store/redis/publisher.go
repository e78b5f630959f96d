// Package redis publishes backtest progress and results to Redis so that
// dashboards and other services can follow a run. Every write goes through
// a CircuitBreaker: an unreachable server costs one timeout per probe,
// never one per bar.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"trading-backtestv1/internal/backtest"
	"trading-backtestv1/internal/model"
)

const (
	defaultStreamMaxLen = 10000
	defaultOpTimeout    = 2 * time.Second
	defaultResultTTL    = 7 * 24 * time.Hour
	runIndexKey         = "bt:runs"
)

// Config configures the Publisher.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int

	StreamMaxLen int64         // approximate MAXLEN for equity and fill streams
	EquityEvery  int           // publish every Nth equity point per strategy; <= 1 publishes all
	ResultTTL    time.Duration // expiry of run summary hashes; 0 keeps the default
	OpTimeout    time.Duration // per-command deadline

	MaxFailures  int           // consecutive failures before the breaker opens
	ResetTimeout time.Duration // open duration before a probe
}

func (c *Config) defaults() {
	if c.StreamMaxLen <= 0 {
		c.StreamMaxLen = defaultStreamMaxLen
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = defaultResultTTL
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = defaultOpTimeout
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 10 * time.Second
	}
}

// Key layout.
func EquityStream(strategy string) string { return "bt:equity:" + strategy }
func FillStream(strategy string) string   { return "bt:fills:" + strategy }
func EventChannel(strategy string) string { return "pub:bt:" + strategy }
func RunKey(runID string) string          { return "bt:run:" + runID }

// Stats counts publisher outcomes.
type Stats struct {
	Published int64
	Failed    int64
	Rejected  int64
}

// Publisher writes equity points and fills to Redis Streams, announces
// halts and run completion on a Pub/Sub channel, and stores each run's
// summary as a hash. It satisfies backtest.Recorder.
type Publisher struct {
	client *goredis.Client
	cb     *CircuitBreaker
	cfg    Config
	ctx    context.Context
	log    *zap.Logger

	mu         sync.Mutex
	equitySeen map[string]int
	stats      Stats
}

// New connects to Redis and pings it. ctx bounds the ping and every later
// write.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	p := NewWithClient(ctx, client, cfg, log)
	p.log.Info("connected", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return p, nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(ctx context.Context, client *goredis.Client, cfg Config, log *zap.Logger) *Publisher {
	cfg.defaults()
	if log == nil {
		log = zap.NewNop()
	}
	p := &Publisher{
		client:     client,
		cb:         NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout),
		cfg:        cfg,
		ctx:        ctx,
		log:        log.Named("redis"),
		equitySeen: make(map[string]int),
	}
	p.cb.OnStateChange = func(from, to State) {
		p.log.Warn("circuit breaker state change", zap.Stringer("from", from), zap.Stringer("to", to))
	}
	return p
}

// Client returns the underlying client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Breaker exposes the circuit breaker state.
func (p *Publisher) Breaker() *CircuitBreaker { return p.cb }

// Stats returns a snapshot of the publish counters.
func (p *Publisher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Rejected = int64(p.cb.Rejected())
	return s
}

// exec runs fn in a pipeline behind the breaker.
func (p *Publisher) exec(what string, fn func(ctx context.Context, pipe goredis.Pipeliner)) error {
	err := p.cb.Execute(func() error {
		ctx, cancel := context.WithTimeout(p.ctx, p.cfg.OpTimeout)
		defer cancel()
		pipe := p.client.Pipeline()
		fn(ctx, pipe)
		_, err := pipe.Exec(ctx)
		return err
	})

	p.mu.Lock()
	switch {
	case err == nil:
		p.stats.Published++
	case err != ErrCircuitOpen:
		p.stats.Failed++
	}
	p.mu.Unlock()

	if err != nil && err != ErrCircuitOpen {
		p.log.Debug("publish failed", zap.String("what", what), zap.Error(err))
	}
	return err
}

func (p *Publisher) xadd(ctx context.Context, pipe goredis.Pipeliner, stream string, data []byte) {
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		MaxLen: p.cfg.StreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	})
}

func event(kind string, data interface{}) string {
	b, _ := json.Marshal(struct {
		Type string      `json:"type"`
		Data interface{} `json:"data"`
	}{kind, data})
	return string(b)
}

func (p *Publisher) ObserveFill(strategy string, f model.Fill) {
	data, _ := json.Marshal(f)
	p.exec("fill", func(ctx context.Context, pipe goredis.Pipeliner) {
		p.xadd(ctx, pipe, FillStream(strategy), data)
		pipe.Publish(ctx, EventChannel(strategy), event("fill", f))
	})
}

func (p *Publisher) ObserveEquity(strategy string, pt model.EquityPoint) {
	if every := p.cfg.EquityEvery; every > 1 {
		p.mu.Lock()
		n := p.equitySeen[strategy]
		p.equitySeen[strategy] = n + 1
		p.mu.Unlock()
		if n%every != 0 {
			return
		}
	}
	data, _ := json.Marshal(pt)
	p.exec("equity", func(ctx context.Context, pipe goredis.Pipeliner) {
		p.xadd(ctx, pipe, EquityStream(strategy), data)
	})
}

func (p *Publisher) ObserveHalt(strategy, reason string) {
	p.exec("halt", func(ctx context.Context, pipe goredis.Pipeliner) {
		pipe.Publish(ctx, EventChannel(strategy), event("halt", map[string]string{"reason": reason}))
	})
}

func (p *Publisher) ObserveRun(strategy string, bars int, elapsed time.Duration, err error) {
	p.mu.Lock()
	delete(p.equitySeen, strategy)
	p.mu.Unlock()

	msg := map[string]interface{}{"bars": bars, "elapsed_ms": elapsed.Milliseconds()}
	if err != nil {
		msg["error"] = err.Error()
	}
	p.exec("run", func(ctx context.Context, pipe goredis.Pipeliner) {
		pipe.Publish(ctx, EventChannel(strategy), event("run", msg))
	})
}

// SummaryFields flattens a summary into hash fields.
func SummaryFields(s backtest.Summary) map[string]interface{} {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return map[string]interface{}{
		"run_id":       s.RunID,
		"strategy":     s.Strategy,
		"bars":         strconv.Itoa(s.Bars),
		"start_time":   strconv.FormatInt(s.StartTime, 10),
		"end_time":     strconv.FormatInt(s.EndTime, 10),
		"fills":        strconv.Itoa(s.Fills),
		"trades":       strconv.Itoa(s.Trades),
		"wins":         strconv.Itoa(s.Wins),
		"win_rate":     f(s.WinRate),
		"net_pnl":      f(s.NetPnL),
		"realized_pnl": f(s.RealizedPnL),
		"fees":         f(s.Fees),
		"final_equity": f(s.FinalEquity),
		"max_drawdown": f(s.MaxDrawdown),
		"sharpe":       f(s.Sharpe),
		"halts":        strconv.Itoa(s.Halts),
	}
}

// PublishResult stores the run summary under RunKey and indexes the run
// id in a sorted set scored by completion time.
func (p *Publisher) PublishResult(res *backtest.Result) error {
	key := RunKey(res.RunID)
	err := p.exec("result", func(ctx context.Context, pipe goredis.Pipeliner) {
		pipe.HSet(ctx, key, SummaryFields(res.Summary))
		pipe.Expire(ctx, key, p.cfg.ResultTTL)
		pipe.ZAdd(ctx, runIndexKey, &goredis.Z{Score: float64(time.Now().UnixMilli()), Member: res.RunID})
	})
	if err != nil {
		return fmt.Errorf("redis publish result %s: %w", res.RunID, err)
	}
	return nil
}

// Close closes the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

var _ backtest.Recorder = (*Publisher)(nil)
