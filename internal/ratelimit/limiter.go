// Package ratelimit throttles per-client request traffic on the
// communication server, adapted from the teacher's per-domain adaptive
// crawl limiter (engine/internal/ratelimit.AdaptiveRateLimiter): the same
// sharded token bucket plus circuit breaker, keyed by connection identity
// instead of outbound domain, so one misbehaving client (a subscribe/read
// loop gone tight) can't starve the others' requests on a shared Server.
package ratelimit

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while a client's circuit breaker is open.
var ErrCircuitOpen = errors.New("ratelimit: circuit open")

// Limiter is what comm.Server calls before handling a request.
type Limiter interface {
	Acquire(ctx context.Context, clientID string) (Permit, error)
	Feedback(clientID string, fb Feedback)
	Snapshot() LimiterSnapshot
	Close() error
}

// Permit is returned by a successful Acquire; callers release it once the
// request has been handled (a no-op today, kept for symmetry with
// resource-limited permits elsewhere in the pack).
type Permit interface{ Release() }

// Feedback reports how a request fared, so the limiter can back off a
// client that keeps sending malformed or erroring requests.
type Feedback struct {
	Err     error
	Latency time.Duration
}

// Config tunes the per-client token bucket and circuit breaker.
type Config struct {
	Enabled bool

	// Shards must be a power of two; 16 if unset.
	Shards int

	// RefillPerSecond and Burst define the starting token bucket; the
	// bucket's fill rate then adapts up on clean requests and down on
	// errors, same as the teacher's per-domain limiter.
	RefillPerSecond float64
	Burst           float64

	// ClientStateTTL is how long an idle client's state is kept before
	// the eviction loop reclaims it; 2 minutes if unset.
	ClientStateTTL time.Duration

	// CircuitFailureThreshold is consecutive failures before the
	// breaker opens; CircuitOpenDuration is how long it stays open
	// before probing again.
	CircuitFailureThreshold int
	CircuitOpenDuration     time.Duration
}

type LimiterSnapshot struct {
	TotalRequests    int64
	Throttled        int64
	Denied           int64
	OpenCircuits     int64
	HalfOpenCircuits int64
	Clients          []ClientSummary
}

type ClientSummary struct {
	ClientID     string
	FillRate     float64
	CircuitState string
	LastActivity time.Time
}

// ClientLimiter is the concrete Limiter, sharded by fnv hash of clientID.
type ClientLimiter struct {
	cfg       Config
	clock     Clock
	shards    []*clientShard
	mask      uint64
	metricsMu sync.Mutex
	metrics   LimiterSnapshot

	stopCh        chan struct{}
	evictWG       sync.WaitGroup
	evictInterval time.Duration
	stopOnce      sync.Once
}

type clientShard struct {
	mu      sync.RWMutex
	clients map[string]*clientState
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
	Sleep(time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

func New(cfg Config) *ClientLimiter {
	if cfg.Shards <= 0 || (cfg.Shards&(cfg.Shards-1)) != 0 {
		cfg.Shards = 16
	}
	if cfg.ClientStateTTL <= 0 {
		cfg.ClientStateTTL = 2 * time.Minute
	}
	if cfg.RefillPerSecond <= 0 {
		cfg.RefillPerSecond = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	if cfg.CircuitFailureThreshold <= 0 {
		cfg.CircuitFailureThreshold = 5
	}
	if cfg.CircuitOpenDuration <= 0 {
		cfg.CircuitOpenDuration = 5 * time.Second
	}
	shards := make([]*clientShard, cfg.Shards)
	for i := range shards {
		shards[i] = &clientShard{clients: make(map[string]*clientState)}
	}
	interval := cfg.ClientStateTTL / 2
	if interval <= 0 {
		interval = time.Minute
	}
	l := &ClientLimiter{
		cfg: cfg, clock: realClock{}, shards: shards,
		mask: uint64(cfg.Shards - 1), stopCh: make(chan struct{}), evictInterval: interval,
	}
	l.startEvictionLoop()
	return l
}

func (l *ClientLimiter) WithClock(clock Clock) *ClientLimiter {
	if clock != nil {
		l.clock = clock
	}
	return l
}

func (l *ClientLimiter) shardIndex(clientID string) uint64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(clientID))
	return uint64(h.Sum32()) & l.mask
}

func (l *ClientLimiter) getOrCreate(clientID string) *clientState {
	shard := l.shards[l.shardIndex(clientID)]
	shard.mu.RLock()
	state := shard.clients[clientID]
	shard.mu.RUnlock()
	if state != nil {
		return state
	}
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if state = shard.clients[clientID]; state == nil {
		state = newClientState(l.cfg, l.clock.Now())
		shard.clients[clientID] = state
	}
	return state
}

func (l *ClientLimiter) withMetrics(mutate func(*LimiterSnapshot)) {
	l.metricsMu.Lock()
	mutate(&l.metrics)
	l.metricsMu.Unlock()
}

// Acquire blocks (respecting ctx) until clientID has a token, or returns
// ErrCircuitOpen if that client's breaker has tripped.
func (l *ClientLimiter) Acquire(ctx context.Context, clientID string) (Permit, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !l.cfg.Enabled {
		return noopPermit{}, nil
	}
	state := l.getOrCreate(clientID)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		now := l.clock.Now()
		wait, err := state.planRequest(now)
		if err != nil {
			if errors.Is(err, ErrCircuitOpen) {
				l.withMetrics(func(m *LimiterSnapshot) { m.Denied++ })
			}
			return nil, err
		}
		if wait <= 0 {
			l.withMetrics(func(m *LimiterSnapshot) { m.TotalRequests++ })
			return noopPermit{}, nil
		}
		l.withMetrics(func(m *LimiterSnapshot) { m.Throttled++ })
		if !sleepWithContext(ctx, l.clock, wait) {
			return nil, ctx.Err()
		}
	}
}

// Feedback adjusts clientID's fill rate and circuit breaker based on how
// its last request fared.
func (l *ClientLimiter) Feedback(clientID string, fb Feedback) {
	if !l.cfg.Enabled {
		return
	}
	l.getOrCreate(clientID).applyFeedback(l.cfg, fb, l.clock.Now())
}

func (l *ClientLimiter) Snapshot() LimiterSnapshot {
	base := func() LimiterSnapshot { l.metricsMu.Lock(); defer l.metricsMu.Unlock(); return l.metrics }()
	var open, halfOpen int64
	var clients []ClientSummary
	for _, shard := range l.shards {
		shard.mu.RLock()
		for id, state := range shard.clients {
			state.mu.Lock()
			cs := "closed"
			switch state.breaker.state {
			case circuitOpen:
				cs = "open"
				open++
			case circuitHalfOpen:
				cs = "half-open"
				halfOpen++
			}
			clients = append(clients, ClientSummary{ClientID: id, FillRate: state.fillRate, CircuitState: cs, LastActivity: state.lastActivity})
			state.mu.Unlock()
		}
		shard.mu.RUnlock()
	}
	base.Clients = clients
	base.OpenCircuits = open
	base.HalfOpenCircuits = halfOpen
	return base
}

func (l *ClientLimiter) Close() error {
	l.stopOnce.Do(func() { close(l.stopCh); l.evictWG.Wait() })
	return nil
}

func (l *ClientLimiter) startEvictionLoop() { l.evictWG.Add(1); go l.evictLoop() }

func (l *ClientLimiter) evictLoop() {
	defer l.evictWG.Done()
	ticker := time.NewTicker(l.evictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictIdle()
		case <-l.stopCh:
			return
		}
	}
}

func (l *ClientLimiter) evictIdle() {
	now := l.clock.Now()
	for _, shard := range l.shards {
		shard.mu.Lock()
		for id, state := range shard.clients {
			state.mu.Lock()
			idle := now.Sub(state.lastActivity)
			state.mu.Unlock()
			if idle >= l.cfg.ClientStateTTL {
				delete(shard.clients, id)
			}
		}
		shard.mu.Unlock()
	}
}

type noopPermit struct{}

func (noopPermit) Release() {}

func sleepWithContext(ctx context.Context, clock Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

const (
	circuitClosed = iota
	circuitOpen
	circuitHalfOpen
)

type breakerState struct {
	state       int
	nextAttempt time.Time
	failures    int
	successes   int
}

type clientState struct {
	mu           sync.Mutex
	lastActivity time.Time
	fillRate     float64
	breaker      breakerState
	tokens       float64
	lastRefill   time.Time
}

func newClientState(cfg Config, now time.Time) *clientState {
	return &clientState{lastActivity: now, fillRate: cfg.RefillPerSecond, tokens: cfg.Burst, lastRefill: now}
}

func (s *clientState) planRequest(now time.Time) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
	if s.breaker.state == circuitOpen {
		if now.After(s.breaker.nextAttempt) {
			s.breaker.state = circuitHalfOpen
		} else {
			return 0, ErrCircuitOpen
		}
	}
	elapsed := now.Sub(s.lastRefill).Seconds()
	if elapsed > 0 {
		s.tokens += elapsed * s.fillRate
		if s.tokens > s.fillRate {
			s.tokens = s.fillRate
		}
		s.lastRefill = now
	}
	if s.tokens >= 1 {
		s.tokens--
		return 0, nil
	}
	wait := (1 - s.tokens) / math.Max(s.fillRate, 0.1)
	return time.Duration(wait * float64(time.Second)), nil
}

func (s *clientState) applyFeedback(cfg Config, fb Feedback, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
	if fb.Err != nil {
		s.fillRate *= 0.8
		if s.fillRate < 1 {
			s.fillRate = 1
		}
		s.breaker.failures++
	} else {
		s.fillRate *= 1.05
		if s.fillRate > cfg.Burst*2 {
			s.fillRate = cfg.Burst * 2
		}
		if s.breaker.state == circuitHalfOpen {
			s.breaker.successes++
		}
		s.breaker.failures = 0
	}
	switch s.breaker.state {
	case circuitHalfOpen:
		if s.breaker.successes >= 3 {
			s.breaker = breakerState{state: circuitClosed}
		} else if s.breaker.failures > 0 {
			s.breaker = breakerState{state: circuitOpen, nextAttempt: now.Add(cfg.CircuitOpenDuration)}
		}
	case circuitClosed:
		if s.breaker.failures >= cfg.CircuitFailureThreshold {
			s.breaker = breakerState{state: circuitOpen, nextAttempt: now.Add(cfg.CircuitOpenDuration)}
		}
	}
}
