package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config contains per-client rate limiting configuration
type Config struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMin  int           `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	Burst           int           `yaml:"burst" mapstructure:"burst"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// Limiter keeps one token bucket per client key
type Limiter struct {
	config  Config
	clients map[string]*client
	mu      sync.RWMutex
	now     func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	mu       sync.Mutex
}

// New creates a new limiter
func New(cfg Config) *Limiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Limiter{
		config:  cfg,
		clients: make(map[string]*client),
		now:     time.Now,
	}
}

// Allow reports whether a request from the given client may proceed
func (l *Limiter) Allow(key string) bool {
	if !l.config.Enabled {
		return true
	}

	c := l.getClient(key)
	now := l.now()

	c.mu.Lock()
	c.lastSeen = now
	c.mu.Unlock()

	return c.limiter.AllowN(now, 1)
}

// Clients returns the number of tracked clients
func (l *Limiter) Clients() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.clients)
}

func (l *Limiter) getClient(key string) *client {
	l.mu.RLock()
	c, exists := l.clients[key]
	l.mu.RUnlock()

	if exists {
		return c
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if c, exists := l.clients[key]; exists {
		return c
	}

	perSecond := rate.Limit(float64(l.config.RequestsPerMin) / 60.0)
	c = &client{
		limiter:  rate.NewLimiter(perSecond, l.config.Burst),
		lastSeen: l.now(),
	}
	l.clients[key] = c
	return c
}

// Cleanup drops clients that have been idle longer than IdleTimeout
func (l *Limiter) Cleanup() int {
	idle := l.config.IdleTimeout
	if idle <= 0 {
		idle = time.Hour
	}
	cutoff := l.now().Add(-idle)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, c := range l.clients {
		c.mu.Lock()
		stale := c.lastSeen.Before(cutoff)
		c.mu.Unlock()
		if stale {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}

// Run cleans up idle clients until ctx is cancelled
func (l *Limiter) Run(ctx context.Context) {
	interval := l.config.CleanupInterval
	if interval <= 0 {
		interval = 30 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}
