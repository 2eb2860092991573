package cache

import (
	"time"
)

// Entry is a cached masking result. Only masked output is ever stored.
type Entry struct {
	MaskedPayload string `json:"masked_payload"`
	PayloadType   string `json:"payload_type"`
	ResolvedLabel string `json:"resolved_label"`
	Processor     string `json:"processor"`
	// AttributesApplied is the number of rule attributes that matched
	AttributesApplied int       `json:"attributes_applied"`
	CachedAt          time.Time `json:"cached_at"`
}

// Stats represents cache performance statistics
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Config contains cache configuration
type Config struct {
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}
