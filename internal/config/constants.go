package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const ArchiveJobInterval = 5 * time.Minute

// Rate limit window shared by every limiter
const RateLimitWindow = time.Minute

// Fan-out buffering
const (
	SubscriberBufferSize = 100
	HeartbeatInterval    = 30 * time.Second
)

// WebSocket keepalive
const (
	WSWriteWait    = 10 * time.Second
	WSPongWait     = 60 * time.Second
	WSPingPeriod   = 54 * time.Second
	WSMaxFrameSize = 512
)
