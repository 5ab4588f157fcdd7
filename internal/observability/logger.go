// Package observability holds the structured logger and the prometheus
// collectors shared by every pipeline session.
package observability

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	mu           sync.RWMutex
	globalLogger zerolog.Logger
	initialized  bool
)

// InitLogger initializes the global structured logger.
func InitLogger(level string, pretty bool) {
	initLogger(level, pretty, os.Stdout)
}

func initLogger(level string, pretty bool, out io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	logLevel, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	globalLogger = zerolog.New(out).With().Timestamp().Logger()
	log.Logger = globalLogger
	initialized = true
}

// GetLogger returns the global logger, initializing it with defaults on
// first use.
func GetLogger() zerolog.Logger {
	mu.RLock()
	if initialized {
		l := globalLogger
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	InitLogger("info", false)
	return GetLogger()
}

// WithComponent returns a child logger tagged with a component name.
func WithComponent(name string) zerolog.Logger {
	return GetLogger().With().Str("component", name).Logger()
}

// WithSession returns a child logger tagged with a session ID.
func WithSession(sessionID string) zerolog.Logger {
	return GetLogger().With().Str("session_id", sessionID).Logger()
}

// Sampled wraps l so that at most burst events per period are written.
// Per-frame stage failures go through a sampled logger.
func Sampled(l zerolog.Logger, burst uint32, period time.Duration) zerolog.Logger {
	return l.Sample(&zerolog.BurstSampler{Burst: burst, Period: period})
}
