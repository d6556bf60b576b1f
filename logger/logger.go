package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	once sync.Once
	log  *zap.Logger
)

// Get returns the process-wide logger, building it on first use.
func Get() *zap.Logger {
	once.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.DisableStacktrace = true

		var err error
		log, err = cfg.Build()
		if err != nil {
			log = zap.NewNop()
		}
	})
	return log
}

// GetWithNodeID returns the shared logger annotated with a node id.
func GetWithNodeID(id string) *zap.Logger {
	return Get().With(zap.String("nodeID", id))
}

// Sync flushes buffered log entries. Call on shutdown.
func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}
