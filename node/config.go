package node

import (
	"os"
	"time"

	"github.com/nikolaydubina/fpdecimal"

	"github.com/openfreight/freightsim/config"
	"github.com/openfreight/freightsim/storage"
)

// Env overrides. Setting both FREIGHTSIM_PG_URL and FREIGHTSIM_AMQP_URL
// turns the archive on.
const (
	EnvHTTPAddr = "FREIGHTSIM_HTTP_ADDR"
	EnvPgURL    = "FREIGHTSIM_PG_URL"
	EnvAmqpURL  = "FREIGHTSIM_AMQP_URL"
)

// Config describes one simulator node.
type Config struct {
	// HTTPAddr is the echo listen address, e.g. ":8080".
	HTTPAddr string

	// KvdbPath is the pebble directory; empty selects the in-memory FS.
	KvdbPath string

	// Tick is the wall duration of one simulated second.
	Tick time.Duration

	// FeeRate is the platform's cut of every settlement.
	FeeRate fpdecimal.Decimal

	// PlatformAccount collects fees.
	PlatformAccount string

	// MakerTrader is the scripted market maker's account.
	MakerTrader string

	// ArchiveEnabled turns on the RabbitMQ → PostgreSQL mirror.
	ArchiveEnabled bool
	PgDSN          string
	AmqpURL        string
	RabbitmqCfg    storage.RabbitMQConfig
}

// DefaultConfig returns the demo setup: in-memory store, 100 ms ticks,
// 1% fee, archive off until both endpoints are configured.
func DefaultConfig() *Config {
	cfg := &Config{
		HTTPAddr:        ":8080",
		KvdbPath:        "",
		Tick:            100 * time.Millisecond,
		FeeRate:         fpdecimal.FromInt(1).Div(fpdecimal.FromInt(100)),
		PlatformAccount: "platform",
		MakerTrader:     "MarketMaker1",
		PgDSN:           config.PostgresDSN,
		AmqpURL:         config.AmqpURL,
		RabbitmqCfg: storage.RabbitMQConfig{
			Exchange:    config.Exchange,
			QueueName:   config.QueueName,
			RoutingKey:  config.RoutingKey,
			BindingKey:  config.BindingKey,
			ConsumerTag: config.ConsumerTag,
		},
	}
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvHTTPAddr); v != "" {
		c.HTTPAddr = v
	}
	pg := os.Getenv(EnvPgURL)
	amqp := os.Getenv(EnvAmqpURL)
	if pg != "" {
		c.PgDSN = pg
	}
	if amqp != "" {
		c.AmqpURL = amqp
	}
	c.ArchiveEnabled = pg != "" && amqp != ""
}
