package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL"`
	RabbitMQURL string `env:"RABBITMQ_URL"`

	APIPort int `env:"API_PORT,default=8080"`
	WSPort  int `env:"WS_PORT,default=8081"`

	LogLevel string `env:"LOG_LEVEL,default=info"`

	// Assignment engine.
	AssignLockTimeoutSec int `env:"ASSIGN_LOCK_TIMEOUT_SEC,default=3"`
	CallThrottleSec      int `env:"CALL_THROTTLE_SEC,default=300"`

	// Escalation ladder. Thresholds are process-wide.
	EscalationIntervalSec int `env:"ESCALATION_INTERVAL_SEC,default=15"`
	EscalationL1Sec       int `env:"ESCALATION_L1_SEC,default=90"`
	EscalationL2Sec       int `env:"ESCALATION_L2_SEC,default=180"`
	EscalationL3Sec       int `env:"ESCALATION_L3_SEC,default=300"`

	// Event outbox bridge.
	BridgePollMillis   int `env:"BRIDGE_POLL_MILLIS,default=500"`
	BridgeBatchSize    int `env:"BRIDGE_BATCH_SIZE,default=50"`
	EventRetentionHrs  int `env:"EVENT_RETENTION_HOURS,default=24"`
	AuditRetentionDays int `env:"AUDIT_RETENTION_DAYS,default=90"`
	RetentionSweepMins int `env:"RETENTION_SWEEP_MINUTES,default=60"`

	WSMaxConnections int `env:"WS_MAX_CONNECTIONS,default=500"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) AssignLockTimeout() time.Duration {
	return time.Duration(c.AssignLockTimeoutSec) * time.Second
}

func (c *Config) CallThrottleWindow() time.Duration {
	return time.Duration(c.CallThrottleSec) * time.Second
}

func (c *Config) EscalationInterval() time.Duration {
	return time.Duration(c.EscalationIntervalSec) * time.Second
}

func (c *Config) BridgePollInterval() time.Duration {
	return time.Duration(c.BridgePollMillis) * time.Millisecond
}

func (c *Config) EventRetention() time.Duration {
	return time.Duration(c.EventRetentionHrs) * time.Hour
}

func (c *Config) AuditRetention() time.Duration {
	return time.Duration(c.AuditRetentionDays) * 24 * time.Hour
}

func (c *Config) RetentionSweepInterval() time.Duration {
	return time.Duration(c.RetentionSweepMins) * time.Minute
}
