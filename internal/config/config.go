package config

import (
	"fmt"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

type Config struct {
	DBFile    string `env:"SANGAM_DB,default=sangam.db"`
	AdminAddr string `env:"ADMIN_ADDR,default=localhost:8081"`
	APIAddr   string `env:"API_ADDR,default=:8080"`
	AppEnv    string `env:"APP_ENV,default=prod"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`

	SweepInterval       time.Duration `env:"SWEEP_INTERVAL,default=5m"`
	InactivityThreshold time.Duration `env:"INACTIVITY_THRESHOLD,default=5m"`
	PingInterval        time.Duration `env:"PING_INTERVAL,default=30s"`
	PongWait            time.Duration `env:"PONG_WAIT,default=60s"`
	SendBuffer          int           `env:"SEND_BUFFER,default=256"`
	EventRate           float64       `env:"EVENT_RATE,default=20"`
	EventBurst          int           `env:"EVENT_BURST,default=40"`

	HistoryPageLimit int           `env:"HISTORY_PAGE_LIMIT,default=50"`
	UserCacheTTL     time.Duration `env:"USER_CACHE_TTL,default=1m"`

	VAPIDPublicKey  string `env:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `env:"VAPID_PRIVATE_KEY"`
	VAPIDSubject    string `env:"VAPID_SUBJECT"`
}

// Load reads the configuration from the environment. A .env file in the
// working directory, when present, seeds variables that are not already set.
func Load(cliMode bool) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if _, err := env.UnmarshalFromEnviron(cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate(cliMode bool) error {
	if c.DBFile == "" {
		return fmt.Errorf("SANGAM_DB is required")
	}

	// The maintenance CLI only touches the database.
	if cliMode {
		return nil
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"SWEEP_INTERVAL", c.SweepInterval},
		{"INACTIVITY_THRESHOLD", c.InactivityThreshold},
		{"PING_INTERVAL", c.PingInterval},
		{"PONG_WAIT", c.PongWait},
		{"USER_CACHE_TTL", c.UserCacheTTL},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be greater than 0", d.name)
		}
	}

	if c.PingInterval >= c.PongWait {
		return fmt.Errorf("PING_INTERVAL must be shorter than PONG_WAIT")
	}

	if c.SendBuffer <= 0 {
		return fmt.Errorf("SEND_BUFFER must be greater than 0")
	}

	if c.EventRate <= 0 || c.EventBurst <= 0 {
		return fmt.Errorf("EVENT_RATE and EVENT_BURST must be greater than 0")
	}

	if c.HistoryPageLimit <= 0 {
		return fmt.Errorf("HISTORY_PAGE_LIMIT must be greater than 0")
	}

	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return fmt.Errorf("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}

	return nil
}

// PushEnabled reports whether web push credentials are configured.
func (c *Config) PushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}
