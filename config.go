package messaging

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

var validate = validator.New()

// Config describes everything a messaging Client needs. One Config, one
// Client, one user session.
type Config struct {
	// WebSocketURL is the push channel endpoint, e.g. "wss://api.example.com/ws".
	WebSocketURL string `envconfig:"WS_URL" validate:"required,url"`

	// APIBaseURL is the root of the request/response API used for reads
	// and as the fallback for sends.
	APIBaseURL string `envconfig:"API_URL" validate:"required,url"`

	// CacheTTL bounds how long cached conversation and message pages
	// stay valid.
	CacheTTL time.Duration `envconfig:"CACHE_TTL" default:"5m"`

	// BackoffBase is the delay before the first reconnect attempt; each
	// further attempt doubles it.
	BackoffBase time.Duration `envconfig:"BACKOFF_BASE" default:"1500ms" validate:"min=1ms"`

	// MaxReconnectAttempts bounds the autonomous reconnect loop.
	MaxReconnectAttempts int `envconfig:"MAX_RECONNECT_ATTEMPTS" default:"5" validate:"min=1,max=10"`

	// DialTimeout bounds each websocket handshake attempt.
	DialTimeout time.Duration `envconfig:"DIAL_TIMEOUT" default:"10s"`

	// HTTPClient overrides the client used for fallback calls.
	HTTPClient *http.Client `ignored:"true"`
}

// ConfigFromEnv loads a Config from environment variables under the
// given prefix (e.g. prefix "CHAT" reads CHAT_WS_URL, CHAT_API_URL, …).
func ConfigFromEnv(prefix string) (Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("loading config from env: %w", err)
	}
	return cfg, nil
}

func (c Config) check() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
