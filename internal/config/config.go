package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the Diskuss client.
type Config struct {
	AppName             string
	AppEnv              string
	APIBaseURL          string
	SocketURL           string
	PageSize            int
	HandshakeTimeout    time.Duration
	RequestTimeout      time.Duration
	ReconnectMinBackoff time.Duration
	ReconnectMaxBackoff time.Duration
	ReconnectMaxTries   int
}

// Load reads configuration values from environment variables and an
// optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("DISKUSS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Diskuss Client")
	v.SetDefault("app.env", "development")
	v.SetDefault("page.size", 20)
	v.SetDefault("handshake.timeout", "5s")
	v.SetDefault("request.timeout", "10s")
	v.SetDefault("reconnect.min_backoff", "500ms")
	v.SetDefault("reconnect.max_backoff", "30s")
	v.SetDefault("reconnect.max_tries", 5)

	handshake, err := time.ParseDuration(v.GetString("handshake.timeout"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid handshake timeout: %w", err)
	}

	request, err := time.ParseDuration(v.GetString("request.timeout"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid request timeout: %w", err)
	}

	minBackoff, err := time.ParseDuration(v.GetString("reconnect.min_backoff"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid reconnect min backoff: %w", err)
	}

	maxBackoff, err := time.ParseDuration(v.GetString("reconnect.max_backoff"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid reconnect max backoff: %w", err)
	}

	cfg := Config{
		AppName:             v.GetString("app.name"),
		AppEnv:              v.GetString("app.env"),
		APIBaseURL:          strings.TrimRight(v.GetString("api.url"), "/"),
		SocketURL:           v.GetString("socket.url"),
		PageSize:            v.GetInt("page.size"),
		HandshakeTimeout:    handshake,
		RequestTimeout:      request,
		ReconnectMinBackoff: minBackoff,
		ReconnectMaxBackoff: maxBackoff,
		ReconnectMaxTries:   v.GetInt("reconnect.max_tries"),
	}

	if cfg.APIBaseURL == "" {
		return Config{}, fmt.Errorf("api url must be provided")
	}

	if cfg.SocketURL == "" {
		return Config{}, fmt.Errorf("socket url must be provided")
	}

	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}

	if cfg.ReconnectMaxTries <= 0 {
		cfg.ReconnectMaxTries = 5
	}

	if cfg.ReconnectMinBackoff <= 0 || cfg.ReconnectMaxBackoff < cfg.ReconnectMinBackoff {
		return Config{}, fmt.Errorf("invalid reconnect backoff bounds")
	}

	return cfg, nil
}
