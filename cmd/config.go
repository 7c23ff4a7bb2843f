package main

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

const (
	ProviderLocal  = "local"
	ProviderStream = "stream"
)

type Config struct {
	Host                 string        `env:"HOST,default=localhost"`
	Port                 int           `env:"PORT,default=8080" validate:"min=0,max=65535"`
	LogLevel             string        `env:"LOG_LEVEL,default=INFO"`
	Provider             string        `env:"PROVIDER,default=local" validate:"oneof=local stream"`
	StreamAPIKey         string        `env:"STREAM_API_KEY,required=true" validate:"required"`
	StreamAPISecret      string        `env:"STREAM_API_SECRET,required=true" validate:"required"`
	StreamBaseURL        string        `env:"STREAM_BASE_URL,default=https://chat.stream-io-api.com" validate:"url"`
	TokenTTL             time.Duration `env:"TOKEN_TTL,default=0s" validate:"min=0"`
	BadgerFilepath       string        `env:"BADGER_FILEPATH,default=./data/badger"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64" validate:"min=1"`
	SinkTimeout          time.Duration `env:"SINK_TIMEOUT,default=2s" validate:"gt=0"`
	BridgeTimeout        time.Duration `env:"BRIDGE_TIMEOUT,default=10s" validate:"gt=0"`
	HistoryLimit         int           `env:"HISTORY_LIMIT,default=50" validate:"min=0,max=300"`
	MaxFrameBytes        int64         `env:"MAX_FRAME_BYTES,default=65536" validate:"min=512"`
	WebhookMaxBodyBytes  int64         `env:"WEBHOOK_MAX_BODY_BYTES,default=1048576" validate:"min=1024"`
	SeenCacheSize        int           `env:"SEEN_CACHE_SIZE,default=4096" validate:"min=0"`
	RedisURL             string        `env:"REDIS_URL"`
	NodeID               string        `env:"NODE_ID"`
	CORSAllowedOrigins   string        `env:"CORS_ALLOWED_ORIGINS"`
	CensoredWords        string        `env:"CENSORED_WORDS"`
	CharReplacement      string        `env:"CHARACTER_REPLACEMENT,default=*"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=1s" validate:"gt=0"`
	ShutdownTimeout      time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s" validate:"gt=0"`
}

// LoadConfig reads an optional .env file, then the environment.
func LoadConfig(envFiles ...string) (Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load(envFiles...)

	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := validator.New().Struct(config); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	if utf8.RuneCountInString(config.CharReplacement) != 1 {
		return Config{}, fmt.Errorf("invalid config: CHARACTER_REPLACEMENT must be a single character")
	}
	return config, nil
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c Config) AllowedOrigins() []string {
	return splitList(c.CORSAllowedOrigins)
}

func (c Config) CensoredWordList() []string {
	return splitList(c.CensoredWords)
}

func (c Config) Replacement() rune {
	r, _ := utf8.DecodeRuneInString(c.CharReplacement)
	return r
}

func splitList(raw string) []string {
	return lo.Uniq(lo.Compact(lo.Map(strings.Split(raw, ","), func(item string, _ int) string {
		return strings.TrimSpace(item)
	})))
}
