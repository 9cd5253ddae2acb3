package boot

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Env            string        `env:"ENV,default=dev"`
	ServerURL      string        `env:"CHAT_SERVER_URL,default=http://localhost:8080"`
	Token          string        `env:"CHAT_TOKEN"`
	ConversationID string        `env:"CHAT_CONVERSATION_ID"`
	SendTimeout    time.Duration `env:"CHAT_SEND_TIMEOUT,default=15s"`
	MaxAttempts    int           `env:"CHAT_MAX_RECONNECTS,default=5"`
	JWTSecret      string        `env:"JWT_SECRET,default=dev-secret"`
	ListenAddr     string        `env:"LISTEN_ADDR,default=:8080"`
}

func Load() (*Config, error) {
	config := &Config{}
	if err := envconfig.Process(context.Background(), config); err != nil {
		return nil, fmt.Errorf("parsing env vars: %w", err)
	}
	return config, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "prod"
}
