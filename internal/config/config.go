package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

// Fan-out strategy names accepted by the server. Push requires a transport
// with pub/sub support; poll only needs the recency buffer.
const (
	FanoutPush = "push"
	FanoutPoll = "poll"
)

type Config struct {
	ServerAddr     string
	MongoURI       string
	MongoDatabase  string
	RedisAddr      string
	RedisPassword  string
	FanoutMode     string
	AllowedOrigins []string
	// SigningKey enables identity-token verification when non-empty.
	SigningKey []byte
	// ActiveUserStaleness is the single threshold beyond which an active-user
	// entry is treated as absent, on every call path that reads the map.
	ActiveUserStaleness time.Duration
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, mongoURI, mongoDatabase, redisAddr, redisPassword, fanoutMode, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if mongoURI == "" {
		return nil, fmt.Errorf("mongo URI cannot be empty")
	}
	if mongoDatabase == "" {
		return nil, fmt.Errorf("mongo database cannot be empty")
	}
	if redisAddr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	if fanoutMode != FanoutPush && fanoutMode != FanoutPoll {
		return nil, fmt.Errorf("fanout mode must be %q or %q, got %q", FanoutPush, FanoutPoll, fanoutMode)
	}

	var signingKey []byte
	if base64Secret != "" {
		var err error
		signingKey, err = decodeSigningSecret(base64Secret)
		if err != nil {
			return nil, fmt.Errorf("decode signing secret: %w", err)
		}
	}

	return &Config{
		ServerAddr:          serverAddr,
		MongoURI:            mongoURI,
		MongoDatabase:       mongoDatabase,
		RedisAddr:           redisAddr,
		RedisPassword:       redisPassword,
		FanoutMode:          fanoutMode,
		AllowedOrigins:      allowedOrigins,
		SigningKey:          signingKey,
		ActiveUserStaleness: 30 * time.Second,
	}, nil
}
