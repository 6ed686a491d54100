package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewConfig(t *testing.T) {
	var (
		addr    = "localhost:8080"
		mongo   = "mongodb://localhost:27017"
		mongoDB = "anonchat"
		redis   = "localhost:6379"
		key     = "c29tZV9zZWNyZXQ="
		orig    = []string{"http://localhost:3000"}
	)

	tcases := []struct {
		name    string
		addr    string
		mongo   string
		mongoDB string
		redis   string
		fanout  string
		key     string
		err     bool
	}{
		{
			name:    "valid config",
			addr:    addr,
			mongo:   mongo,
			mongoDB: mongoDB,
			redis:   redis,
			fanout:  FanoutPush,
			key:     key,
		},
		{
			name:    "poll fanout mode",
			addr:    addr,
			mongo:   mongo,
			mongoDB: mongoDB,
			redis:   redis,
			fanout:  FanoutPoll,
			key:     key,
		},
		{
			name:    "empty address",
			addr:    "",
			mongo:   mongo,
			mongoDB: mongoDB,
			redis:   redis,
			fanout:  FanoutPush,
			key:     key,
			err:     true,
		},
		{
			name:    "empty mongo URI",
			addr:    addr,
			mongo:   "",
			mongoDB: mongoDB,
			redis:   redis,
			fanout:  FanoutPush,
			key:     key,
			err:     true,
		},
		{
			name:    "empty mongo database",
			addr:    addr,
			mongo:   mongo,
			mongoDB: "",
			redis:   redis,
			fanout:  FanoutPush,
			key:     key,
			err:     true,
		},
		{
			name:    "empty redis address",
			addr:    addr,
			mongo:   mongo,
			mongoDB: mongoDB,
			redis:   "",
			fanout:  FanoutPush,
			key:     key,
			err:     true,
		},
		{
			name:    "unknown fanout mode",
			addr:    addr,
			mongo:   mongo,
			mongoDB: mongoDB,
			redis:   redis,
			fanout:  "broadcast",
			key:     key,
			err:     true,
		},
		{
			name:    "invalid signing key",
			addr:    addr,
			mongo:   mongo,
			mongoDB: mongoDB,
			redis:   redis,
			fanout:  FanoutPush,
			key:     "not base64!!!",
			err:     true,
		},
		{
			name:    "empty signing key disables verification",
			addr:    addr,
			mongo:   mongo,
			mongoDB: mongoDB,
			redis:   redis,
			fanout:  FanoutPush,
			key:     "",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := NewConfig(tc.addr, tc.mongo, tc.mongoDB, tc.redis, "", tc.fanout, tc.key, orig)
			if tc.err {
				assert.Error(t, err, "expected an error")
				assert.Nil(t, cfg, "expected config to be nil on error")
				return
			}

			assert.NoError(t, err, "expected no error")
			assert.Equal(t, tc.addr, cfg.ServerAddr)
			assert.Equal(t, tc.fanout, cfg.FanoutMode)
			assert.Equal(t, orig, cfg.AllowedOrigins)
			assert.Equal(t, 30*time.Second, cfg.ActiveUserStaleness, "expected default staleness")
			if tc.key == "" {
				assert.Empty(t, cfg.SigningKey, "expected no signing key")
			} else {
				assert.NotEmpty(t, cfg.SigningKey, "expected decoded signing key")
			}
		})
	}
}
