package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/mudler/xlog"
	"github.com/spf13/viper"
)

// devSigningSecret is used when SIGNING_SECRET is absent. Tokens signed
// with it are worthless outside local development.
const devSigningSecret = "dev-secret-do-not-use-in-production"

// Config carries everything the service needs at startup.
type Config struct {
	SigningSecret string
	DBURL         string
	BindHost      string
	BindPort      int
	TickInterval  time.Duration
	TokenLifetime time.Duration
	CORSOrigins   []string
}

func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindHost, c.BindPort)
}

// LoadConfig reads the environment. Every variable has a development
// default except the signing secret, which falls back with a warning.
func LoadConfig() Config {
	v := viper.New()
	v.AutomaticEnv()
	for _, key := range []string{
		"SIGNING_SECRET", "DB_URL", "HTTP_BIND_HOST", "HTTP_BIND_PORT",
		"TICK_INTERVAL_SECONDS", "TOKEN_LIFETIME_HOURS", "CORS_ALLOW_ORIGINS",
	} {
		_ = v.BindEnv(key)
	}
	v.SetDefault("DB_URL", "agenthub.db")
	v.SetDefault("HTTP_BIND_HOST", "127.0.0.1")
	v.SetDefault("HTTP_BIND_PORT", 8080)
	v.SetDefault("TICK_INTERVAL_SECONDS", 30)
	v.SetDefault("TOKEN_LIFETIME_HOURS", 24)
	v.SetDefault("CORS_ALLOW_ORIGINS", "*")

	secret := v.GetString("SIGNING_SECRET")
	if secret == "" {
		xlog.Warn("SIGNING_SECRET not set, using development fallback")
		secret = devSigningSecret
	}
	var origins []string
	for _, origin := range strings.Split(v.GetString("CORS_ALLOW_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return Config{
		SigningSecret: secret,
		DBURL:         v.GetString("DB_URL"),
		BindHost:      v.GetString("HTTP_BIND_HOST"),
		BindPort:      v.GetInt("HTTP_BIND_PORT"),
		TickInterval:  time.Duration(v.GetInt("TICK_INTERVAL_SECONDS")) * time.Second,
		TokenLifetime: time.Duration(v.GetInt("TOKEN_LIFETIME_HOURS")) * time.Hour,
		CORSOrigins:   origins,
	}
}
