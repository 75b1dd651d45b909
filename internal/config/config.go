package config

import (
	"os"
	"strings"
	"time"
)

// Config is read once from the environment at startup. main loads a .env
// file first (if present) so local runs need no exported variables.
type Config struct {
	Port         string
	DatabaseURL  string
	SessionTTL   time.Duration
	SaveDebounce time.Duration
	CORSOrigin   string
	ICEServers   []string
	Dev          bool
}

func FromEnv() Config {
	cfg := Config{
		Port:         getenv("PORT", "8080"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		SessionTTL:   getduration("SESSION_TTL", 24*time.Hour),
		SaveDebounce: getduration("SAVE_DEBOUNCE", 200*time.Millisecond),
		CORSOrigin:   os.Getenv("CORS_ORIGIN"),
		Dev:          os.Getenv("APP_ENV") == "dev",
	}
	if raw := os.Getenv("ICE_SERVERS"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.ICEServers = append(cfg.ICEServers, s)
			}
		}
	} else {
		cfg.ICEServers = []string{"stun:stun.l.google.com:19302"}
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
