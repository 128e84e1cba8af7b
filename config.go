package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"kanban/auth"
)

const (
	backendSQLite   = "sqlite"
	backendPostgres = "postgres"
	backendTables   = "tables"
)

type config struct {
	ListenAddr string
	Debug      bool

	Backend      string
	SQLitePath   string
	DatabaseURL  string
	StorageConn  string
	BoardsTable  string
	TasksTable   string
	UsersTable   string
	MailQueue    string
	RedisConn    string
	JWTSecret    string
	JWKSURL      string
	JWKSCacheTTL time.Duration
	Issuer       string
	Audience     string
	SessionTTL   time.Duration
	LinkTTL      time.Duration
	PublicURL    string
	CookieSecure bool
}

// loadConfig reads the configuration shared by all commands from the
// environment.
func loadConfig(getenv func(string) string) (config, error) {
	cfg := config{
		ListenAddr:   ":8080",
		Backend:      strings.ToLower(getenv("STORAGE_BACKEND")),
		SQLitePath:   getenv("SQLITE_PATH"),
		DatabaseURL:  getenv("DATABASE_URL"),
		StorageConn:  getenv("STORAGE_CONNECTION_STRING"),
		BoardsTable:  withDefault(getenv("BOARDS_TABLE"), "Boards"),
		TasksTable:   withDefault(getenv("TASKS_TABLE"), "Tasks"),
		UsersTable:   withDefault(getenv("USERS_TABLE"), "Users"),
		MailQueue:    getenv("MAIL_QUEUE"),
		RedisConn:    getenv("REDIS_CONNECTION_STRING"),
		JWTSecret:    getenv("AUTH_JWT_SECRET"),
		JWKSURL:      getenv("AUTH_JWKS_URL"),
		JWKSCacheTTL: auth.DefaultJWKSCacheTTL,
		Issuer:       getenv("AUTH_ISSUER"),
		Audience:     getenv("AUTH_AUDIENCE"),
		SessionTTL:   auth.DefaultSessionTTL,
		LinkTTL:      auth.DefaultLinkTTL,
		PublicURL:    strings.TrimRight(getenv("PUBLIC_URL"), "/"),
		CookieSecure: true,
	}
	if v := getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	} else if v := getenv("FUNCTIONS_CUSTOMHANDLER_PORT"); v != "" {
		cfg.ListenAddr = ":" + v
	}
	if dbg, err := strconv.ParseBool(getenv("DEBUG")); err == nil {
		cfg.Debug = dbg
	}
	if v := getenv("COOKIE_SECURE"); v != "" {
		secure, err := strconv.ParseBool(v)
		if err != nil {
			return config{}, fmt.Errorf("invalid COOKIE_SECURE: %w", err)
		}
		cfg.CookieSecure = secure
	}
	var err error
	if cfg.SessionTTL, err = parseTTL(getenv, "SESSION_TTL", cfg.SessionTTL); err != nil {
		return config{}, err
	}
	if cfg.LinkTTL, err = parseTTL(getenv, "LINK_TTL", cfg.LinkTTL); err != nil {
		return config{}, err
	}
	if cfg.JWKSCacheTTL, err = parseTTL(getenv, "AUTH_JWKS_CACHE_TTL", cfg.JWKSCacheTTL); err != nil {
		return config{}, err
	}

	if cfg.Backend == "" {
		cfg.Backend = backendSQLite
	}
	switch cfg.Backend {
	case backendSQLite:
		if cfg.SQLitePath == "" {
			cfg.SQLitePath = "kanban.db"
		}
	case backendPostgres:
		if cfg.DatabaseURL == "" {
			return config{}, errors.New("missing DATABASE_URL")
		}
	case backendTables:
		if cfg.StorageConn == "" {
			return config{}, errors.New("missing storage config")
		}
	default:
		return config{}, fmt.Errorf("unsupported STORAGE_BACKEND %q", cfg.Backend)
	}
	if cfg.MailQueue != "" && cfg.StorageConn == "" {
		return config{}, errors.New("MAIL_QUEUE requires STORAGE_CONNECTION_STRING")
	}
	return cfg, nil
}

// validateServe checks the settings only the HTTP server needs.
func (c config) validateServe() error {
	if c.RedisConn == "" {
		return errors.New("missing redis config")
	}
	if c.JWTSecret == "" {
		return errors.New("missing AUTH_JWT_SECRET")
	}
	return nil
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func parseTTL(getenv func(string) string, name string, def time.Duration) (time.Duration, error) {
	v := getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return d, nil
}

// redisOptions accepts either a redis:// URL or an Azure-style
// "host:port,password=...,ssl=True" connection string.
func redisOptions(conn string) (*redis.Options, error) {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	if strings.TrimSpace(parts[0]) == "" {
		return nil, errors.New("invalid redis connection string")
	}
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}
