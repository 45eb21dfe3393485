package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/api"
	"prism-board/config"
	"prism-board/gateway"
	"prism-board/storage"
)

func main() {
	initStorage := flag.Bool("init-storage", false, "create tables and queues before serving")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()

	var store api.Storage
	switch cfg.StorageBackend {
	case "tables":
		tables, err := storage.NewTables(storage.TablesConfig{
			ConnectionString: cfg.Storage.ConnectionString,
			BoardsTable:      cfg.Storage.BoardsTable,
			ColumnsTable:     cfg.Storage.ColumnsTable,
			TasksTable:       cfg.Storage.TasksTable,
			EventsQueue:      cfg.Storage.EventsQueue,
		}, logger)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		if *initStorage {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			err := tables.EnsureResources(ctx)
			cancel()
			if err != nil {
				log.Fatalf("init storage: %v", err)
			}
			log.Info("storage init complete")
		}
		store = tables
	default:
		store = storage.NewMemory()
	}

	var deduper api.Deduper
	if cfg.RedisURL != "" {
		rc := redis.NewClient(parseRedis(cfg.RedisURL))
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
		if cfg.CacheTTL > 0 {
			store = storage.NewCache(store, rc, cfg.CacheTTL)
		}
	} else {
		log.Warn("REDIS_CONNECTION_STRING not set; board cache and idempotency keys disabled")
	}

	var auth *api.Auth
	if cfg.Auth.TestMode {
		if cfg.Auth.TestSecret == "" {
			log.Fatal("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1")
		}
		auth = api.NewTestAuth([]byte(cfg.Auth.TestSecret))
		auth.Audience = cfg.Auth.Audience
	} else {
		if cfg.Auth.Audience == "" || cfg.Auth.Domain == "" {
			log.Fatal("missing Auth0 config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth.Domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: time.Hour})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		defer jwks.EndBackground()
		auth = api.NewAuth(jwks, cfg.Auth.Audience, "https://"+cfg.Auth.Domain+"/")
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{
			echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept,
			echo.HeaderAuthorization, gateway.HeaderIdempotencyKey,
		},
	}))

	api.Register(e, store, auth, deduper, logger, api.WithMaxColumns(cfg.MaxColumns))

	log.WithFields(log.Fields{
		"addr":    cfg.ListenAddr,
		"storage": cfg.StorageBackend,
	}).Info("board service starting")
	e.Logger.Fatal(e.Start(cfg.ListenAddr))
}

// parseRedis accepts a redis:// URL or an Azure style
// "host:port,password=...,ssl=True" connection string.
func parseRedis(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
