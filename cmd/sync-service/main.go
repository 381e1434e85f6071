package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Jb-rown/embrace-cancer-care-sub000/api"
	"github.com/Jb-rown/embrace-cancer-care-sub000/assist"
	"github.com/Jb-rown/embrace-cancer-care-sub000/storage"
	"github.com/Jb-rown/embrace-cancer-care-sub000/subscription"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	tables := storage.TableNames{
		Symptoms:     os.Getenv("SYMPTOMS_TABLE"),
		Treatments:   os.Getenv("TREATMENTS_TABLE"),
		Appointments: os.Getenv("APPOINTMENTS_TABLE"),
		Posts:        os.Getenv("POSTS_TABLE"),
	}
	commandQueueName := os.Getenv("COMMAND_QUEUE")
	if connStr == "" || tables.Symptoms == "" || tables.Treatments == "" ||
		tables.Appointments == "" || tables.Posts == "" || commandQueueName == "" {
		log.Fatal("missing storage config")
	}
	store, err := storage.New(connStr, tables, commandQueueName)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	rc := redis.NewClient(redisOptions(redisConn))

	cacheTTL := 5 * time.Minute
	if v := os.Getenv("CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid CACHE_TTL: %v", err)
		}
		cacheTTL = d
	}
	cached := storage.NewCache(store, rc, cacheTTL)

	testMode := os.Getenv("AUTH_TEST_MODE") == "1"
	var auth *api.Auth
	if testMode {
		auth = api.NewAuth(nil, "", "")
	} else {
		jwtAudience := os.Getenv("AUTH0_AUDIENCE")
		domain := os.Getenv("AUTH0_DOMAIN")
		if jwtAudience == "" || domain == "" {
			log.Fatal("missing Auth0 config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, jwtAudience, "https://"+domain+"/")
	}

	logger := log.New()
	registry := prometheus.NewRegistry()
	subs := subscription.NewManager(rc, logger, subscription.NewMetrics(registry))

	var completer api.Completer
	if endpoint := os.Getenv("ASSIST_ENDPOINT"); endpoint != "" {
		rpm := 0
		if v := os.Getenv("ASSIST_RPM"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				log.Fatalf("invalid ASSIST_RPM: %v", err)
			}
			rpm = n
		}
		completer = assist.NewClient(endpoint, os.Getenv("ASSIST_API_KEY"), rpm, logger)
	}

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	api.Register(e, api.Deps{
		Store:    cached,
		Auth:     auth,
		Assist:   completer,
		Subs:     subs,
		Logger:   logger,
		Registry: registry,
	})

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}

// redisOptions accepts either a redis URL or the Azure-style
// "host:port,password=...,ssl=true" connection string.
func redisOptions(connStr string) *redis.Options {
	opts, err := redis.ParseURL(connStr)
	if err == nil {
		return opts
	}
	parts := strings.Split(connStr, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
