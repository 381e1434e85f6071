package main

import (
	"context"
	"crypto/tls"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Jb-rown/embrace-cancer-care-sub000/relay"
	"github.com/Jb-rown/embrace-cancer-care-sub000/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("change relay starting")

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

	queue, err := azqueue.NewQueueClientFromConnectionString(connStr, commandQueueName, nil)
	if err != nil {
		log.Fatalf("queue client: %v", err)
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	rc := redis.NewClient(redisOptions(redisConn))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := relay.NewService(store, rc, log.StandardLogger())
	svc.Run(ctx, queue)

	log.Info("change relay stopped")
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
