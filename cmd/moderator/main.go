package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/WeshnovskySmart/hearmeapp/internal/config"
	"github.com/WeshnovskySmart/hearmeapp/internal/messaging"
	"github.com/WeshnovskySmart/hearmeapp/internal/moderation"
	"github.com/WeshnovskySmart/hearmeapp/internal/report"
)

const storeTimeout = 5 * time.Second

// The moderator consumes moderation audit events published by the WebSocket
// server and persists them to Postgres for offline review. It holds no
// in-memory state and can be restarted at any time without affecting live
// chats.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}
	if err := cfg.ValidateModerator(); err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to open Postgres connection: %v", err)
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		log.Fatalf("failed to connect to Postgres: %v", err)
	}
	cancel()

	if err := report.Migrate(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}
	reports := report.NewStore(db)

	natsConfig := messaging.DefaultConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "hearme-moderator"
	natsClient, err := messaging.NewClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	log.Printf("HearMe moderator starting")
	log.Printf("  nats_url: %s", cfg.NATSURL)

	err = natsClient.SubscribeReportEvents(func(data []byte) {
		var ev moderation.ReportEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("[moderator] malformed report event: %v", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()

		err := reports.Create(ctx, &report.Report{
			ReporterKey: ev.ReporterKey,
			OffenderKey: ev.OffenderKey,
			SessionID:   ev.SessionID,
			ReportedAt:  time.Unix(ev.ReportedAt, 0),
		})
		if err != nil {
			log.Printf("[moderator] persist report against %s: %v", ev.OffenderKey, err)
			return
		}
		log.Printf("[moderator] report recorded: offender=%s session=%s", ev.OffenderKey, ev.SessionID)
	})
	if err != nil {
		log.Fatalf("failed to subscribe to report events: %v", err)
	}

	err = natsClient.SubscribeBanEvents(func(data []byte) {
		var ev moderation.BanEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("[moderator] malformed ban event: %v", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()

		recent, err := reports.CountRecent(ctx, ev.OffenderKey, 24*time.Hour)
		if err != nil {
			log.Printf("[moderator] count reports for %s: %v", ev.OffenderKey, err)
			recent = -1
		}
		log.Printf("[moderator] ban issued: offender=%s reports=%d recent_24h=%d expires=%d",
			ev.OffenderKey, ev.ReportCount, recent, ev.ExpiresAt)
	})
	if err != nil {
		log.Fatalf("failed to subscribe to ban events: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	natsClient.Close()
	if err := db.Close(); err != nil {
		log.Printf("postgres close error: %v", err)
	}
}
