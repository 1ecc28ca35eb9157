package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/WeshnovskySmart/hearmeapp/internal/ban"
	"github.com/WeshnovskySmart/hearmeapp/internal/config"
	"github.com/WeshnovskySmart/hearmeapp/internal/matching"
	"github.com/WeshnovskySmart/hearmeapp/internal/messaging"
	"github.com/WeshnovskySmart/hearmeapp/internal/metrics"
	"github.com/WeshnovskySmart/hearmeapp/internal/moderation"
	"github.com/WeshnovskySmart/hearmeapp/internal/pairing"
	"github.com/WeshnovskySmart/hearmeapp/internal/protocol"
	"github.com/WeshnovskySmart/hearmeapp/internal/ratelimit"
	"github.com/WeshnovskySmart/hearmeapp/internal/session"
	"github.com/WeshnovskySmart/hearmeapp/internal/ws"
)

const moderationTimeout = 3 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	serverConfig := ws.ServerConfig{
		ListenAddr:     cfg.ListenAddr,
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
	}

	// --- Redis (moderation record store + rate limits) ---
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis at %s: %v", cfg.RedisAddr, err)
	}
	cancel()

	// --- NATS (moderation audit events) ---
	natsConfig := messaging.DefaultConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "hearme-wsserver"
	natsClient, err := messaging.NewClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	banStore := ban.NewStore(rdb)
	gate := moderation.NewGate(banStore, natsClient)
	limiter := ratelimit.NewLimiter(rdb)
	matcher := matching.NewMatcher()
	sessions := session.NewStore()
	pair := pairing.NewCoordinator(matcher, sessions)

	log.Printf("HearMe WebSocket server starting")
	log.Printf("  listen_addr:     %s", cfg.ListenAddr)
	log.Printf("  worker_pool:     %d", cfg.WorkerPoolSize)
	log.Printf("  max_connections: %d", cfg.MaxConnections)
	log.Printf("  read_timeout:    %s", cfg.ReadTimeout)
	log.Printf("  write_timeout:   %s", cfg.WriteTimeout)
	log.Printf("  redis_addr:      %s", cfg.RedisAddr)
	log.Printf("  nats_url:        %s", cfg.NATSURL)

	// Declare server early so handler closures can capture it.
	var server *ws.Server

	dispatcher := ws.NewMessageDispatcher()

	// send marshals a server message and writes it to conn, logging failures.
	send := func(conn *ws.Connection, msgType string, payload interface{}) {
		data, err := protocol.NewServerMessage(msgType, payload)
		if err != nil {
			log.Printf("[handler] build %s for conn %s: %v", msgType, conn.ID, err)
			return
		}
		if err := conn.Send(data); err != nil {
			log.Printf("[handler] send %s to conn %s: %v", msgType, conn.ID, err)
		}
	}

	// banAndKick delivers the ban notice and schedules the forced close.
	// Termination goes through the standard disconnect path so queue and
	// session cleanup runs exactly once.
	banAndKick := func(conn *ws.Connection, expiresAt time.Time) {
		send(conn, protocol.TypeBanned, protocol.BannedMsg{BanExpiresAt: expiresAt.Unix()})
		time.AfterFunc(gate.KickGrace, func() {
			server.RemoveConnection(conn)
		})
	}

	// -----------------------------------------------------------------------
	// start_search: enter matchmaking for a mode
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeStartSearch, func(conn *ws.Connection, msg interface{}) {
		searchMsg, ok := msg.(protocol.StartSearchMsg)
		if !ok {
			return
		}

		mode, err := matching.ParseMode(searchMsg.Mode)
		if err != nil {
			// Unrecognized mode: logged, no state mutated, no response.
			log.Printf("[handler] start_search conn=%s: %v", conn.ID, err)
			return
		}

		key := moderation.ClientKey(conn.RemoteHost)
		ctx, cancel := context.WithTimeout(context.Background(), moderationTimeout)
		defer cancel()

		if allowed, _ := limiter.Allow(ctx, key, ratelimit.RuleSearch); !allowed {
			send(conn, protocol.TypeRateLimited, protocol.RateLimitedMsg{
				RetryAfter: int(ratelimit.RuleSearch.Window.Seconds()),
			})
			return
		}

		// Admission check runs before enqueue, outside any queue lock, so
		// a slow moderation store never holds a connection queued.
		if adm := gate.CheckAdmission(ctx, key); !adm.Allowed {
			log.Printf("[handler] admission refused conn=%s until=%d", conn.ID, adm.ExpiresAt.Unix())
			banAndKick(conn, adm.ExpiresAt)
			return
		}

		// A new search supersedes whatever the connection was doing: the
		// coordinator ends any active session (the partner is notified),
		// then pairs or enqueues, all as one transition.
		matched, err := pair.Search(conn.ID, conn, mode)
		if err != nil {
			log.Printf("[handler] start_search conn=%s: %v", conn.ID, err)
			return
		}
		if !matched {
			log.Printf("[handler] conn=%s queued mode=%s", conn.ID, mode)
		}
	})

	// -----------------------------------------------------------------------
	// cancel_search: leave matchmaking
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeCancelSearch, func(conn *ws.Connection, msg interface{}) {
		pair.Cancel(conn.ID)
		log.Printf("[handler] cancel_search conn=%s", conn.ID)
	})

	// -----------------------------------------------------------------------
	// text_message: relay to current session partner
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeTextMessage, func(conn *ws.Connection, msg interface{}) {
		textMsg, ok := msg.(protocol.TextMsg)
		if !ok {
			return
		}

		key := moderation.ClientKey(conn.RemoteHost)
		ctx, cancel := context.WithTimeout(context.Background(), moderationTimeout)
		defer cancel()
		if allowed, _ := limiter.Allow(ctx, key, ratelimit.RuleMessage); !allowed {
			send(conn, protocol.TypeRateLimited, protocol.RateLimitedMsg{
				RetryAfter: int(ratelimit.RuleMessage.Window.Seconds()),
			})
			return
		}

		frame, err := protocol.NewServerMessage(protocol.TypeTextMessage, protocol.TextMsg{
			Content: textMsg.Content,
		})
		if err != nil {
			log.Printf("[handler] build text relay for conn %s: %v", conn.ID, err)
			return
		}
		// No session: silent no-op.
		if sessions.RelayToPartner(conn.ID, frame) {
			metrics.RelayedFrames.WithLabelValues("text").Inc()
		}
	})

	// -----------------------------------------------------------------------
	// webrtc_signal: relay opaque negotiation payload
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeWebRTCSignal, func(conn *ws.Connection, msg interface{}) {
		signalMsg, ok := msg.(protocol.SignalMsg)
		if !ok {
			return
		}

		// The signal payload is forwarded byte-for-byte inside a fresh
		// envelope; its internal structure is never inspected.
		frame, err := protocol.NewSignalFrame(signalMsg.Signal)
		if err != nil {
			log.Printf("[handler] build signal relay for conn %s: %v", conn.ID, err)
			return
		}
		if sessions.RelayToPartner(conn.ID, frame) {
			metrics.RelayedFrames.WithLabelValues("signal").Inc()
		}
	})

	// -----------------------------------------------------------------------
	// end_chat: end current session
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeEndChat, func(conn *ws.Connection, msg interface{}) {
		if pair.End(conn.ID) {
			log.Printf("[handler] end_chat conn=%s", conn.ID)
		}
	})

	// -----------------------------------------------------------------------
	// report_user: file a report against the current partner
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeReportUser, func(conn *ws.Connection, msg interface{}) {
		partnerID, ok := sessions.Partner(conn.ID)
		if !ok {
			// No active session: silently ignored.
			return
		}
		offender := server.Registry().Get(partnerID)
		if offender == nil {
			return
		}
		sessionID, _ := sessions.SessionID(conn.ID)

		ctx, cancel := context.WithTimeout(context.Background(), moderationTimeout)
		defer cancel()

		verdict := gate.FileReport(ctx,
			moderation.ClientKey(conn.RemoteHost),
			moderation.ClientKey(offender.RemoteHost),
			sessionID)

		if verdict.Banned {
			banAndKick(offender, verdict.ExpiresAt)
		}
	})

	server = ws.NewServer(serverConfig, dispatcher.Dispatch)

	// Disconnect cleanup: the registry guard in RemoveConnection guarantees
	// this runs exactly once per connection, whichever detection path fired.
	server.SetOnDisconnect(func(conn *ws.Connection) {
		pair.Disconnect(conn.ID)
	})

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		natsClient.Close()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := rdb.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
