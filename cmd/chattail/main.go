package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"dental-lab-admin/chatkit/api"
	"dental-lab-admin/chatkit/chattest"
	"dental-lab-admin/chatkit/conversation"
	"dental-lab-admin/chatkit/conversation/models"
	"dental-lab-admin/chatkit/conversation/stream"
	"dental-lab-admin/chatkit/identity"
	"dental-lab-admin/chatkit/pkg/config"
	"dental-lab-admin/chatkit/pkg/logger"
	"dental-lab-admin/chatkit/pkg/metrics"
)

func main() {
	order := flag.String("order", "", "order id of the conversation to tail")
	demo := flag.Bool("demo", false, "run against an embedded fake backend")
	trace := flag.Bool("trace", false, "enable stdout tracing")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found")
	}

	cfg := config.New()

	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"
	log := logger.New(logConfig)
	logger.SetGlobal(log)

	if *order == "" {
		fmt.Fprintln(os.Stderr, "usage: chattail -order <order-id> [-demo] [-trace]")
		os.Exit(2)
	}

	if *trace {
		shutdown := metrics.SetupTracing("chattail")
		defer shutdown()
	}
	if cfg.Metrics.Enabled {
		metrics.SetupPrometheusMetrics(cfg.Metrics.ListenAddr)
	}

	baseURL := cfg.API.BaseURL
	token := cfg.API.Token

	var fake *chattest.Server
	if *demo {
		token = "demo-token"
		fake = chattest.NewServer(chattest.Options{
			Token:             token,
			HeartbeatInterval: 15 * time.Second,
		})
		defer fake.Close()
		baseURL = fake.URL()
		if os.Getenv("CHAT_ACTOR_ID") == "" {
			os.Setenv("CHAT_ACTOR_ID", "demo-admin")
			os.Setenv("CHAT_ACTOR_ROLE", string(models.RoleAdmin))
			os.Setenv("CHAT_ACTOR_NAME", "Demo Admin")
		}
		go runDemoTraffic(fake, *order)
		log.Info("demo backend started", "url", baseURL)
	}

	client := api.NewClient(api.Options{
		BaseURL: baseURL,
		Token:   token,
		Timeout: cfg.API.Timeout,
	})

	resolver := buildResolver(cfg)

	var dialer stream.Dialer
	if cfg.Stream.Transport == "websocket" {
		dialer = stream.NewWSDialer(client)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printed := 0
	var thread *conversation.Thread
	render := func() {
		for _, m := range thread.Messages()[printed:] {
			side := "  "
			if m.Alignment == models.AlignRight {
				side = ">>"
			}
			body := m.Text
			if m.HasAttachment() {
				body = "[attachment] " + thread.DownloadURL(m.AttachmentRef)
			}
			fmt.Printf("%s %s %s (%s): %s\n", side, m.SentAt, m.AuthorName, m.AuthorRole, body)
			printed++
		}
	}

	thread, err := conversation.Open(ctx, *order, conversation.Options{
		API:             client,
		Resolver:        resolver,
		Dialer:          dialer,
		ReconnectDelay:  cfg.Stream.ReconnectDelay,
		PendingExpiry:   cfg.Composer.PendingExpiry,
		Logger:          log,
		StreamMetrics:   metrics.NewStreamMetrics(),
		ComposerMetrics: metrics.NewComposerMetrics(),
	})
	if err != nil {
		log.LogError(err, "failed to open conversation")
		os.Exit(1)
	}
	defer thread.Close()

	log.Info("conversation open",
		"order", *order,
		"messages", thread.Len(),
		"connected", thread.Connected(),
	)
	render()

	// Lines typed on stdin are sent as messages.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if _, err := thread.SendText(ctx, scanner.Text()); err != nil {
				log.LogError(err, "send failed")
			}
		}
	}()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			render()
		case <-ctx.Done():
			fmt.Println()
			log.Info("shutting down")
			return
		}
	}
}

// buildResolver wires the fixed-priority identity chain: active session from
// the environment, then a persisted session token, then the platform's Redis
// snapshots.
func buildResolver(cfg *config.Config) *identity.Resolver {
	active := identity.NewActiveSession()
	if actorID := os.Getenv("CHAT_ACTOR_ID"); actorID != "" {
		active.Set(identity.Identity{
			ActorID:     actorID,
			Role:        models.Role(os.Getenv("CHAT_ACTOR_ROLE")),
			DisplayName: os.Getenv("CHAT_ACTOR_NAME"),
		})
	}

	providers := []identity.Provider{active}
	if cfg.Session.JWTSecret != "" {
		providers = append(providers, identity.NewTokenSnapshot(cfg.Session.JWTSecret, func() string {
			return os.Getenv("CHAT_SESSION_TOKEN")
		}))
	}
	if cfg.Session.RedisAddr != "" {
		providers = append(providers, identity.NewRedisSnapshotFromAddr(
			cfg.Session.RedisAddr,
			cfg.Session.RedisPassword,
			cfg.Session.RedisDB,
			"chat:session:client",
			"chat:session:designer",
			"chat:session:admin",
		))
	}
	return identity.NewResolver(providers...)
}

// runDemoTraffic posts scripted messages so the demo has something to show.
func runDemoTraffic(fake *chattest.Server, orderID string) {
	fake.Post(orderID, models.RoleClient, "Dr. Patel", "Any update on the crown for case 1142?")
	time.Sleep(2 * time.Second)
	fake.Post(orderID, models.RoleDesigner, "Maya", "Design is done, sending it to milling today.")
	for {
		time.Sleep(20 * time.Second)
		fake.Post(orderID, models.RoleAdmin, "Front desk", "Ping from the lab at "+time.Now().Format("15:04:05"))
	}
}
