package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/z-switchboard/backend/internal/config"
	"github.com/zhouzirui/z-switchboard/backend/internal/handler"
	"github.com/zhouzirui/z-switchboard/backend/internal/handler/chat"
	"github.com/zhouzirui/z-switchboard/backend/internal/model/persona"
	"github.com/zhouzirui/z-switchboard/backend/internal/service/ai"
	"github.com/zhouzirui/z-switchboard/backend/internal/service/facts"
	"github.com/zhouzirui/z-switchboard/backend/internal/service/memory"
	"github.com/zhouzirui/z-switchboard/backend/internal/service/room"
	"github.com/zhouzirui/z-switchboard/backend/internal/service/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Fact store is optional; without it the staff persona has no record_fact tool.
	var factStore facts.Store
	var factView chat.Facts
	if cfg.Facts.Enabled() {
		fs := facts.NewFileStore(cfg.Facts.Path)
		factStore, factView = fs, fs
		log.Printf("fact store enabled at %s", cfg.Facts.Path)
	} else {
		log.Println("FACTS_PATH 未配置，跳过事实存储")
	}

	personaStore := persona.NewMemoryStore(persona.Seed(persona.Profile{
		PrincipalName: cfg.Persona.PrincipalName,
		AssistantName: cfg.Persona.AssistantName,
		FactsEnabled:  factStore != nil,
	}))

	if !cfg.Memory.Enabled() {
		log.Println("memory service not configured: debriefs will be empty and transcripts dropped")
	}
	memoryClient := memory.NewClient(cfg.Memory.QueryURL, cfg.Memory.TranscriptURL, cfg.Memory.Timeout,
		memory.WithLocation(cfg.Memory.Location()))

	env := &session.Env{
		Personas:        personaStore,
		Classifier:      session.NewClassifier(cfg.Session.PhoneRoomPrefix),
		Memory:          memoryClient,
		Facts:           factStore,
		Delivery:        memoryClient,
		TeardownTimeout: cfg.Session.TeardownTimeout,
		DeliveryTimeout: cfg.Memory.DeliveryTimeout,
	}

	// Initialize AI service
	var engines session.EngineFactory
	if cfg.AI.Enabled() {
		aiService, err := ai.NewService(ctx, cfg.AI, ai.NewPromptBuilder(factView))
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			log.Println("continuing without AI functionality - 请检查 Ark 模型相关环境变量")
		} else {
			engines = aiService.NewEngine
			log.Println("AI service initialized successfully")
		}
	} else {
		log.Println("Ark 凭证未配置，房间连接将被拒绝")
	}

	registry := session.NewRegistry()
	dispatcher := session.NewDispatcher(ctx, env, engines, registry)

	hub := room.NewHub(nil)
	hub.OnRoomCreated(func(r *room.Room) {
		if _, err := dispatcher.Dispatch(r); err != nil {
			log.Printf("warning: no session for room=%s: %v", r.Name(), err)
		}
	})

	router := handler.NewRouter(handler.Deps{
		Personas:       personaStore,
		Sessions:       registry,
		Facts:          factView,
		Hub:            hub,
		Available:      dispatcher.Available,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	startServer(ctx, cfg.Server, router)
	stop()

	// Sessions end with ctx; let them hang up and hand off transcripts.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		log.Printf("warning: sessions still open at shutdown: %v", err)
	}
	hub.CloseAll(shutdownCtx)
	if err := env.WaitDeliveries(shutdownCtx); err != nil {
		log.Printf("warning: transcript deliveries still pending at shutdown: %v", err)
	}
	log.Println("switchboard stopped")
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Z Switchboard backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
