// Package main is the entry point for Archon.
// This single binary runs the orchestrator, the GitHub webhook intake and
// the websocket event gateway together with shared infrastructure.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/archonhq/archon/internal/artifact"
	"github.com/archonhq/archon/internal/assistant"
	"github.com/archonhq/archon/internal/command"
	"github.com/archonhq/archon/internal/common/config"
	"github.com/archonhq/archon/internal/common/logger"
	"github.com/archonhq/archon/internal/events/bus"
	gateways "github.com/archonhq/archon/internal/gateway/websocket"
	"github.com/archonhq/archon/internal/git"
	"github.com/archonhq/archon/internal/isolation"
	"github.com/archonhq/archon/internal/lock"
	"github.com/archonhq/archon/internal/orchestrator"
	"github.com/archonhq/archon/internal/platform"
	"github.com/archonhq/archon/internal/store/sqlite"
	"github.com/archonhq/archon/internal/webhook"
	"github.com/archonhq/archon/internal/workflow"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting Archon...")

	// 3. Initialize event bus (in-memory by default, NATS if configured)
	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		log.Info("Connecting to NATS...", zap.String("url", cfg.NATS.URL))
		natsEventBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		eventBus = natsEventBus
		log.Info("Connected to NATS event bus")
	} else {
		log.Info("Using in-memory event bus")
		eventBus = bus.NewMemoryEventBus(log)
	}
	defer eventBus.Close()

	// 4. Initialize SQLite store
	repo, err := sqlite.New(expandHome(cfg.Database.Path))
	if err != nil {
		log.Fatal("Failed to initialize SQLite database", zap.Error(err), zap.String("db_path", cfg.Database.Path))
	}
	defer repo.Close()
	log.Info("SQLite database initialized", zap.String("db_path", cfg.Database.Path))

	// 5. Git worktree service
	gitSvc := git.NewCLIService(cfg.Worktree.BasePath, log)
	log.Info("Worktree service initialized", zap.String("base_path", cfg.Worktree.BasePath))

	// 6. Assistant clients
	clients := map[string]assistant.Client{
		"claude-code": assistant.NewClaudeClient(cfg.Assistant.ClaudeBinary, log),
		"codex":       assistant.NewCodexClient(cfg.Assistant.CodexBinary, log),
	}
	defaultClient, ok := clients[cfg.Assistant.DefaultType]
	if !ok {
		defaultClient = clients["claude-code"]
	}

	// 7. Workflow engine
	registry := workflow.NewRegistry(log)
	runner := workflow.NewRunner(defaultClient, log)

	// 8. Isolation environments
	provider := isolation.NewProvider(gitSvc, repo, log)
	cleanup := isolation.NewCleanupService(repo, gitSvc, cfg.Worktree.StaleThreshold(), log)
	cleanup.SetBus(eventBus)
	resolver := isolation.NewResolver(repo, gitSvc, provider, cleanup,
		cfg.Worktree.MaxPerCodebase, cfg.Worktree.StaleThresholdDays, log)

	// 9. Concurrency gate and artifact sync
	convLock := lock.New(cfg.Orchestrator.MaxConcurrent, log)
	syncer := artifact.NewSyncer(gitSvc, log)

	// 10. Slash command router
	reposBase := filepath.Join(filepath.Dir(expandHome(cfg.Worktree.BasePath)), "repos")
	commands := command.NewRouter(command.Config{
		Store:         repo,
		Git:           gitSvc,
		Workflows:     registry,
		Cleaner:       cleanup,
		Stats:         convLock.Stats,
		Sanitize:      orchestrator.SanitizeCredentials,
		ReposBasePath: reposBase,
	}, log)

	// 11. Orchestrator
	orch := orchestrator.New(orchestrator.Config{
		Store:            repo,
		Lock:             convLock,
		Commands:         commands,
		Registry:         registry,
		Executor:         runner,
		Resolver:         resolver,
		Git:              gitSvc,
		Artifacts:        syncer,
		Clients:          clients,
		DefaultAssistant: cfg.Assistant.DefaultType,
		Bus:              eventBus,
	}, log)
	log.Info("Orchestrator initialized", zap.Int("max_concurrent", cfg.Orchestrator.MaxConcurrent))

	// 12. Platform intake: GitHub webhook posting replies as issue/PR comments
	ghAdapter := platform.NewGitHubAdapter(cfg.Platforms.GitHub.Token, log)
	webhookServer := webhook.NewServer(orch, ghAdapter, cfg.Platforms.GitHub.AllowedUsers, log)

	// 13. WebSocket gateway broadcasting orchestration events
	hub := gateways.NewHub(eventBus, log)
	if err := hub.Start(); err != nil {
		log.Fatal("Failed to start websocket gateway", zap.Error(err))
	}

	// 14. HTTP server
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	webhookServer.Register(router)
	hub.Register(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "archon",
		})
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("Server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("API configured",
		zap.String("webhook", "/api/v1/webhook/github"),
		zap.String("websocket", "/api/v1/ws"),
		zap.String("health", "/health"),
	)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Archon...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	hub.Stop()

	log.Info("Archon stopped")
}

// expandHome resolves a leading "~/" against the current user's home directory.
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// corsMiddleware returns a CORS middleware for HTTP and WebSocket connections.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version, Sec-WebSocket-Protocol")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
