// Command orchestrator wires the Runtime Controller, the MCP Client Pool,
// the Trajectory Writer/Indexer, and the read-only Query API into a single
// process. Task ingestion is explicitly out of scope (§1 Non-goals) — this
// binary owns the channel the Controller drains but exposes no way to
// reach it; a separate ingestion process would hold the send side.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/relaymind/orchestrator/pkg/config"
	"github.com/relaymind/orchestrator/pkg/index"
	"github.com/relaymind/orchestrator/pkg/invocation"
	"github.com/relaymind/orchestrator/pkg/llmclient"
	"github.com/relaymind/orchestrator/pkg/masking"
	"github.com/relaymind/orchestrator/pkg/mcp"
	"github.com/relaymind/orchestrator/pkg/queryapi"
	"github.com/relaymind/orchestrator/pkg/runtime"
	"github.com/relaymind/orchestrator/pkg/task"
	"github.com/relaymind/orchestrator/pkg/trajectory"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("warning: could not load %s: %v", envPath, err)
	}

	cfg, err := config.Initialize(*configDir)
	if err != nil {
		log.Fatalf("failed to initialize configuration: %v", err)
	}

	cat, err := cfg.LoadCatalog()
	if err != nil {
		log.Fatalf("failed to load tool catalog: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	masker := masking.NewService(cat)

	serverCfgs := make([]mcp.ServerConfig, 0, len(cfg.MCPServerRegistry.GetAll()))
	for name, sc := range cfg.MCPServerRegistry.GetAll() {
		serverCfgs = append(serverCfgs, mcp.ServerConfig{
			Name:            name,
			URL:             sc.URL,
			MaxContentBytes: sc.MaxContentBytes,
			RatePerSecond:   float64(sc.RatePerSecond),
			RateBurst:       sc.RateBurst,
		})
	}
	pool := mcp.NewPool(serverCfgs, slog.Default())
	pool.SetMasker(masker)
	defer pool.Close()

	llm := llmclient.NewAnthropicClient(llmclient.AnthropicConfig{
		APIKey:    os.Getenv(getEnvOr(cfg.LLMProvider.APIKeyEnv, "ANTHROPIC_API_KEY")),
		Model:     anthropic.Model(cfg.LLMProvider.Model),
		MaxTokens: cfg.LLMProvider.MaxTokens,
	})

	grouping := trajectory.Grouping(cfg.Trajectory.Grouping)
	writer := trajectory.NewWriter(cfg.Trajectory.BaseDir, grouping)
	reader := trajectory.NewReader(cfg.Trajectory.BaseDir, grouping)

	tasks := make(chan task.Spec)
	defer close(tasks)

	runtimeCfg := runtime.Config{
		WorkerCount:   cfg.Runtime.WorkerCount,
		ShutdownGrace: cfg.Runtime.ShutdownGrace,
		ExecutorConfig: invocation.Config{
			MaxPerCall:   cfg.Runtime.MaxPerCall,
			AggregateCap: cfg.Runtime.AggregateCap,
		},
	}
	controller := runtime.New(runtimeCfg, cat, llm, pool, writer, tasks)

	// Run on an independent, never-cancelled context: the Controller's own
	// Shutdown(shutdownCtx) call below is the sole owner of the grace-period-
	// then-cancel sequence (§4.9). If ctx itself cancelled in-flight sessions,
	// every Session's childCtx (a child of ctx) would be cancelled the
	// instant SIGINT/SIGTERM arrived, before the grace period ever applied.
	go controller.Run(context.Background())

	var queryPool *pgxpool.Pool
	if dsn := os.Getenv("INDEX_DATABASE_URL"); dsn != "" {
		ix, err := index.New(ctx, dsn)
		if err != nil {
			log.Fatalf("failed to start trajectory indexer: %v", err)
		}
		defer ix.Close()
		go func() {
			if err := ix.Run(ctx, cfg.Trajectory.BaseDir, index.DefaultPollInterval); err != nil && ctx.Err() == nil {
				slog.Error("trajectory indexer stopped", "error", err)
			}
		}()

		queryPool, err = pgxpool.New(ctx, dsn)
		if err != nil {
			log.Fatalf("failed to open query api pool: %v", err)
		}
		defer queryPool.Close()
	}

	var qa *queryapi.Server
	if queryPool != nil {
		gin.SetMode(getEnv("GIN_MODE", gin.ReleaseMode))
		qa = queryapi.NewServer(queryPool, reader)
		addr := ":" + getEnv("QUERY_API_PORT", "8081")
		go func() {
			slog.Info("query api listening", "addr", addr)
			if err := qa.Start(addr); err != nil && err != http.ErrServerClosed {
				slog.Error("query api server stopped", "error", err)
			}
		}()
	}

	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Runtime.ShutdownGrace+5*time.Second)
	defer cancel()
	controller.Shutdown(shutdownCtx)

	if qa != nil {
		_ = qa.Shutdown(shutdownCtx)
	}
}

func getEnvOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
