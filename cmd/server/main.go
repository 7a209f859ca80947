package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"

	"github.com/jjeonyo/vision/internal/httpapi"
	"github.com/jjeonyo/vision/internal/integrations/inference"
	"github.com/jjeonyo/vision/internal/integrations/paramstore"
	"github.com/jjeonyo/vision/internal/repository"
	"github.com/jjeonyo/vision/internal/usecase"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file loaded, using system environment", "err", err)
	}

	// ---- Configuration (read only here) ----
	addr := listenAddr(os.Getenv("PORT"))
	transcriptTable := mustEnv("TRANSCRIPT_TABLE")
	inferenceBaseURL := mustEnv("INFERENCE_BASE_URL")
	inferenceTimeout := time.Duration(envInt("INFERENCE_TIMEOUT_SECONDS", 30)) * time.Second
	transcriptLimit := envInt("TRANSCRIPT_LIMIT", 100)
	paramPrefix := strings.TrimRight(os.Getenv("PARAM_PREFIX"), "/")

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	store, err := repository.New(awsdynamodb.NewFromConfig(cfg), transcriptTable)
	if err != nil {
		slog.Error("failed to create transcript store", "err", err)
		os.Exit(1)
	}

	opts := []inference.Option{inference.WithTimeout(inferenceTimeout)}
	if paramPrefix != "" {
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
		if err != nil {
			slog.Error("failed to create SSM client", "err", err)
			os.Exit(1)
		}
		opts = append(opts, inference.WithServiceToken(ssmClient, paramPrefix+"/inference-token"))
	}
	inferenceClient, err := inference.NewClient(inferenceBaseURL, opts...)
	if err != nil {
		slog.Error("failed to create inference client", "err", err)
		os.Exit(1)
	}

	// ---- Orchestration and routing ----
	chatService, err := usecase.NewChatService(store, inferenceClient, slog.Default())
	if err != nil {
		slog.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}

	h, err := httpapi.NewHandler(chatService, store, slog.Default(), transcriptLimit)
	if err != nil {
		slog.Error("failed to create HTTP handler", "err", err)
		os.Exit(1)
	}

	runServer(ctx, addr, httpapi.NewRouter(h))
}

func runServer(ctx context.Context, addr string, router http.Handler) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("chat relay listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "err", err)
			os.Exit(1)
		}
		slog.Info("server stopped")
	}
}

func listenAddr(port string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		return ":8080"
	}
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
