package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/jjeonyo/vision/handler"
	"github.com/jjeonyo/vision/internal/integrations/inference"
	"github.com/jjeonyo/vision/internal/integrations/paramstore"
	"github.com/jjeonyo/vision/internal/repository"
	"github.com/jjeonyo/vision/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	transcriptTable := mustEnv("TRANSCRIPT_TABLE")
	inferenceBaseURL := mustEnv("INFERENCE_BASE_URL")
	inferenceTimeout := time.Duration(envInt("INFERENCE_TIMEOUT_SECONDS", 30)) * time.Second
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

	// ---- Handler ----
	chatService, err := usecase.NewChatService(store, inferenceClient, slog.Default())
	if err != nil {
		slog.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(chatService)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
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
