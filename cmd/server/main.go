package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	grpcadapter "github.com/simaogato/opsdesk-backend/internal/adapter/grpc"
	"github.com/simaogato/opsdesk-backend/internal/adapter/repository/memory"
	"github.com/simaogato/opsdesk-backend/internal/adapter/repository/postgres"
	uploadmemory "github.com/simaogato/opsdesk-backend/internal/adapter/upload/memory"
	"github.com/simaogato/opsdesk-backend/internal/adapter/upload/objectstore"
	"github.com/simaogato/opsdesk-backend/internal/config"
	"github.com/simaogato/opsdesk-backend/internal/domain"
	"github.com/simaogato/opsdesk-backend/internal/logger"
	"github.com/simaogato/opsdesk-backend/internal/usecase/dashboard"
	"github.com/simaogato/opsdesk-backend/internal/usecase/issuance"
	"github.com/simaogato/opsdesk-backend/internal/usecase/workflow"
)

func main() {
	issueToken := flag.String("issue-token", "", "print a session token for ROLE:NAME and exit")
	tokenTTL := flag.Duration("token-ttl", 12*time.Hour, "lifetime of a token printed by -issue-token")
	flag.Parse()

	cfg, loadedDotEnv, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.Init(os.Stdout, cfg.LogLevel)
	if loadedDotEnv {
		log.Debug("loaded .env file")
	}

	if *issueToken != "" {
		if err := printToken(cfg, *issueToken, *tokenTTL); err != nil {
			log.Error("failed to issue token", "error", err)
			os.Exit(1)
		}
		return
	}

	ctx := context.Background()

	// 1. Setup storage
	instrumentRepo, closeRepo, err := setupRepository(ctx, cfg, log)
	if err != nil {
		log.Error("failed to set up instrument storage", "error", err)
		os.Exit(1)
	}
	defer closeRepo()

	uploads, err := setupUploads(ctx, cfg)
	if err != nil {
		log.Error("failed to set up upload storage", "error", err)
		os.Exit(1)
	}

	// 2. Initialize services
	dashboardService := dashboard.NewDashboardService(instrumentRepo, cfg.SummaryCacheTTL)
	issuanceService := issuance.NewIssuanceService(instrumentRepo, uploads, workflow.NewEngine(), log)
	issuanceService.MaxRetries = cfg.SubmitMaxRetries
	issuanceService.OnChange = dashboardService.Invalidate

	// 3. Start gRPC server
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	grpcServer := grpclib.NewServer(
		grpclib.ChainUnaryInterceptor(
			grpcadapter.RateLimitInterceptor(limiter, log),
			grpcadapter.AuthInterceptor([]byte(cfg.JWTSecret)),
		),
	)
	grpcadapter.RegisterInstrumentServiceServer(grpcServer, grpcadapter.NewServer(issuanceService, dashboardService))
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error("failed to listen", "addr", cfg.GRPCAddr, "error", err)
		os.Exit(1)
	}

	go func() {
		log.Info("gRPC server listening", "addr", cfg.GRPCAddr,
			"storage", cfg.StorageBackend, "uploads", cfg.UploadBackend)
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("failed to serve gRPC server", "error", err)
			os.Exit(1)
		}
	}()

	waitForShutdown(grpcServer, log)
}

func setupRepository(ctx context.Context, cfg *config.AppConfig, log *slog.Logger) (domain.InstrumentRepository, func(), error) {
	if cfg.StorageBackend == config.BackendMemory {
		log.Warn("using in-memory instrument storage; records are lost on restart")
		return memory.NewInstrumentRepository(), func() {}, nil
	}

	db, err := postgres.NewDB(ctx, postgres.Config{
		Driver:       cfg.DatabaseDriver,
		URL:          cfg.DatabaseURL,
		MaxOpenConns: cfg.DatabaseMaxOpenConn,
		PingTimeout:  cfg.DatabasePingTimeout,
	})
	if err != nil {
		return nil, nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	log.Info("database ready", "driver", cfg.DatabaseDriver)

	return postgres.NewInstrumentRepository(db), func() { _ = db.Close() }, nil
}

func setupUploads(ctx context.Context, cfg *config.AppConfig) (domain.UploadStore, error) {
	if cfg.UploadBackend == config.BackendMemory {
		return uploadmemory.NewUploadStore(), nil
	}
	return objectstore.NewUploadStore(ctx, objectstore.Config{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		Bucket:    cfg.MinIOBucket,
		Region:    cfg.MinIORegion,
		UseSSL:    cfg.MinIOUseSSL,
	})
}

func printToken(cfg *config.AppConfig, spec string, ttl time.Duration) error {
	role, name, ok := strings.Cut(spec, ":")
	if !ok || strings.TrimSpace(role) == "" {
		return fmt.Errorf("want ROLE:NAME, got %q", spec)
	}
	token, err := grpcadapter.IssueToken([]byte(cfg.JWTSecret), domain.Caller{Role: role, Name: name}, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// waitForShutdown waits for SIGTERM or SIGINT and gracefully shuts down the server
func waitForShutdown(grpcServer *grpclib.Server, log *slog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	log.Info("shutting down gracefully", "signal", sig.String())

	grpcServer.GracefulStop()
	log.Info("gRPC server stopped")
}
