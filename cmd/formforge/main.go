package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"golang.org/x/crypto/bcrypt"

	formforge "github.com/user/formforge"
	"github.com/user/formforge/internal/api"
	"github.com/user/formforge/internal/auth"
	"github.com/user/formforge/internal/config"
	"github.com/user/formforge/internal/notification"
	"github.com/user/formforge/internal/storage"
	"github.com/user/formforge/internal/storage/memory"
	storagemongo "github.com/user/formforge/internal/storage/mongodb"
	"github.com/user/formforge/internal/workflow"
	"github.com/user/formforge/pkg/evaluator"
	"github.com/user/formforge/pkg/filestore"
	"github.com/user/formforge/pkg/logging"
	"github.com/user/formforge/pkg/webhook"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	addr := flag.String("addr", "", "listen address override")
	flag.Parse()

	logger := logging.NewDefaultLogger()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Warn("config file not loaded, using defaults", "path", *configPath, "error", err)
		cfg = config.Default()
		cfg.JWTSecret = os.Getenv("FORMFORGE_JWT_SECRET")
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if cfg.JWTSecret == "" {
		log.Fatal("a JWT secret is required: set jwt_secret in the config or FORMFORGE_JWT_SECRET")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to open storage: %v", err)
	}

	var blocklist auth.Blocklist = auth.NewStorageBlocklist(store)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, falling back to storage blocklist", "addr", cfg.Redis.Addr, "error", err)
		} else {
			blocklist = auth.NewRedisBlocklist(client, blocklist, logger)
		}
	}

	files, err := filestore.New(cfg.Uploads.Dir, logger)
	if err != nil {
		log.Fatalf("failed to open upload store: %v", err)
	}
	if err := files.StartSweeper(); err != nil {
		logger.Warn("temp sweeper not started", "error", err)
	}

	var gateway formforge.EmailGateway
	if cfg.SMTP.Host != "" {
		gateway = notification.NewSMTPGateway(cfg.SMTP)
	} else {
		logger.Warn("smtp not configured, emails will be logged and dropped")
		gateway = logEmailGateway{logger: logger}
	}
	emails := notification.NewService(gateway, store, logger, cfg.PublicURL)

	eval := evaluator.New(logger)
	hooks := webhook.NewDispatcher(store, logger)
	engine := workflow.NewEngine(store, eval, emails, logger)
	authSvc := auth.New(store, blocklist, logSMSGateway{logger: logger}, logger, []byte(cfg.JWTSecret))

	bootstrapAdmin(ctx, store, logger)

	server := api.NewServer(store, authSvc, eval, engine, hooks, emails, files, logger)
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	go func() {
		logger.Info("formforge listening", "addr", cfg.Server.Addr, "storage", cfg.Storage.Type)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	hooks.Close()
	emails.Close()
	files.Stop()
	logger.Info("shutdown complete")
}

func openStorage(ctx context.Context, cfg *config.Config, logger formforge.Logger) (storage.Storage, error) {
	switch cfg.Storage.Type {
	case "mongodb":
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.Storage.URI))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		dbName := cfg.Storage.Database
		if dbName == "" {
			dbName = "formforge"
			if parts := strings.Split(cfg.Storage.URI, "/"); len(parts) > 3 {
				if name := strings.Split(parts[3], "?")[0]; name != "" {
					dbName = name
				}
			}
		}
		store := storagemongo.NewMongoStorage(client, dbName)
		if s, ok := store.(interface{ Init(context.Context) error }); ok {
			initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := s.Init(initCtx); err != nil {
				logger.Warn("storage index init failed", "error", err)
			}
		}
		return store, nil
	case "", "memory":
		logger.Warn("using in-memory storage, data is lost on restart")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Storage.Type)
	}
}

// bootstrapAdmin seeds the first admin account when the user table is
// empty and FORMFORGE_ADMIN_PASSWORD is set.
func bootstrapAdmin(ctx context.Context, store storage.Storage, logger formforge.Logger) {
	password := os.Getenv("FORMFORGE_ADMIN_PASSWORD")
	if password == "" {
		return
	}
	_, total, err := store.ListUsers(ctx, storage.CommonFilter{Limit: 1})
	if err != nil || total > 0 {
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		logger.Error("admin bootstrap failed", "error", err)
		return
	}
	user := storage.User{
		ID:                 "admin",
		Username:           "admin",
		Email:              "admin@localhost",
		UserType:           storage.UserTypeEmployee,
		Password:           string(hash),
		PasswordExpiration: time.Now().Add(auth.PasswordLifetime),
		Roles:              []storage.Role{storage.RoleSuperadmin},
		CreatedAt:          time.Now(),
	}
	if err := store.CreateUser(ctx, user); err != nil {
		logger.Error("admin bootstrap failed", "error", err)
		return
	}
	logger.Info("bootstrapped initial admin user", "username", user.Username)
}

// logEmailGateway stands in when SMTP is not configured.
type logEmailGateway struct {
	logger formforge.Logger
}

func (g logEmailGateway) Send(_ context.Context, to []string, subject, _, _ string) error {
	g.logger.Info("email dropped (smtp not configured)", "to", to, "subject", subject)
	return nil
}

// logSMSGateway logs OTP codes instead of sending them. Wire a real
// provider here for production deployments.
type logSMSGateway struct {
	logger formforge.Logger
}

func (g logSMSGateway) SendOTP(_ context.Context, mobile, code string) error {
	g.logger.Info("otp issued", "mobile", mobile, "code", code)
	return nil
}
