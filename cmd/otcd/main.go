// otcd is the OTC desk daemon: order ledger, settlement engine and
// HTTP API in one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clearhaven/otcx/api"
	"github.com/clearhaven/otcx/internal/access"
	"github.com/clearhaven/otcx/internal/config"
	"github.com/clearhaven/otcx/internal/events"
	"github.com/clearhaven/otcx/internal/funds"
	"github.com/clearhaven/otcx/internal/journal"
	"github.com/clearhaven/otcx/internal/ledger"
	"github.com/clearhaven/otcx/internal/settlement"
	"github.com/clearhaven/otcx/pkg/logger"
)

func main() {
	// .env is optional; environment wins either way.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	roles, err := parseRoles(cfg)
	if err != nil {
		log.Fatal("invalid role configuration", zap.Error(err))
	}
	minOrder, err := cfg.MinOrderValue()
	if err != nil {
		log.Fatal("invalid platform configuration", zap.Error(err))
	}

	ctrl, err := access.NewController(roles, minOrder, cfg.Platform.FeeBps, log)
	if err != nil {
		log.Fatal("failed to build access controller", zap.Error(err))
	}

	store := ledger.NewStore()
	book := funds.NewBook(log)
	bus := events.NewInMemoryBus(log)

	var publishers []events.Publisher
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 {
		publishers = append(publishers, events.NewKafkaPublisher(cfg.Kafka.Brokers, log))
	}
	if cfg.Redis.PublishEvents && cfg.Redis.Address != "" {
		publishers = append(publishers, events.NewRedisPublisher(cfg.Redis.Address, log))
	}
	if len(publishers) > 0 {
		events.Forward(bus, events.NewMultiPublisher(publishers, log), log)
	}

	var jrnl *journal.Journal
	if cfg.Journal.DSN != "" {
		jrnl, err = journal.Open(cfg.Journal.DSN, log)
		if err != nil {
			log.Fatal("failed to open event journal", zap.Error(err))
		}
		jrnl.Subscribe(bus)
	}

	engine := settlement.NewEngine(store, book, ctrl, bus, escrowAccount(), log)

	var limiter gin.HandlerFunc
	if cfg.Redis.Address != "" && cfg.Redis.RateLimit > 0 {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Address})
		limiter = api.RateLimit(client, cfg.Redis.RateLimit, cfg.Redis.RateWindow, log)
	}

	server := api.NewServer(log, engine, store, book, ctrl, jrnl, limiter)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("starting otcd", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("shutdown failed", zap.Error(err))
	}
	log.Info("otcd stopped")
}

func parseRoles(cfg *config.Config) (access.Roles, error) {
	parse := func(name, raw string) (common.Address, error) {
		if !common.IsHexAddress(raw) {
			return common.Address{}, fmt.Errorf("role %s: invalid address %q", name, raw)
		}
		return common.HexToAddress(raw), nil
	}
	operator, err := parse("operator", cfg.Roles.Operator)
	if err != nil {
		return access.Roles{}, err
	}
	treasury, err := parse("treasury", cfg.Roles.Treasury)
	if err != nil {
		return access.Roles{}, err
	}
	keeper, err := parse("escrow_keeper", cfg.Roles.EscrowKeeper)
	if err != nil {
		return access.Roles{}, err
	}
	return access.Roles{Operator: operator, Treasury: treasury, EscrowKeeper: keeper}, nil
}

// escrowAccount is the desk's own account on the value book. Derived,
// not configured, so it can never collide with a configured role.
func escrowAccount() common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("otcx/escrow-account"))[12:])
}
