package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/anthanhphan/gosdk/logger"
	"github.com/redis/go-redis/v9"

	http_handler "github.com/anthanhphan/go-replicated-kv/internal/node/adapter/inbound/http"
	"github.com/anthanhphan/go-replicated-kv/internal/node/adapter/outbound/memstore"
	"github.com/anthanhphan/go-replicated-kv/internal/node/adapter/outbound/redisbroker"
	"github.com/anthanhphan/go-replicated-kv/internal/node/config"
	"github.com/anthanhphan/go-replicated-kv/internal/node/service"
	"github.com/anthanhphan/go-replicated-kv/pkg/cluster"
	"github.com/anthanhphan/go-replicated-kv/pkg/idgen"
	"github.com/anthanhphan/go-replicated-kv/pkg/ring"
)

type App struct {
	cfg     *config.Config
	redis   *redis.Client
	broker  *redisbroker.Broker
	runtime *service.NodeRuntime
	server  *http_handler.Server
	cluster *cluster.Adapter
	stop    context.CancelFunc
}

func New(configPath string) (*App, error) {
	// 1. Load Config
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Initialize Logger
	logger.InitLogger(&cfg.Logger)

	// If NodeID is empty, generate it based on hostname and port
	nodeID := cfg.Server.NodeID
	if nodeID == "" {
		host, _ := os.Hostname()
		nodeID = fmt.Sprintf("%s-%d", host, cfg.Server.HTTPPort)
	}

	// 3. Hash Ring
	rg := ring.New(cfg.Replication.VNodesPerNode)

	// 4. Broker Transport
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Broker.RedisAddr,
		Password: cfg.Broker.RedisPassword,
		DB:       cfg.Broker.RedisDB,
	})
	broker, err := redisbroker.New(context.Background(), client, nodeID, cfg.Broker.ChannelPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to connect broker: %w", err)
	}

	// 5. Node Runtime
	store := memstore.New(nodeID)
	runtime := service.NewNodeRuntime(nodeID, rg, store, broker, service.Settings{
		ReplicationFactor: cfg.Replication.Factor,
		WriteTimeout:      cfg.Replication.WriteTimeout(),
		ReadTimeout:       cfg.Replication.ReadTimeout(),
		StabilizeTimeout:  cfg.Replication.StabilizeTimeout(),
		IDClock:           idgen.NewRedisClock(client),
	})

	// 6. Discovery
	clusterAdapter, err := cluster.NewAdapter(nodeID, cfg.Server.Hostname, cfg.Gossip.Port, cfg.Server.HTTPPort, runtime.AdmitNode)
	if err != nil {
		return nil, fmt.Errorf("failed to init discovery: %w", err)
	}

	// 7. Admin HTTP Server
	server := http_handler.NewServer(cfg, runtime)

	return &App{
		cfg:     cfg,
		redis:   client,
		broker:  broker,
		runtime: runtime,
		server:  server,
		cluster: clusterAdapter,
	}, nil
}

func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.stop = cancel

	a.runtime.Start(ctx)

	// Join discovery seeds, skipping ourselves
	seeds := make([]string, 0, len(a.cfg.Gossip.Seeds))
	selfSeedSuffix := fmt.Sprintf(":%d", a.cfg.Gossip.Port)
	for _, seed := range a.cfg.Gossip.Seeds {
		if seed == "" {
			continue
		}
		if strings.HasSuffix(seed, selfSeedSuffix) && strings.Contains(seed, a.cfg.Server.Hostname) {
			continue
		}
		seeds = append(seeds, seed)
	}

	if len(seeds) > 0 {
		var joinErr error
		for i := 0; i < 5; i++ {
			joinErr = a.cluster.Join(seeds)
			if joinErr == nil {
				break
			}
			logger.Warnw("Failed to join cluster, retrying...", "attempt", i+1, "error", joinErr.Error())
			time.Sleep(2 * time.Second)
		}
		if joinErr != nil {
			logger.Errorw("Failed to join cluster after retries", "error", joinErr.Error())
		}
	}

	if err := a.runtime.Announce(ctx); err != nil {
		logger.Warnw("Membership announce failed", "error", err.Error())
	}

	logger.Infow("Node starting",
		"id", a.cluster.LocalNode().ID,
		"http_port", a.cfg.Server.HTTPPort,
		"gossip", a.cfg.Gossip.Port,
		"replication_factor", a.cfg.Replication.Factor)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			serverErrCh <- err
		}
	}()

	// Wait for shutdown signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	var runErr error
	select {
	case sig := <-stop:
		logger.Infow("Shutdown signal received", "signal", sig.String())
	case err := <-serverErrCh:
		runErr = fmt.Errorf("http server failed: %w", err)
		logger.Errorw("Admin server exited unexpectedly", "error", err.Error())
	}

	logger.Info("Shutting down node")
	cancel()
	if err := a.cluster.Leave(); err != nil {
		logger.Warnw("Discovery leave failed", "error", err.Error())
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		logger.Warnw("Admin server stop failed", "error", err.Error())
	}
	if err := a.broker.Close(); err != nil {
		logger.Warnw("Broker close failed", "error", err.Error())
	}
	if err := a.redis.Close(); err != nil {
		logger.Warnw("Redis close failed", "error", err.Error())
	}

	return runErr
}
