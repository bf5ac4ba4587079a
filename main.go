package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"roomsync/internal/auth"
	"roomsync/internal/config"
	"roomsync/internal/events"
	"roomsync/internal/metrics"
	"roomsync/internal/room"
	"roomsync/internal/store"
	"roomsync/server"
)

// roomsync 入口：房间状态同步服务（HTTP + WebSocket）
func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	// 使用 zap 日志库写入文件（带滚动）
	log, err := server.InitLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer server.SyncLogger(log)

	if err := run(cfg, log); err != nil {
		log.Error("exit with error", zap.Error(err))
		server.SyncLogger(log)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := auth.New(cfg.Auth.Mode, cfg.Auth.Secret)
	if err != nil {
		return err
	}

	backend, closeBackend, err := openStore(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	defer closeBackend()
	global := &metrics.Global{}
	mirror := store.NewMirror(backend, cfg.Redis.QueueSize, cfg.Redis.OpTimeout, log, global)

	var publisher events.Publisher = events.Nop{}
	if cfg.NATS.Enabled {
		nc, err := events.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, log)
		if err != nil {
			return err
		}
		defer nc.Close()
		publisher = nc
		log.Info("publishing lifecycle events", zap.String("url", cfg.NATS.URL))
	}

	reg := room.NewRegistry(cfg.RoomOptions(),
		room.WithLogger(log),
		room.WithMirror(mirror),
		room.WithPublisher(publisher),
		room.WithMetrics(global),
	)
	hb := room.NewHeartbeat(reg, cfg.Heartbeat.Interval, cfg.Heartbeat.Timeout, cfg.Heartbeat.EmptyRoomTTL)

	api := server.NewAPI(reg, mirror, log)
	ws := server.NewWSHandler(reg, provider, cfg.Auth.Mode == "dev", cfg.WS, log)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.NewRouter(api, ws, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("roomsync listening", zap.String("addr", cfg.Addr), zap.String("auth", cfg.Auth.Mode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error { return hb.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// 先停止接入，再回收房间，最后排空外部存储写队列
		httpErr := srv.Shutdown(shutdownCtx)
		regErr := reg.Shutdown(shutdownCtx)
		mirrorErr := mirror.Close(shutdownCtx)
		return errors.Join(httpErr, regErr, mirrorErr)
	})
	return g.Wait()
}

// openStore 启用 redis 时连接并探活，否则使用空实现
func openStore(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) (store.Store, func(), error) {
	if !cfg.Enabled {
		return store.Nop{}, func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	log.Info("mirroring room state to redis", zap.String("addr", opts.Addr))
	return store.NewRedis(client), func() { _ = client.Close() }, nil
}
