package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"PPChat/global/config"
	"PPChat/logger"
	mid "PPChat/middleware"
	"PPChat/module/chat/store"
	"PPChat/service/chat"
	"PPChat/service/hub"
	"PPChat/service/metrics"
	"PPChat/service/natsx"
	"PPChat/service/presence"
	"PPChat/service/storage"
	redisx "PPChat/service/storage/redis"
	"PPChat/tools/ids"
	"PPChat/tools/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	confPath := flag.String("config", os.Getenv("GATEWAY_CONFIG"), "path to the gateway yaml config")
	flag.Parse()

	conf, err := config.Load(*confPath)
	if err != nil {
		logger.Error("load config", zap.Error(err))
		os.Exit(1)
	}
	logger.Init(logger.Options{
		Level:      conf.Log.Level,
		JSON:       conf.Log.JSON,
		File:       conf.Log.File,
		MaxSizeMB:  conf.Log.MaxSizeMB,
		MaxBackups: conf.Log.MaxBackups,
		MaxAgeDays: conf.Log.MaxAgeDays,
	})
	defer logger.Sync()
	ids.SetNodeID(conf.Snowflake)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf); err != nil {
		logger.Error("gateway stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, conf *config.AppConfig) error {
	log := logger.Named("main").With(zap.String("gateway", conf.NodeID))
	var cleanups []func()
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()

	// 1) persistence
	var st store.Store
	if conf.Postgres.DSN == "" {
		log.Warn("no postgres dsn, running on the in-memory store")
		st = store.NewMemStore()
	} else {
		pool, err := store.Connect(ctx, conf.Postgres.DSN, store.PgOptions{
			MaxConns:        conf.Postgres.MaxConns,
			MaxConnIdleTime: conf.Postgres.MaxConnIdleTime,
		})
		if err != nil {
			return err
		}
		cleanups = append(cleanups, pool.Close)
		pg := store.NewPgStore(pool)
		if conf.Postgres.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				return err
			}
		}
		st = pg
	}

	// 2) presence, optionally mirrored into redis
	var trackerOpts []presence.Option
	if conf.Redis.Enabled {
		rdb, err := redisx.Connect(ctx, conf.Redis.Config)
		if err != nil {
			return err
		}
		cleanups = append(cleanups, func() { _ = rdb.Close() })
		trackerOpts = append(trackerOpts, presence.WithMirror(storage.NewRedisPresence(rdb, conf.NodeID, conf.Redis.PresenceTTL)))
	}
	tracker := presence.NewTracker(st, trackerOpts...)

	// 3) hub, optionally relayed through nats
	h := hub.New(conf.Hub)
	if conf.NATS.Enabled {
		nc, err := natsx.NewClient(conf.NATS.Config)
		if err != nil {
			return err
		}
		cleanups = append(cleanups, func() { _ = nc.Close() })
		relay := natsx.NewRelay(nc, conf.NodeID, h)
		if err := relay.Start(ctx); err != nil {
			return err
		}
		h.SetRelay(relay)
	}
	// drained before the relay connection closes
	cleanups = append(cleanups, h.Close)

	jwtOpts := security.DefaultOptions([]byte(conf.JWT.Secret))
	jwtOpts.Alg = conf.JWT.Alg
	jwtOpts.Leeway = conf.JWT.Leeway

	gw := chat.NewServer(chat.Config{
		GatewayID:        conf.NodeID,
		SendQueue:        conf.Gateway.SendQueue,
		PingInterval:     conf.Gateway.PingInterval,
		PongWait:         conf.Gateway.PongWait,
		WriteWait:        conf.Gateway.WriteWait,
		MaxMessageBytes:  conf.Gateway.MaxMessageBytes,
		HandshakeTimeout: conf.Gateway.HandshakeTimeout,
		EventTimeout:     conf.Gateway.EventTimeout,
		OfflineTimeout:   conf.Gateway.OfflineTimeout,
		CheckOrigin:      mid.OriginChecker(conf.HTTP.AllowedOrigins),
	}, chat.Deps{
		Store:    st,
		Resolver: security.NewJWTResolver(jwtOpts, st),
		Hub:      h,
		Presence: tracker,
	})

	// 4) http
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(mid.Recovery(), mid.AccessLog())
	mid.Manager().Add(mid.CORS(conf.HTTP.AllowedOrigins))
	r.Use(mid.Manager().Use())
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", metrics.Handler())
	gw.Register(r)
	httpSrv := &http.Server{Addr: conf.HTTP.Addr, Handler: r}

	// 5) grpc health
	gs := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(gs, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	lis, err := net.Listen("tcp", conf.GRPC.Addr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("grpc health listening", zap.String("addr", conf.GRPC.Addr))
		return gs.Serve(lis)
	})
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", conf.HTTP.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		healthSrv.Shutdown()

		sctx, cancel := context.WithTimeout(context.Background(), conf.HTTP.ShutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
		if err := gw.Shutdown(sctx); err != nil {
			log.Warn("gateway shutdown", zap.Error(err))
		}
		gs.GracefulStop()
		return nil
	})

	err = g.Wait()
	conns, users := gw.ConnMgr().Count()
	log.Info("gateway stopped", zap.Int("connections", conns), zap.Int("users", users))
	return err
}
