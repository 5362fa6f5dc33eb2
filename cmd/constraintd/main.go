package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/xela07ax/constraint-ledger/internal/audit"
	"github.com/xela07ax/constraint-ledger/internal/connectors"
	"github.com/xela07ax/constraint-ledger/internal/console/handler"
	"github.com/xela07ax/constraint-ledger/internal/console/server"
	"github.com/xela07ax/constraint-ledger/internal/console/service"
	"github.com/xela07ax/constraint-ledger/internal/domain"
	"github.com/xela07ax/constraint-ledger/internal/engine"
	"github.com/xela07ax/constraint-ledger/internal/eventlog"
	"github.com/xela07ax/constraint-ledger/internal/infra"
	"github.com/xela07ax/constraint-ledger/internal/infra/auth"
	"github.com/xela07ax/constraint-ledger/internal/repository/postgres"
	"github.com/xela07ax/constraint-ledger/internal/repository/sqlite"
	"github.com/xela07ax/constraint-ledger/internal/store"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("constraintd stopped with error", zap.Error(err))
	}
	logger.Info("constraintd exited properly")
}

// storage - выбранный журнал и куда писать аудит.
type storage struct {
	log        eventlog.EventLog
	auditSink  audit.Storage
	auditQuery service.AuditLogProvider // nil, если аудит не читается
	close      func()
}

func openStorage(ctx context.Context, cfg infra.DatabaseConfig, logger *zap.Logger) (*storage, error) {
	switch cfg.Driver {
	case infra.DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.URL, cfg.MaxConns, cfg.MinConns)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		auditRepo := postgres.NewAuditRepo(pool)
		return &storage{
			log:        postgres.NewEventRepo(pool),
			auditSink:  auditRepo,
			auditQuery: auditRepo,
			close:      pool.Close,
		}, nil

	case infra.DriverSQLite:
		repo, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return &storage{
			log:       repo,
			auditSink: audit.NewLogSink(logger),
			close:     func() { _ = repo.Close() },
		}, nil

	default:
		logger.Warn("using in-memory event log, history is lost on restart")
		return &storage{
			log:       eventlog.NewMemory(),
			auditSink: audit.NewLogSink(logger),
			close:     func() {},
		}, nil
	}
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	basis, err := domain.ParseExpiryBasis(cfg.Engine.ClaimExpiryBasis)
	if err != nil {
		return err
	}

	// 1. Хранилище
	st, err := openStorage(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer st.close()

	// 2. Метрики и надёжность журнала
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	eventLog := engine.NewReliableLog(st.log, engine.ReliabilityConfig{
		RPS:                  cfg.Engine.LogRPS,
		Burst:                cfg.Engine.LogBurst,
		BreakerMaxRequests:   cfg.Engine.CBMaxRequests,
		BreakerInterval:      cfg.Engine.CBInterval,
		BreakerTimeout:       cfg.Engine.CBTimeout,
		BreakerFailThreshold: cfg.Engine.CBFailThreshold,
	}, metrics, logger)

	// 3. Табло
	board := engine.NewBoard(eventLog, domain.Applier{Basis: basis}, logger)
	if err := board.Init(ctx); err != nil {
		return fmt.Errorf("board warmup: %w", err)
	}

	// 4. Доставка событий
	publishers := engine.Publishers{board}
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = infra.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		publishers = append(publishers, connectors.NewRedisPublisher(rdb, cfg.Redis.Channel))
	}
	if cfg.Kafka.Enabled {
		kp, err := connectors.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Engine.PublishTimeout)
		if err != nil {
			return err
		}
		defer kp.Close()
		publishers = append(publishers, kp)
	}

	// 5. Аудит: пачками в фоне
	trail := audit.NewTrail(st.auditSink, logger, audit.Options{
		BufferSize:    cfg.Audit.BufferSize,
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: cfg.Audit.FlushInterval,
		BufferGauge:   metrics.AuditBufferFill,
	})
	trail.Start()
	defer trail.Stop()

	// 6. Ядро
	dispatcher := engine.NewDispatcher(eventLog, engine.ConstraintRegistry(), engine.DispatcherConfig{
		Basis:           basis,
		ConflictRetries: cfg.Engine.ConflictRetries,
		RetryDelay:      cfg.Engine.RetryDelay,
		PublishTimeout:  cfg.Engine.PublishTimeout,
	},
		engine.WithPublisher(publishers),
		engine.WithAuditor(trail),
		engine.WithMetrics(metrics),
		engine.WithLogger(logger),
	)
	constraints := store.NewAggregateConstraintStore(dispatcher, eventLog)

	// 7. Авторизация. Интерфейс остаётся nil, если ключа нет
	var validator auth.TokenValidator
	if len(cfg.Auth.PublicKey) > 0 {
		v, err := auth.NewValidatorFromPEM(cfg.Auth.PublicKey,
			auth.WithIssuer(cfg.Auth.Issuer),
			auth.WithAudience(cfg.Auth.Audience),
			auth.WithLeeway(cfg.Auth.Leeway),
		)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		validator = v
	} else {
		logger.Warn("auth public key is not configured, API is open")
	}

	// 8. Транспорт
	api := server.NewConsoleServer(logger, validator,
		handler.NewConstraintHandler(service.NewConstraintService(constraints, board), logger),
		handler.NewAuditHandler(service.NewAuditService(st.auditQuery), logger),
	)
	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var (
		grpcSrv *grpc.Server
		grpcLis net.Listener
	)
	if cfg.Server.GRPCPort > 0 {
		interceptors := []grpc.UnaryServerInterceptor{engine.UnaryTraceInterceptor()}
		if validator != nil {
			interceptors = append(interceptors, engine.UnaryAuthInterceptor(validator, logger))
		}
		grpcSrv = grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))
		engine.NewGRPCServer(constraints).Register(grpcSrv)

		grpcLis, err = net.Listen("tcp", cfg.Server.GRPCAddr())
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP API started", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})

	if grpcSrv != nil {
		g.Go(func() error {
			logger.Info("gRPC API started", zap.String("addr", grpcLis.Addr().String()))
			return grpcSrv.Serve(grpcLis)
		})
	}

	var metricsSrv *http.Server
	if cfg.Server.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Server.MetricsAddr(), Handler: mux}
		g.Go(func() error {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
	}

	// Табло догоняет события других инстансов
	if rdb != nil {
		g.Go(func() error {
			engine.FollowEvents(gctx, rdb, board, cfg.Redis.Channel, logger)
			return nil
		})
	}

	// Graceful Shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("constraintd stopping...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		err := httpSrv.Shutdown(shutdownCtx)
		if metricsSrv != nil {
			err = errors.Join(err, metricsSrv.Shutdown(shutdownCtx))
		}
		if grpcSrv != nil {
			stopGRPC(shutdownCtx, grpcSrv)
		}
		return err
	})

	return g.Wait()
}

// stopGRPC ждёт GracefulStop не дольше дедлайна, потом рвёт соединения.
func stopGRPC(ctx context.Context, srv *grpc.Server) {
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		srv.Stop()
	}
}
