package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/kavos113/quickctf/ctf-instancer/archive"
	"github.com/kavos113/quickctf/ctf-instancer/backend/docker"
	"github.com/kavos113/quickctf/ctf-instancer/challenge"
	"github.com/kavos113/quickctf/ctf-instancer/config"
	"github.com/kavos113/quickctf/ctf-instancer/events"
	"github.com/kavos113/quickctf/ctf-instancer/events/mysqlevents"
	"github.com/kavos113/quickctf/ctf-instancer/events/redisevents"
	"github.com/kavos113/quickctf/ctf-instancer/executor"
	"github.com/kavos113/quickctf/ctf-instancer/handler"
	"github.com/kavos113/quickctf/ctf-instancer/metrics"
	"github.com/kavos113/quickctf/ctf-instancer/registry"
	"github.com/kavos113/quickctf/lib/logger"
)

const (
	httpShutdownTimeout     = 10 * time.Second
	instanceShutdownTimeout = 2 * time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (default)",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	env := loadEnv()
	file, err := config.LoadFile(env.ConfigPath)
	if err != nil {
		return err
	}

	appLogger := logger.New(serviceName)

	reg, err := registry.New(file.Definitions())
	if err != nil {
		return err
	}
	log.Printf("Loaded %d challenges from %s", reg.Len(), env.ConfigPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector()
	sinks := events.Fanout{collector}

	if env.RedisAddress != "" {
		publisher, err := redisevents.NewPublisher(redisevents.Config{
			Address:  env.RedisAddress,
			Password: env.RedisPassword,
		})
		if err != nil {
			return err
		}
		defer publisher.Close()
		sinks = append(sinks, publisher)
		log.Printf("Publishing events to redis at %s", env.RedisAddress)
	}

	if env.DBHost != "" {
		db, err := mysqlevents.Connect(mysqlConfig(env))
		if err != nil {
			return err
		}
		defer db.Close()

		recorder := mysqlevents.NewRecorder(db)
		if err := recorder.InitSchema(ctx); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
		sinks = append(sinks, recorder)
	}

	opts := executor.Options{
		CreateTimeout:  file.Executor.CreateTimeout.Duration,
		DestroyTimeout: file.Executor.DestroyTimeout.Duration,
		Sink:           sinks,
		Observer:       collector,
		Logger:         appLogger,
	}

	if env.S3Endpoint != "" {
		archiver, err := archive.NewS3Archiver(ctx, s3Config(env))
		if err != nil {
			return err
		}
		opts.Archiver = archiver
		log.Printf("Archiving instance logs to bucket %s", env.S3BucketName)
	}

	healthLis, err := net.Listen("tcp", fmt.Sprintf(":%s", env.HealthPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	healthServer, healthStatus := startHealthServer(healthLis, appLogger)
	defer healthServer.Stop()

	backend, err := docker.New(docker.Config{
		Network:     file.Executor.Network,
		Host:        file.Executor.Host,
		MinPort:     file.Executor.MinPort,
		MaxPort:     file.Executor.MaxPort,
		RegistryURL: file.Executor.RegistryURL,
		PullImages:  *file.Executor.PullImages,
	}, appLogger)
	if err != nil {
		return err
	}

	exec, err := executor.New(ctx, backend, opts)
	if err != nil {
		return err
	}

	reaper := executor.NewReaper(exec, challengeTTL(reg), file.Executor.ReapInterval.Duration)
	reaperDone := make(chan struct{})
	go func() {
		defer close(reaperDone)
		reaper.Run(ctx)
	}()

	router := handler.NewRouter(handler.RouterConfig{
		Catalog: challenge.NewCatalog(reg, exec),
		Credentials: handler.Credentials{
			Username:     file.API.Username,
			Password:     file.API.Password,
			PasswordHash: file.API.PasswordHash,
		},
		Observer: collector,
		Metrics:  collector.Handler(),
		Logger:   appLogger,
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", env.Port),
		Handler: h2c.NewHandler(router, &http2.Server{}),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("Instancer listening on port %s", env.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err = <-serveErr:
		stop()
	}

	log.Println("Shutting down gracefully...")
	healthStatus.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		appLogger.Warn("http shutdown", slog.Any("error", serr))
	}
	cancel()

	<-reaperDone

	instancesCtx, cancel := context.WithTimeout(context.Background(), instanceShutdownTimeout)
	defer cancel()
	if serr := exec.Shutdown(instancesCtx); serr != nil {
		appLogger.Error("instance shutdown", slog.Any("error", serr))
	}

	healthServer.GracefulStop()
	return err
}

// startHealthServer serves grpc.health.v1 on lis until GracefulStop.
func startHealthServer(lis net.Listener, appLogger *slog.Logger) (*grpc.Server, *health.Server) {
	loggingInterceptor := logger.NewLoggingInterceptor(appLogger.With(slog.String("component", "health")))
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			loggingInterceptor.Unary(),
		),
		grpc.ChainStreamInterceptor(
			loggingInterceptor.Stream(),
		),
	)

	healthStatus := health.NewServer()
	healthStatus.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthStatus.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthStatus)

	go func() {
		log.Printf("Health service listening on %s", lis.Addr())
		if err := grpcServer.Serve(lis); err != nil {
			appLogger.Error("health server stopped", slog.Any("error", err))
		}
	}()

	return grpcServer, healthStatus
}

func challengeTTL(reg *registry.Registry) executor.TTLFunc {
	return func(name string) time.Duration {
		def, err := reg.Lookup(name)
		if err != nil {
			return 0
		}
		return def.TTL
	}
}

func mysqlConfig(env *config.Env) *mysqlevents.Config {
	return &mysqlevents.Config{
		Host:     env.DBHost,
		Port:     env.DBPort,
		User:     env.DBUser,
		Password: env.DBPassword,
		Database: env.DBName,
	}
}

func s3Config(env *config.Env) archive.Config {
	return archive.Config{
		Endpoint:   env.S3Endpoint,
		AccessKey:  env.S3AccessKey,
		SecretKey:  env.S3SecretKey,
		BucketName: env.S3BucketName,
		Region:     env.S3Region,
	}
}
