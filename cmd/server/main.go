package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dubflow/api/internal/artifact"
	"github.com/dubflow/api/internal/chunk"
	"github.com/dubflow/api/internal/client"
	"github.com/dubflow/api/internal/config"
	"github.com/dubflow/api/internal/handler"
	"github.com/dubflow/api/internal/middleware"
	"github.com/dubflow/api/internal/pipeline"
	"github.com/dubflow/api/internal/queue"
	"github.com/dubflow/api/internal/service"
	"github.com/dubflow/api/internal/store"
	"github.com/dubflow/api/internal/synth"
	ws "github.com/dubflow/api/internal/websocket"
	"github.com/dubflow/api/internal/worker"
	"github.com/dubflow/api/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	lg, err := logger.Init(logger.Config{
		Level:       cfg.Server.LogLevel,
		Environment: cfg.Server.Env,
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
		Compress:    cfg.Log.Compress,
	})
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lg); err != nil {
		lg.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, lg *slog.Logger) error {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	// Redis backs the job store, the durable queue and rate limiting
	var redisClient *redis.Client
	if cfg.Store.Backend == "redis" || cfg.Queue.Backend == "asynq" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			lg.Warn("Redis not available", "addr", cfg.Redis.Addr, "error", err)
		}
	}

	repo, closeRepo, err := newRepository(ctx, cfg, redisClient)
	if err != nil {
		return err
	}
	defer closeRepo()
	jobStore := store.New(repo)
	lg.Info("Job store ready", "backend", cfg.Store.Backend)

	// Initialize WebSocket hub
	hub := ws.NewHub(lg)

	engines, speech, assembler := newEngines(cfg, lg)

	var voices *synth.VoiceCatalog
	if cfg.TTS.VoicesFile != "" {
		voices, err = synth.LoadCatalog(cfg.TTS.VoicesFile)
		if err != nil {
			return fmt.Errorf("failed to load voice catalog: %w", err)
		}
	}
	engines.Audio = synth.NewSynthesizer(speech, assembler, voices, synth.Config{
		SafeLength:      cfg.TTS.SafeLength,
		Attempts:        cfg.TTS.Attempts,
		RetryBase:       cfg.TTS.RetryBase,
		RequestInterval: cfg.TTS.RequestInterval(),
		DefaultRate:     cfg.TTS.SpeakingRate,
		SilenceDuration: cfg.TTS.Silence(),
		Gap:             cfg.TTS.Gap(),
	}, lg)

	processor := chunk.NewProcessor(cfg.Translation.MaxRetries, cfg.Translation.RetryDelay(), cfg.Translation.RateLimitDelay(), lg)
	layout := artifact.NewLayout(cfg.Storage.OutputsDir)
	pipe := pipeline.New(jobStore, layout, engines.Engines, processor, hub, pipeline.Config{
		ChunkWidth:   cfg.Translation.ChunkWidth,
		SpeakingRate: cfg.TTS.SpeakingRate,
	}, lg)

	// Initialize R2 client (optional - continues if not configured)
	var r2Client *client.R2Client
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err = client.NewR2Client(&cfg.R2)
		if err != nil {
			lg.Warn("R2 client not initialized", "error", err)
		} else {
			pipe.SetPublisher(client.NewAudioPublisher(r2Client))
		}
	} else {
		lg.Info("R2 storage not configured, final audio stays local")
	}

	pipelineWorker := worker.NewPipelineWorker(pipe, lg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	var dispatcher queue.Dispatcher
	switch cfg.Queue.Backend {
	case "local":
		local := queue.NewLocalDispatcher(gctx, pipelineWorker, cfg.Queue.Concurrency, lg)
		defer local.Wait()
		dispatcher = local
	default:
		asynqClient := asynq.NewClient(redisOpt)
		defer asynqClient.Close()
		dispatcher = queue.NewAsynqDispatcher(asynqClient, cfg.Queue.TaskTimeout())

		srv := newWorkerServer(cfg, redisOpt)
		mux := asynq.NewServeMux()
		pipelineWorker.Register(mux)
		g.Go(func() error {
			if err := srv.Start(mux); err != nil {
				return fmt.Errorf("asynq worker: %w", err)
			}
			<-gctx.Done()
			srv.Shutdown()
			return nil
		})
	}
	lg.Info("Task queue ready", "backend", cfg.Queue.Backend, "concurrency", cfg.Queue.Concurrency)

	jobService := service.NewJobService(jobStore, dispatcher, layout, hub, service.Options{
		MaxUploadBytes: int64(cfg.Storage.MaxUploadMB) << 20,
		TestMode:       cfg.Server.TestMode,
	}, lg)

	app := newApp(cfg, lg)
	routes := &handler.Routes{
		Translation: handler.NewTranslationHandler(jobService, validator.New()),
		Hub:         hub,
		Auth:        middleware.GatewayAuthMiddleware(cfg.Gateway.Enabled),
		Limiter:     middleware.NewRateLimiter(redisClient, lg),
		Limits:      cfg.RateLimit,
		TestMode:    cfg.Server.TestMode,
		Services: func() fiber.Map {
			return fiber.Map{
				"openai": !engines.Mock,
				"audio":  !engines.Mock,
				"r2":     r2Client != nil,
				"store":  cfg.Store.Backend,
				"queue":  cfg.Queue.Backend,
			}
		},
	}
	routes.Mount(app)
	if cfg.Server.TestMode {
		lg.Warn("Test mode enabled: failure injection endpoint is exposed")
	}

	g.Go(func() error {
		addr := ":" + cfg.Server.Port
		lg.Info("Server starting", "addr", addr)
		if err := app.Listen(addr); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		lg.Info("Shutting down server...")
		return app.ShutdownWithTimeout(10 * time.Second)
	})

	return g.Wait()
}

// newRepository opens the configured job backend.
func newRepository(ctx context.Context, cfg *config.Config, redisClient *redis.Client) (store.Repository, func(), error) {
	switch cfg.Store.Backend {
	case "memory":
		return store.NewMemoryRepository(), func() {}, nil
	case "postgres":
		if cfg.Postgres.URL == "" {
			return nil, nil, errors.New("postgres store selected but DATABASE_URL is empty")
		}
		repo, err := store.NewPostgresRepository(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	case "redis":
		return store.NewRedisRepository(redisClient, cfg.Store.Retention()), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// engineSet is the pipeline engines plus whether they are mocks.
type engineSet struct {
	pipeline.Engines
	Mock bool
}

// newEngines uses the OpenAI and audio service clients when an API key is
// configured and deterministic local mocks otherwise.
func newEngines(cfg *config.Config, lg *slog.Logger) (engineSet, synth.Engine, synth.Assembler) {
	openaiClient := client.NewOpenAIClient(&cfg.OpenAI, lg)
	if !openaiClient.IsConfigured() {
		lg.Info("OpenAI not configured, using mock engines")
		mock := client.NewMockEngines()
		return engineSet{
			Engines: pipeline.Engines{Preprocessor: mock, Transcriber: mock, Translator: mock},
			Mock:    true,
		}, mock, mock
	}

	audioClient := client.NewAudioClient(&cfg.Audio, cfg.TTS.Bitrate)
	return engineSet{
		Engines: pipeline.Engines{Preprocessor: audioClient, Transcriber: openaiClient, Translator: openaiClient},
	}, openaiClient, audioClient
}

func newWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt) *asynq.Server {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Queue.Concurrency,
		Queues: map[string]int{
			queue.QueueName: 1,
		},
		LogLevel: asynqLogLevel,
	})
}

func newApp(cfg *config.Config, lg *slog.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: handler.ErrorHandler,
		BodyLimit:    cfg.Storage.MaxUploadMB<<20 + 1<<20,
	})

	// Global middleware
	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
		lg.Debug("Debug request logging enabled")
	}
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,X-User-Id",
	}))
	app.Use(middleware.Metrics())
	return app
}
