package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/glizzus/moshi-cli/internal/archive"
	"github.com/glizzus/moshi-cli/internal/audio"
	"github.com/glizzus/moshi-cli/internal/config"
	"github.com/glizzus/moshi-cli/internal/datalayer"
	"github.com/glizzus/moshi-cli/internal/device"
	"github.com/glizzus/moshi-cli/internal/metrics"
	"github.com/glizzus/moshi-cli/internal/opus"
	"github.com/glizzus/moshi-cli/internal/repository"
	"github.com/glizzus/moshi-cli/internal/session"
	"github.com/glizzus/moshi-cli/internal/transcript"
	"github.com/glizzus/moshi-cli/internal/transport"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
)

const (
	captureSeconds  = 10
	playbackSeconds = 30

	redisBacklog      = 256
	redisWriteTimeout = 2 * time.Second
)

var uuidGenerator = session.UUIDV4Generator{}

func chatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Stream the microphone to the service and play back its replies",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Usage: "Service host name, overrides MOSHI_HOST"},
			&cli.StringFlag{Name: "deployment-id", Usage: "Deployment ID, used when no host is given"},
			&cli.StringFlag{Name: "region", Usage: "Deployment region"},
			&cli.StringFlag{Name: "api-key", Usage: "Bearer token sent during the handshake"},
			&cli.BoolFlag{Name: "insecure", Usage: "Skip TLS certificate verification (testing only)"},
			&cli.IntFlag{Name: "audio-topk", Usage: "Audio top-k sampling"},
			&cli.Float64Flag{Name: "audio-temperature", Usage: "Audio sampling temperature"},
			&cli.IntFlag{Name: "text-topk", Usage: "Text top-k sampling"},
			&cli.Float64Flag{Name: "text-temperature", Usage: "Text sampling temperature"},
			&cli.StringFlag{Name: "output", Usage: "Where to write the received audio as WAV"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "Serve Prometheus metrics on this address"},
			&cli.BoolFlag{Name: "no-audio", Usage: "Do not open audio devices; only receive text and the WAV file"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.NewMoshiConfigFromEnv()
			if err != nil {
				return fmt.Errorf("failed to load moshi config: %w", err)
			}
			applyFlags(c, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return chat(c.Context, c, cfg)
		},
	}
}

// applyFlags lets explicitly set flags win over the environment.
func applyFlags(c *cli.Context, cfg *config.MoshiConfig) {
	if c.IsSet("host") {
		cfg.Host = c.String("host")
	}
	if c.IsSet("deployment-id") {
		cfg.DeploymentID = c.String("deployment-id")
	}
	if c.IsSet("region") {
		cfg.Region = c.String("region")
	}
	if c.IsSet("api-key") {
		cfg.APIKey = c.String("api-key")
	}
	if c.IsSet("insecure") {
		cfg.Insecure = c.Bool("insecure")
	}
	if c.IsSet("audio-topk") {
		cfg.AudioTopK = c.Int("audio-topk")
	}
	if c.IsSet("audio-temperature") {
		cfg.AudioTemperature = c.Float64("audio-temperature")
	}
	if c.IsSet("text-topk") {
		cfg.TextTopK = c.Int("text-topk")
	}
	if c.IsSet("text-temperature") {
		cfg.TextTemperature = c.Float64("text-temperature")
	}
	if c.IsSet("output") {
		cfg.Output = c.String("output")
	}
}

func chat(ctx context.Context, c *cli.Context, cfg *config.MoshiConfig) error {
	metricsAddr := c.String("metrics-addr")
	if metricsAddr == "" {
		mc, err := config.NewMetricsConfigFromEnv()
		if err != nil {
			return fmt.Errorf("failed to load metrics config: %w", err)
		}
		metricsAddr = mc.Addr
	}
	if metricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, metricsAddr); err != nil {
				slog.Error("Metrics server stopped", "error", err)
			}
		}()
	}

	archiver, closeArchiver, err := newArchiver(ctx)
	if err != nil {
		return err
	}
	defer closeArchiver()

	id, err := uuidGenerator.Next()
	if err != nil {
		return fmt.Errorf("failed to generate conversation ID: %w", err)
	}

	sinks := transcript.Multi{transcript.NewWriterSink(os.Stdout)}
	redisSink, closeRedis, err := newRedisSink(ctx, id)
	if err != nil {
		return err
	}
	defer closeRedis()
	if redisSink != nil {
		// Redis must never hold up the receive loop.
		bg := transcript.NewBackground(redisSink, redisBacklog, redisWriteTimeout)
		defer bg.Close()
		sinks = append(sinks, bg)
	}

	capture := audio.NewQueue(captureSeconds * opus.SampleRate)
	playback := audio.NewQueue(playbackSeconds * opus.SampleRate)

	if !c.Bool("no-audio") {
		dev, err := device.Open(capture, playback)
		if err != nil {
			return err
		}
		defer func() {
			if err := dev.Close(); err != nil {
				slog.Warn("Failed to close audio devices", "error", err)
			}
		}()
		if err := dev.Start(); err != nil {
			return err
		}
	}

	sender, receiver, err := transport.Dial(ctx, cfg.Target(), cfg.Params(), cfg.Options())
	if err != nil {
		if errors.Is(err, transport.ErrUnauthorized) {
			return cli.Exit("The service rejected the API key", 1)
		}
		return err
	}
	defer sender.Close()

	host, _ := cfg.Target().Resolve()
	archiver.Host = host

	s := session.New(id, sender, receiver, session.Options{
		Output:     cfg.Output,
		Transcript: sinks,
	})
	slog.Info("Conversation started", "conversationID", id, "host", host)

	sum, runErr := s.Run(ctx, capture, playback)
	fmt.Println()
	if sum == nil {
		return runErr
	}

	slog.Info(
		"Conversation ended",
		slog.String("conversationID", sum.ID),
		slog.Duration("duration", sum.EndedAt.Sub(sum.StartedAt)),
		slog.Int64("samplesSent", sum.SamplesSent),
		slog.Int("samplesReceived", sum.SamplesReceived),
		slog.Uint64("captureDropped", capture.Dropped()),
		slog.Uint64("playbackDropped", playback.Dropped()),
	)

	// The session context may already be cancelled by the interrupt.
	if _, err := archiver.Archive(context.WithoutCancel(ctx), sum); err != nil {
		slog.Error("Failed to archive conversation", "error", err)
	}
	return runErr
}

func newArchiver(ctx context.Context) (*archive.Archiver, func(), error) {
	a := &archive.Archiver{}
	cleanup := func() {}

	pgConfig, err := config.NewPostgresConfigFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load postgres config: %w", err)
	}
	if pgConfig.Enabled() {
		pool, err := datalayer.NewPostgresPool(ctx, pgConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		if err := datalayer.MigratePostgres(pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to migrate postgres: %w", err)
		}
		a.Conversations = repository.NewPostgresConversationRepository(pool)
		cleanup = pool.Close
	}

	minioConfig, err := config.NewMinioConfigFromEnv()
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to load minio config: %w", err)
	}
	if minioConfig.Enabled() {
		store, err := datalayer.NewMinioStorage(minioConfig)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to create minio client: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to ensure bucket: %w", err)
		}
		a.Blobs = store
	}

	return a, cleanup, nil
}

func newRedisSink(ctx context.Context, conversationID string) (*transcript.RedisSink, func(), error) {
	redisConfig, err := config.NewRedisConfigFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load redis config: %w", err)
	}
	if !redisConfig.Enabled() {
		return nil, func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     redisConfig.Addr,
		Password: redisConfig.Password,
		DB:       redisConfig.DB,

		ContextTimeoutEnabled: true,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return transcript.NewRedisSink(rdb, conversationID), func() { _ = rdb.Close() }, nil
}
