// main package for the speech-scheduler service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/speech-scheduler/internal/analytics"
	"github.com/book-expert/speech-scheduler/internal/cache"
	"github.com/book-expert/speech-scheduler/internal/config"
	"github.com/book-expert/speech-scheduler/internal/core"
	"github.com/book-expert/speech-scheduler/internal/engine"
	"github.com/book-expert/speech-scheduler/internal/objectstore"
	"github.com/book-expert/speech-scheduler/internal/orchestrator"
	"github.com/book-expert/speech-scheduler/internal/voices"
	"github.com/book-expert/speech-scheduler/internal/worker"
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "speech-scheduler.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func connectNats(url string) (*nats.Conn, nats.JetStreamContext, error) {
	natsConnection, err := nats.Connect(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return natsConnection, jetstreamContext, nil
}

func buildEngines(cfg *config.Config, samples core.ObjectStore, log *logger.Logger) (engine.Set, error) {
	cloud := engine.NewOpenAI(engine.OpenAIConfig{
		APIKey:  cfg.Engines.OpenAI.APIKey,
		Model:   cfg.Engines.OpenAI.Model,
		Aliases: cfg.Engines.OpenAI.Aliases,
	}, log)

	local, err := engine.NewChatLLM(engine.ChatLLMConfig{
		Binary:        cfg.Engines.ChatLLM.Binary,
		ModelPath:     cfg.Engines.ChatLLM.ModelPath,
		SnacModelPath: cfg.Engines.ChatLLM.SnacModelPath,
		Device:        cfg.Engines.ChatLLM.Device,
		NGL:           cfg.Engines.ChatLLM.NGL,
		Aliases:       cfg.Engines.ChatLLM.Aliases,
	}, samples, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create local engine: %w", err)
	}

	return engine.NewSet(cloud, local), nil
}

func buildCore(cfg *config.Config, jetstreamContext nats.JetStreamContext, log *logger.Logger) (*orchestrator.Orchestrator, *voices.Registry, *analytics.View, error) {
	artifactStore, err := objectstore.New(jetstreamContext, cfg.NATS.ArtifactBucket)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create artifact store: %w", err)
	}

	profileStore, err := objectstore.New(jetstreamContext, cfg.NATS.VoiceProfileBucket)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create voice profile store: %w", err)
	}

	cacheStore, err := cache.New(cfg.Cache.MaxEntries, cfg.Cache.MaxBytes, artifactStore, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create cache store: %w", err)
	}

	registry := voices.New(profileStore, core.EngineChatLLM, voices.Limits{
		MinSampleBytes: cfg.Voices.MinSampleBytes,
		MaxSampleBytes: cfg.Voices.MaxSampleBytes,
		MaxBackups:     cfg.Voices.MaxBackups,
	}, log)

	engines, err := buildEngines(cfg, profileStore, log)
	if err != nil {
		return nil, nil, nil, err
	}

	defaults := orchestrator.Defaults{
		Engine: core.EngineID(cfg.Voices.DefaultEngine),
		Voice: core.VoiceDescriptor{
			Engine:    core.EngineID(cfg.Voices.DefaultEngine),
			Reference: cfg.Voices.DefaultVoice,
			Name:      "default",
		},
	}

	orc := orchestrator.New(cacheStore, registry, engines, defaults, log)
	view := analytics.New(cacheStore, orc.Scheduler(), orc)

	return orc, registry, view, nil
}

func run() error {
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	natsConnection, jetstreamContext, err := connectNats(cfg.NATS.URL)
	if err != nil {
		log.Error("Failed to connect to NATS: %v", err)

		return err
	}

	defer natsConnection.Close()

	orc, registry, view, err := buildCore(cfg, jetstreamContext, log)
	if err != nil {
		log.Error("Failed to build core: %v", err)

		return err
	}

	natsWorker, err := worker.NewNatsWorker(
		natsConnection,
		worker.Subjects{
			Synthesize:   cfg.NATS.SynthesizeSubject,
			VoiceCommand: cfg.NATS.VoiceCommandSubject,
			QueueCommand: cfg.NATS.QueueCommandSubject,
			Status:       cfg.NATS.StatusSubject,
		},
		orc,
		registry,
		view,
		time.Duration(cfg.NATS.RequestTimeoutSecond)*time.Second,
		log,
	)
	if err != nil {
		log.Error("Failed to create worker: %v", err)

		return fmt.Errorf("failed to create worker: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	schedulerDone := make(chan error, 1)

	go func() {
		schedulerDone <- orc.Scheduler().Run(ctx)
	}()

	log.System("Speech scheduler listening on subject: %s", cfg.NATS.SynthesizeSubject)

	runErr := natsWorker.Run(ctx)

	schedulerErr := <-schedulerDone
	if schedulerErr != nil {
		log.Error("Scheduler exited with error: %v", schedulerErr)
	}

	if runErr != nil {
		return fmt.Errorf("worker exited with error: %w", runErr)
	}

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
