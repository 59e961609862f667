package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"avalive/internal/app"
	"avalive/internal/audio"
	"avalive/internal/avatar"
	"avalive/internal/config"
	"avalive/internal/llm"
	"avalive/internal/pipeline"
	"avalive/internal/room"
	"avalive/internal/stream"
	"avalive/internal/stt"
	"avalive/internal/tts"
)

func main() {
	cfg := config.Load()
	cfg.SetupLogging()
	log := logrus.WithField("component", "main")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	provider, err := buildProvider(ctx, cfg.LLM)
	if err != nil {
		log.Fatalf("llm provider init failed: %v", err)
	}

	ttsClient := tts.NewClient(tts.Config{
		AppKey:     cfg.TTS.AppKey,
		AccessKey:  cfg.TTS.AccessKey,
		ResourceID: cfg.TTS.ResourceID,
		Speaker:    cfg.TTS.Speaker,
		SampleRate: cfg.TTS.SampleRate,
	})
	sttClient := stt.NewClient(stt.Config{
		AppKey:     cfg.STT.AppKey,
		AccessKey:  cfg.STT.AccessKey,
		ResourceID: cfg.STT.ResourceID,
	})
	avatarClient := avatar.NewClient(avatar.Config{
		AppID: cfg.Avatar.AppID,
		Token: cfg.Avatar.Token,
	})

	registry := stream.NewRegistry()
	coordinator := room.NewCoordinator(avatarClient, ttsClient, registry)

	var driver pipeline.AvatarDriver = avatarClient
	if cfg.AudioMonitor {
		monitor := audio.NewMonitor(int(cfg.TTS.SampleRate))
		if err := monitor.Start(); err != nil {
			log.Fatalf("audio monitor init failed: %v", err)
		}
		defer monitor.Stop()
		driver = monitor
		log.Info("audio monitor enabled, TTS output plays locally")
	}

	orchestrator := pipeline.NewOrchestrator(provider, ttsClient, driver, registry)
	application := app.NewApp(coordinator, orchestrator, registry, sttClient)

	go coordinator.RunSweeper(ctx)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           application.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("http shutdown: %v", err)
		}
		if err := coordinator.Reset(shutdownCtx); err != nil {
			log.Warnf("connection teardown: %v", err)
		}
	}()

	log.Infof("server listening on %s", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server: %v", err)
	}
}

func buildProvider(ctx context.Context, cfg config.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "ark":
		return llm.NewArk(ctx, llm.ArkConfig{
			BaseURL: cfg.ArkBaseURL,
			Model:   cfg.ArkModel,
			APIKey:  cfg.ArkAPIKey,
		})
	case "hiagent":
		return llm.NewHiAgent(llm.HiAgentConfig{
			BaseURL: cfg.HiAgentBaseURL,
			APIKey:  cfg.HiAgentAPIKey,
		}), nil
	default:
		return nil, errors.New("unknown llm provider: " + cfg.Provider)
	}
}
