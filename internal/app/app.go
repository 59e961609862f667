package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"avalive/internal/pipeline"
	"avalive/internal/room"
	"avalive/internal/stream"
)

// STTClient HTTP 层对语音识别的依赖面
type STTClient interface {
	Recognize(ctx context.Context, pcm []byte) (string, error)
}

// App HTTP 前门，把路由映射到协调器与流水线
type App struct {
	coordinator  *room.Coordinator
	orchestrator *pipeline.Orchestrator
	registry     *stream.Registry
	stt          STTClient
	log          *logrus.Entry

	startedAt time.Time
}

func NewApp(coordinator *room.Coordinator, orchestrator *pipeline.Orchestrator, registry *stream.Registry, sttClient STTClient) *App {
	return &App{
		coordinator:  coordinator,
		orchestrator: orchestrator,
		registry:     registry,
		stt:          sttClient,
		log:          logrus.WithField("component", "app"),
		startedAt:    time.Now(),
	}
}

// Router 组装路由
func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", a.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/digital_human/join_room", a.handleJoinRoom)
		r.Delete("/digital_human/leave_room/{live_id}", a.handleLeaveRoom)

		r.Post("/query/stream", a.handleQueryStream)
		r.Post("/query/cancel", a.handleQueryCancel)

		r.Post("/reset_connections", a.handleReset)
		r.Get("/connection_status", a.handleConnectionStatus)

		r.Post("/voice/recognize", a.handleVoiceRecognize)
	})

	return r
}
