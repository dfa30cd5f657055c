package pushservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-push-service/internal/api"
	"github.com/tinywideclouds/go-push-service/internal/pipeline"
	"github.com/tinywideclouds/go-push-service/internal/sender"
	"github.com/tinywideclouds/go-push-service/pushservice/config"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[push.SendRequest]
	logger          *slog.Logger
}

// New assembles the service around an injected device store and the
// per-protocol dispatchers. A nil consumer runs the HTTP surface without
// the async pipeline.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	dispatchers map[push.ProtocolKind]dispatch.Dispatcher,
	store dispatch.DeviceStore,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Sender shared by the HTTP surface and the pipeline
	messageSender := sender.New(store, dispatchers, logger)

	// 3. Pipeline (optional)
	var streamingService *messagepipeline.StreamingService[push.SendRequest]
	if consumer != nil {
		processor := pipeline.NewProcessor(messageSender, store, logger)

		var err error
		streamingService, err = messagepipeline.NewStreamingService[push.SendRequest](
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			consumer,
			pipeline.SendRequestTransformer,
			processor,
			slog.New(slog.DiscardHandler),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	// 4. API (Device registration and dispatch)
	deviceAPI := api.NewDeviceAPI(store, messageSender, logger)

	// Register Routes
	mux := baseServer.Mux()

	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)
	preflight := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	// OPTIONS
	mux.Handle("OPTIONS /register", preflight)
	mux.Handle("OPTIONS /subscribe", preflight)
	mux.Handle("OPTIONS /send", preflight)
	mux.Handle("OPTIONS /send/all", preflight)
	mux.Handle("OPTIONS /devices", preflight)
	mux.Handle("OPTIONS /devices/{id}", preflight)

	protect := func(h http.HandlerFunc) http.Handler {
		return corsMiddleware(authMiddleware(h))
	}

	mux.Handle("POST /register", protect(deviceAPI.Register))
	mux.Handle("POST /subscribe", protect(deviceAPI.Subscribe))
	mux.Handle("POST /send", protect(deviceAPI.Send))
	mux.Handle("POST /send/all", protect(deviceAPI.SendAll))
	mux.Handle("GET /devices", protect(deviceAPI.ListDevices))
	mux.Handle("DELETE /devices/{id}", protect(deviceAPI.RemoveDevice))

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Core processing pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
