package server

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/customeros/mailbot/api"
	"github.com/customeros/mailbot/config"
	"github.com/customeros/mailbot/internal/cron"
	"github.com/customeros/mailbot/internal/logger"
	"github.com/customeros/mailbot/internal/repository"
	"github.com/customeros/mailbot/internal/tracing"
	"github.com/customeros/mailbot/services"
)

const shutdownTimeout = 15 * time.Second

type Server struct {
	config       *config.Config
	log          logger.Logger
	httpServer   *http.Server
	router       *gin.Engine
	services     *services.Services
	repositories *repository.Repositories
	cronManager  *cron.CronManager
	tracerCloser io.Closer
}

// NewServer wires the application. mailbotDB may be nil, checkpoints then stay in memory.
func NewServer(cfg *config.Config, mailbotDB *gorm.DB) (*Server, error) {
	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()

	tracer, closer, err := tracing.NewJaegerTracer(cfg.Tracing, appLogger)
	if err != nil {
		return nil, errors.Wrap(err, "could not initialize jaeger tracer")
	}
	opentracing.SetGlobalTracer(tracer)

	repos := repository.InitRepositories(mailbotDB)

	svcs, err := services.InitServices(cfg, appLogger, repos)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	k8s, err := cron.NewKubernetesClient()
	if err != nil {
		appLogger.Infof("Kubernetes not available, leader election disabled: %v", err)
		k8s = nil
	}
	cronManager := cron.NewCronManager(cfg.CronConfig, appLogger, k8s, svcs.Adapter)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	api.RegisterRoutes(router, svcs.Adapter, cfg.AppConfig.APIKey)

	return &Server{
		config:       cfg,
		log:          appLogger,
		router:       router,
		services:     svcs,
		repositories: repos,
		cronManager:  cronManager,
		tracerCloser: closer,
		httpServer: &http.Server{
			Addr:              ":" + cfg.AppConfig.APIPort,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func (s *Server) Run() error {
	podName := os.Getenv("POD_NAME")
	if podName == "" {
		podName = "local"
	}
	namespace := os.Getenv("POD_NAMESPACE")
	if namespace == "" {
		namespace = "default"
	}

	// the leader runs the mailbox adapter, followers only serve the API
	if err := s.cronManager.Start(podName, namespace); err != nil {
		return err
	}

	go func() {
		defer tracing.RecoverAndLogToJaeger(s.log)
		s.log.Infof("Starting HTTP server on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("HTTP server error: %v", err)
		}
	}()
	s.log.Info("Mailbot is now running. Press Ctrl+C to exit.")

	return s.waitForShutdown()
}

func (s *Server) waitForShutdown() error {
	defer tracing.RecoverAndLogToJaeger(s.log)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	s.log.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Errorf("HTTP server shutdown error: %v", err)
	} else {
		s.log.Info("HTTP server shut down successfully")
	}

	stopDone := make(chan struct{})
	go func() {
		defer close(stopDone)
		defer tracing.RecoverAndLogToJaeger(s.log)
		s.cronManager.Stop()
		if err := s.services.Close(); err != nil {
			s.log.Errorf("Service shutdown error: %v", err)
		}
	}()

	select {
	case <-stopDone:
		s.log.Info("Mailbox adapter stopped gracefully")
	case <-shutdownCtx.Done():
		s.log.Warn("Mailbox adapter stop timed out, forcing exit")
	}

	if s.tracerCloser != nil {
		_ = s.tracerCloser.Close()
	}
	_ = s.log.Sync()
	return nil
}
