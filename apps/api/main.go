package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	echoapi "github.com/eloschool/backend/apps/api/echo"
	"github.com/eloschool/backend/apps/shared"
	"github.com/eloschool/backend/core"
	"github.com/eloschool/backend/core/access"
	logsvc "github.com/eloschool/backend/services/logger"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	// set up backends
	backend, err := shared.NewBackend(context.Background(), conf, logger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up backends: %v", err), err)
	}
	defer func() {
		if err = backend.Close(); err != nil {
			logger.Error(fmt.Sprintf("closing backends: %v", err), err)
		}
	}()

	// set up services
	mailSvc := shared.NewMailService(conf, logger)
	sessions := access.NewSessions(backend.ControllerDeps())
	defer sessions.CloseAll()
	requests := access.NewRequests(backend.Directory, backend.Connector, mailSvc, conf.NotifyAddresses(), logger)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	access.InitValidators(validate, translator)

	core.ParseEmailTemplates(logger)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/vars - Added to the default mux by importing the expvar package.
	// /metrics - prometheus collectors.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.Publish("sessions", expvar.Func(func() interface{} { return sessions.Len() }))
	expvar.Publish("tenants", expvar.Func(func() interface{} { return backend.Connector.Len() }))
	http.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// drop idle controllers; their selection stays persisted
	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	go pruneSessions(janitorCtx, sessions, conf.Session.IdleTimeout, logger)

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:       conf,
			Logger:     logger,
			Sessions:   sessions,
			Identity:   backend.Identity,
			Requests:   requests,
			Validate:   validate,
			Translator: translator,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func pruneSessions(ctx context.Context, sessions *access.Sessions, idle time.Duration, logger core.Logger) {
	if idle <= 0 {
		return
	}
	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.Prune(idle); n > 0 {
				logger.Debug(fmt.Sprintf("pruned %d idle sessions", n))
			}
		}
	}
}
