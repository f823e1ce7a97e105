package api

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"mediafetch/internal/config"
	"mediafetch/internal/http-server/handlers/bindings"
	"mediafetch/internal/http-server/handlers/contentevent"
	"mediafetch/internal/http-server/handlers/errors"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"mediafetch/internal/http-server/middleware/authenticate"
	"mediafetch/internal/http-server/middleware/timeout"
	"mediafetch/lib/sl"
)

type Server struct {
	conf       *config.Config
	httpServer *http.Server
	log        *slog.Logger
}

type Handler interface {
	authenticate.Authenticate
	bindings.Core
	contentevent.Core
}

func New(conf *config.Config, log *slog.Logger, handler Handler) error {

	server := Server{
		conf: conf,
		log:  log.With(sl.Module("api.server")),
	}

	router := chi.NewRouter()
	router.Use(timeout.Timeout(30))
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(render.SetContentType(render.ContentTypeJSON))

	router.NotFound(errors.NotFound(log))
	router.MethodNotAllowed(errors.NotAllowed(log))

	router.Route("/v1", func(rootApi chi.Router) {
		rootApi.Use(authenticate.New(log, handler))
		rootApi.Route("/bindings", func(b chi.Router) {
			b.Post("/code", bindings.RequestCode(log, handler))
			b.Post("/redeem", bindings.Redeem(log, handler))
			b.Get("/{homeId}", bindings.List(log, handler))
			b.Delete("/{homeId}", bindings.Revoke(log, handler))
		})
	})
	router.Route("/webhook", func(rootWH chi.Router) {
		rootWH.Post("/content", contentevent.Event(log, handler, conf.Feed.WebhookSecret))
	})

	httpLog := slog.NewLogLogger(log.Handler(), slog.LevelError)
	server.httpServer = &http.Server{
		Handler:      router,
		ErrorLog:     httpLog,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverAddress := fmt.Sprintf("%s:%s", conf.Listen.BindIp, conf.Listen.Port)
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}

	server.log.Info("starting api server", slog.String("address", serverAddress))

	return server.httpServer.Serve(listener)
}
