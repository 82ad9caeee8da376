package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"paste-server/collab"
	"paste-server/core"
	"paste-server/handlers/api/documents"
	"paste-server/handlers/api/revisions"
	"paste-server/handlers/api/rooms"
	"paste-server/handlers/websocket"
	"paste-server/stores"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

const shutdownTimeout = 30 * time.Second

func setupRouter(documentStore core.DocumentStore, registry *collab.Registry, policy websocket.OriginPolicy) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	corsOptions := cors.Options{
		AllowedOrigins: []string{"tauri://localhost"},
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			return policy.Allowed(origin)
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	r.Use(cors.Handler(corsOptions))

	maxContent := registry.Options().MaxContentBytes
	syncHandler := websocket.HandleSync(registry, policy)
	r.Get("/sync/{documentId}", syncHandler)
	r.Get("/api/ws/{documentId}", syncHandler)

	// Revision routes - only available with a store keeping history
	revisionStore, hasRevisions := documentStore.(core.RevisionStore)

	r.Route("/api/documents", func(r chi.Router) {
		r.Post("/", documents.HandleCreate(documentStore, maxContent))
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", documents.HandleGet(documentStore, registry))
			r.Put("/", documents.HandleUpdate(registry, maxContent))
			r.Get("/raw", documents.HandleGetRaw(documentStore, registry))
			if hasRevisions {
				r.Get("/revisions", revisions.HandleList(revisionStore))
			}
		})
	})

	activity, _ := documentStore.(core.RoomActivity)
	r.Get("/api/rooms", rooms.HandleList(registry, activity))

	if hasRevisions {
		r.Route("/api/revisions/{revisionId}", func(r chi.Router) {
			r.Get("/", revisions.HandleGet(revisionStore))
			r.Post("/restore", revisions.HandleRestore(revisionStore, registry))
		})
		logrus.Info("Revision API routes registered")
	} else {
		logrus.Warn("Revision API not available - requires SQLite storage")
	}

	return r
}

func waitForShutdown(srv *http.Server, registry *collab.Registry, ioo *socketio.Server) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	s := <-signals
	logrus.WithField("signal", s.String()).Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	ioo.Close(nil)
	// Hijacked sync connections are not waited on; the registry closes
	// them and flushes their rooms.
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("HTTP server shutdown incomplete")
	}
	if err := registry.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Some documents could not be persisted")
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	var opts collab.Options
	logLevel := pflag.String("loglevel", "info", "Set the logging level: debug, info, warn, error, fatal, panic")
	listenAddr := pflag.String("listen", ":3002", "Set the server listen address")
	pflag.DurationVar(&opts.Debounce, "debounce", collab.DefaultDebounce, "Quiet period before an edit is persisted")
	pflag.IntVar(&opts.FlushAttempts, "flush-attempts", collab.DefaultFlushAttempts, "Save attempts when the last editor leaves")
	pflag.IntVar(&opts.IdleRetries, "idle-retries", collab.DefaultIdleRetries, "Background save retries for an abandoned room, 0 disables them")
	pflag.IntVar(&opts.MaxContentBytes, "max-content-bytes", collab.DefaultMaxContentBytes, "Largest accepted document")
	pflag.IntVar(&opts.SendBuffer, "send-buffer", collab.DefaultSendBuffer, "Outbound queue length per connection")
	pflag.Parse()
	if opts.IdleRetries == 0 {
		opts.IdleRetries = collab.NoIdleRetries
	}

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)

	documentStore := stores.GetStore()
	registry := collab.NewRegistry(documentStore, opts)
	policy := websocket.ParseOrigins(os.Getenv("ALLOWED_ORIGINS"))

	r := setupRouter(documentStore, registry, policy)
	ioo := websocket.SetupSocketIO(registry, policy)
	r.Handle("/socket.io/", ioo.ServeHandler(nil))

	srv := &http.Server{Addr: *listenAddr, Handler: r}
	logrus.WithField("addr", *listenAddr).Info("starting server")
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(srv, registry, ioo)
}
