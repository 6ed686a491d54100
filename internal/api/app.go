package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/rs/zerolog"

	"github.com/anonchat/anonchat/internal/cache"
	"github.com/anonchat/anonchat/internal/config"
	"github.com/anonchat/anonchat/internal/stats"
	"github.com/anonchat/anonchat/internal/store"
	"github.com/anonchat/anonchat/internal/stream"
)

const (
	// backlogLimit caps the messages returned by the backlog endpoint and
	// replayed on stream connect.
	backlogLimit = 100

	// UserMessageLimit and IPRequestLimit are per-minute fixed windows
	// applied to the message accept path.
	UserMessageLimit = 30
	IPRequestLimit   = 60
)

type AnonChatApp struct {
	log        zerolog.Logger
	store      store.Repository
	buffer     *cache.Buffer
	fanout     stream.Fanout
	msgLimiter *cache.Limiter
	ipLimiter  *cache.Limiter
	stats      stats.Provider
	mux        *http.Server
	signingKey []byte

	// done is closed on Shutdown so long-lived stream handlers exit;
	// http.Server.Shutdown does not cancel in-flight request contexts.
	done      chan struct{}
	closeOnce sync.Once
}

func NewAnonChatApp(mux *http.ServeMux, log zerolog.Logger, repo store.Repository, buffer *cache.Buffer,
	fanout stream.Fanout, msgLimiter, ipLimiter *cache.Limiter, sp stats.Provider, cfg *config.Config) *AnonChatApp {

	app := &AnonChatApp{
		log:        log,
		store:      repo,
		buffer:     buffer,
		fanout:     fanout,
		msgLimiter: msgLimiter,
		ipLimiter:  ipLimiter,
		stats:      sp,
		signingKey: cfg.SigningKey,
		done:       make(chan struct{}),
	}

	sp.RegisterMetric(stats.ActiveStreams)
	sp.RegisterMetric(stats.MessagesPublished)
	sp.RegisterMetric(stats.FanoutDrops)
	sp.RegisterMetric(stats.RateLimited)

	mux.HandleFunc("GET /healthz", app.healthCheck)
	mux.HandleFunc("POST /api/auth/validate", app.validateIdentity)
	mux.HandleFunc("POST /api/rooms", app.createRoom)
	mux.HandleFunc("GET /api/rooms", app.listRooms)
	mux.HandleFunc("GET /api/rooms/{roomId}", app.getRoom)
	mux.HandleFunc("POST /api/rooms/personal", app.createPersonalRoom)
	mux.HandleFunc("POST /api/rooms/{roomId}/invite", app.createInvite)
	mux.HandleFunc("POST /api/invites/{code}", app.consumeInvite)
	mux.HandleFunc("GET /api/rooms/{roomId}/messages", app.listMessages)
	mux.HandleFunc("POST /api/rooms/{roomId}/messages", app.createMessage)
	mux.HandleFunc("POST /api/rooms/{roomId}/activity", app.roomActivity)
	mux.HandleFunc("GET /api/rooms/{roomId}/stream", app.streamRoom)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", identityTokenHeader}),
		handlers.AllowCredentials(),
	)(mux)

	h = app.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
		// no WriteTimeout: delivery streams are intentionally long-lived
		ReadHeaderTimeout: 10 * time.Second,
	}

	app.mux = srv
	return app
}

func (app *AnonChatApp) Start() error {
	app.log.Info().Str("addr", app.mux.Addr).Msg("starting server")
	return app.mux.ListenAndServe()
}

func (app *AnonChatApp) Shutdown(ctx context.Context) error {
	app.log.Info().Msg("shutting down HTTP server...")
	app.closeOnce.Do(func() { close(app.done) })
	if err := app.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
