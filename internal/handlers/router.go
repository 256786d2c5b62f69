package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"

	mW "github.com/readerline/backend/internal/middleware"
	"github.com/readerline/backend/internal/services"
)

// RouterConfig carries everything the HTTP surface needs.
type RouterConfig struct {
	Sessions        *services.SessionManager
	Gifts           *services.GiftService
	Wallets         *services.WalletService
	Hub             *services.EventHub
	JWTSecret       string // empty disables bearer auth
	SignalingSecret string
	AllowedOrigins  []string
	RequestTimeout  time.Duration
	Log             zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	sessionHandler := NewSessionHandler(cfg.Sessions, cfg.Log)
	signalingHandler := NewSignalingHandler(cfg.Sessions, cfg.Log)
	giftHandler := NewGiftHandler(cfg.Gifts, cfg.Log)
	walletHandler := NewWalletHandler(cfg.Wallets, cfg.Log)
	wsHandler := NewWSHandler(cfg.Hub, cfg.Log)

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(mW.SecurityHeaders)
	r.Use(mW.RequestLogger(cfg.Log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	r.Route("/api/v1", func(r chi.Router) {
		r.With(mW.SignalingAuth(cfg.SignalingSecret), middleware.Timeout(cfg.RequestTimeout)).
			Post("/signaling/events", signalingHandler.Events)

		r.Group(func(r chi.Router) {
			if cfg.JWTSecret != "" {
				r.Use(mW.AuthMiddleware(cfg.JWTSecret))
			}

			// long-lived, no request timeout
			r.Get("/ws", wsHandler.Serve)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(cfg.RequestTimeout))

				r.Post("/session/create", sessionHandler.Create)
				r.Post("/session/join", sessionHandler.Join)
				r.Post("/session/connected", sessionHandler.Connected)
				r.Post("/session/end", sessionHandler.End)
				r.Get("/session/{id}", sessionHandler.Get)
				r.Get("/session/{id}/settlement", sessionHandler.Settlement)

				r.Post("/livestream/start", giftHandler.StartLivestream)
				r.Get("/livestream/{id}", giftHandler.GetLivestream)
				r.Post("/livestream/{id}/end", giftHandler.EndLivestream)
				r.Post("/gift/send", giftHandler.SendGift)

				r.Post("/wallet/topup", walletHandler.TopUp)
				r.Get("/wallet/{userId}", walletHandler.Get)
				r.Get("/wallet/{userId}/entries", walletHandler.Entries)
			})
		})
	})

	return r
}
