package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/inbox/internal/api/middleware"
	"github.com/eldtechnologies/inbox/internal/handlers"
	"github.com/eldtechnologies/inbox/internal/messaging"
	"github.com/eldtechnologies/inbox/internal/store"
)

// Options configures the HTTP router.
type Options struct {
	Store store.DataStore
	Redis *store.RedisStore // optional; enables rate limiting and the event feed

	// Nonces overrides the nonce store. Defaults to Redis when configured,
	// process memory otherwise.
	Nonces middleware.NonceStore

	MaxBodyBytes int64
	RateLimit    middleware.RateLimiterConfig
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 16 * 1024
	}
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(maxBody))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	if opts.Redis != nil {
		limiter := middleware.NewRateLimiter(opts.Redis.Client(), logger, opts.RateLimit)
		r.Use(limiter.Middleware)
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Content-Type",
			middleware.HeaderParticipant, middleware.HeaderNonce,
			middleware.HeaderTimestamp, middleware.HeaderSignature,
		},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// The messaging core
	var publisher messaging.Publisher
	if opts.Redis != nil {
		publisher = opts.Redis
	}
	registry := messaging.NewRegistry(opts.Store, nil, logger)
	ledger := messaging.NewLedger(opts.Store, registry, publisher, logger)

	// Create handler and auth middleware
	h := handlers.NewHandler(opts.Store, opts.Redis, registry, ledger, logger)

	nonces := opts.Nonces
	if nonces == nil {
		if opts.Redis != nil {
			nonces = opts.Redis
		} else {
			nonces = middleware.NewMemoryNonceStore()
		}
	}
	auth := middleware.NewAuthMiddleware(opts.Store, nonces, logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/api", h.Root)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
	r.Post("/register", h.Register)
	r.Get("/participants/{id}", h.GetParticipant)

	// Authenticated routes (require signature)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Post("/conversations", h.OpenConversation)
		r.Get("/conversations", h.ListConversations)
		r.Get("/conversations/{id}", h.GetConversation)
		r.Get("/conversations/{id}/messages", h.ListMessages)
		r.Get("/conversations/{id}/unread", h.ConversationUnread)
		r.Post("/conversations/{id}/read", h.MarkConversationRead)

		r.Post("/messages", h.SendMessage)
		r.Post("/messages/{id}/read", h.MarkMessageRead)

		r.Get("/inbox/unread", h.UnreadTotal)
		r.Get("/inbox/events", h.Events)
	})

	return r
}
