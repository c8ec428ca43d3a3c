package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// NewRouter builds the service's HTTP surface. limiter may be nil.
func NewRouter(h *CartHandler, limiter *SessionRateLimiter, logger *zap.Logger, requestTimeout time.Duration) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(middleware.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(logger, w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1/cart", func(r chi.Router) {
		r.Use(SessionMiddleware(logger))
		if limiter != nil {
			r.Use(limiter.Middleware)
		}

		r.Get("/", h.GetCart)
		r.Delete("/", h.ClearCart)
		r.Post("/items", h.AddItem)
		r.Post("/lines", h.AddLine)
		r.Post("/items/{key}/increase", h.IncreaseQuantity)
		r.Post("/items/{key}/decrease", h.DecreaseQuantity)
		r.Delete("/items/{key}", h.RemoveItem)
		r.Get("/checkout", h.GetCheckout)
		r.Post("/checkout", h.Checkout)
	})

	return otelhttp.NewHandler(r, "cart-service")
}
