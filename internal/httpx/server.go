package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/ilham-s-saksena/race-condition/internal/metrics"
	"github.com/ilham-s-saksena/race-condition/internal/orders"
)

type Checkouter interface {
	Checkout(ctx context.Context, principal orders.User, productID int64, quantity int) (orders.Order, error)
}

type Authenticator interface {
	Login(ctx context.Context, email, password string) (string, error)
	Authenticate(ctx context.Context, token string) (orders.User, error)
	Logout(ctx context.Context, token string) error
}

type Catalog interface {
	ListProducts(ctx context.Context) ([]orders.Product, error)
	GetProduct(ctx context.Context, id int64) (orders.Product, error)
}

type OrderReader interface {
	GetOrder(ctx context.Context, id int64) (orders.Order, error)
}

type OrderCache interface {
	Get(ctx context.Context, orderID int64) ([]byte, bool)
	Set(ctx context.Context, orderID int64, body []byte) error
}

type Deps struct {
	Checkout Checkouter
	Auth     Authenticator
	Catalog  Catalog
	Orders   OrderReader
	Cache    OrderCache // optional
	Metrics  *metrics.Metrics
	Log      *logrus.Entry
	Limiter  *IPLimiter // optional, guards checkout only

	CheckoutTimeout time.Duration
}

func NewRouter(d Deps) *chi.Mux {
	h := &handler{Deps: d}
	if h.CheckoutTimeout <= 0 {
		h.CheckoutTimeout = 10 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(d.Log, d.Metrics), middleware.Recoverer)
	r.Use(middleware.Timeout(h.CheckoutTimeout + 5*time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/login", h.login)
		r.Get("/products", h.listProducts)
		r.Get("/products/{id}", h.getProduct)

		r.Group(func(r chi.Router) {
			r.Use(RequireAuth(d.Auth, d.Log))
			r.Get("/user", h.currentUser)
			r.Post("/logout", h.logout)
			r.Get("/orders/{id}", h.getOrder)
			r.With(d.Limiter.Middleware).Post("/checkout", h.checkout)
		})
	})
	return r
}

type handler struct {
	Deps
}
