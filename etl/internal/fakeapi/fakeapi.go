// Package fakeapi serves synthetic users in the same envelope as the public
// users endpoint, so the job can run without network access.
package fakeapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/telhawk-systems/telhawk-etl/common/httputil"
	"github.com/telhawk-systems/telhawk-etl/common/logging"
	"github.com/telhawk-systems/telhawk-etl/common/middleware"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/models"
)

const (
	// UsersPath is the route the handler answers on.
	UsersPath = "/api/v1/users"

	DefaultQuantity = 10
	MaxQuantity     = 1000
)

// Handler generates users on every request.
type Handler struct {
	logger *logging.Logger
}

func NewHandler(logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{logger: logger}
}

// Routes returns the users endpoint wrapped in request ID and access log
// middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+UsersPath, h.Users)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return middleware.RequestID(middleware.AccessLog(h.logger.Logger)(mux))
}

// Users answers GET /api/v1/users?_quantity=N[&_seed=S].
func (h *Handler) Users(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query()

	quantity := DefaultQuantity
	if v := q.Get("_quantity"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httputil.WriteError(w, http.StatusBadRequest, "_quantity must be a positive integer")
			return
		}
		quantity = min(n, MaxQuantity)
	}

	var seed int64
	if v := q.Get("_seed"); v != "" {
		s, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "_seed must be an integer")
			return
		}
		seed = s
	}

	users := Generate(gofakeit.New(seed), quantity)
	httputil.WriteJSON(w, http.StatusOK, models.UsersResponse{
		Status: "OK",
		Code:   http.StatusOK,
		Total:  len(users),
		Data:   users,
	})

	h.logger.InfoContext(r.Context(), "Served users",
		slog.String("request_id", middleware.GetRequestID(r.Context())),
		logging.Count(len(users)),
		logging.Duration(time.Since(start).Milliseconds()),
	)
}

// Generate builds n users with ids starting at 1. A zero seed on f means random.
func Generate(f *gofakeit.Faker, n int) models.Batch {
	users := make(models.Batch, n)
	for i := range users {
		ip := f.IPv4Address()
		if f.Bool() {
			ip = f.IPv6Address()
		}
		users[i] = models.User{
			ID:         int64(i + 1),
			UUID:       f.UUID(),
			Firstname:  f.FirstName(),
			Lastname:   f.LastName(),
			Username:   f.Username(),
			Password:   f.Password(true, true, true, true, false, 12),
			Email:      f.Email(),
			IP:         ip,
			MacAddress: f.MacAddress(),
			Website:    f.URL(),
			Image:      "http://placeimg.com/640/480/people",
		}
	}
	return users
}
