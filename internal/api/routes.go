package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"catalog-sync-service/internal/catalog"
	"catalog-sync-service/internal/crud"
	"catalog-sync-service/internal/logger"
	"catalog-sync-service/internal/remote"
	"catalog-sync-service/internal/resilience"
	"catalog-sync-service/internal/sync"
)

// SyncController is the part of the sync coordinator exposed over HTTP.
type SyncController interface {
	Trigger(typ sync.SyncType) bool
	Cancel() bool
	Status() sync.Status
	LastSyncResult(ctx context.Context) (*sync.SyncResult, error)
	CheckStore(ctx context.Context) (bool, error)
}

type ItemService interface {
	CreateItem(ctx context.Context, req *crud.ItemRequest) (*catalog.CatalogObject, error)
	UpdateItem(ctx context.Context, id string, req *crud.ItemRequest) (*catalog.CatalogObject, error)
	DeleteItem(ctx context.Context, id string) error
	UploadItemImage(ctx context.Context, itemID string, upload remote.ImageUpload) (*catalog.CatalogObject, error)
	LastOperation() *crud.OperationResult
	IsProcessing() bool
}

// CatalogReader serves read-only lookups from the local store.
type CatalogReader interface {
	Get(ctx context.Context, id string) (*catalog.CatalogObject, bool, error)
	SearchItems(ctx context.Context, query string, limit int) ([]*catalog.CatalogObject, error)
	ItemsInCategory(ctx context.Context, categoryID string) ([]*catalog.CatalogObject, error)
	VariationsForItem(ctx context.Context, itemID string) ([]*catalog.CatalogObject, error)
}

type NotificationSink interface {
	Submit(n sync.Notification) bool
	Stats() sync.WorkerStats
}

type Dependencies struct {
	Sync          SyncController
	Items         ItemService
	Catalog       CatalogReader
	Notifications NotificationSink
	Metrics       *resilience.Metrics
	Gatherer      prometheus.Gatherer
	AuthToken     string
	WebhookSecret string
}

type Handler struct {
	sync          SyncController
	items         ItemService
	catalog       CatalogReader
	notifications NotificationSink
	metrics       *resilience.Metrics
	gatherer      prometheus.Gatherer
	authToken     string
	webhookSecret string
}

func NewHandler(deps Dependencies) *Handler {
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		sync:          deps.Sync,
		items:         deps.Items,
		catalog:       deps.Catalog,
		notifications: deps.Notifications,
		metrics:       deps.Metrics,
		gatherer:      gatherer,
		authToken:     deps.AuthToken,
		webhookSecret: deps.WebhookSecret,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(CorsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	r.With(h.WebhookAuth).Post("/webhooks/catalog", h.ReceiveNotification)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.AuthMiddleware)

		r.Post("/sync/trigger", h.TriggerSync)
		r.Post("/sync/stop", h.StopSync)
		r.Get("/sync/status", h.GetSyncStatus)
		r.Get("/sync/last", h.GetLastSync)
		r.Get("/sync/operations", h.GetOperations)

		r.Get("/items", h.SearchItems)
		r.Post("/items", h.CreateItem)
		r.Route("/items/{id}", func(r chi.Router) {
			r.Get("/", h.GetItem)
			r.Put("/", h.UpdateItem)
			r.Delete("/", h.DeleteItem)
			r.Post("/image", h.UploadImage)
		})

		r.Get("/crud/last", h.GetLastOperation)
		r.Post("/store/check", h.CheckStore)
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")

		if r.Method == "OPTIONS" {
			return
		}

		next.ServeHTTP(w, r)
	})
}

// AuthMiddleware requires "Authorization: Bearer <token>". An empty configured
// token leaves the admin API open.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.authToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.authToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WebhookAuth requires the shared secret in the X-Webhook-Token header. An
// empty configured secret accepts every notification.
func (h *Handler) WebhookAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.webhookSecret == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := r.Header.Get("X-Webhook-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.webhookSecret)) != 1 {
			logger.Log.Warn("Rejected catalog notification", zap.String("remote_addr", r.RemoteAddr))
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequestLogger logs one line per request through the global zap logger.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			logger.Log.Debug("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		}()
		next.ServeHTTP(ww, r)
	})
}
