package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/condoleads/condoleads-sub001/internal/auth"
	"github.com/condoleads/condoleads-sub001/internal/listings"
	"github.com/condoleads/condoleads-sub001/internal/store"
	"github.com/condoleads/condoleads-sub001/internal/syncer"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const subjectContextKey = "condoleads_subject"

var (
	errMissingSyncService    = errors.New("sync service dependency required")
	errMissingListingReader  = errors.New("listing reader dependency required")
	errMissingTokenValidator = errors.New("token validator dependency required")
)

// SyncService is the job-submission side of the engine.
type SyncService interface {
	SubmitEntity(ctx context.Context, entityID string, mode syncer.Mode) (*syncer.Batch, error)
	SubmitBatch(ctx context.Context, entityIDs []string, concurrency int, mode syncer.Mode) (*syncer.Batch, error)
	RetryItem(ctx context.Context, batchID, entityID string) error
	Batch(batchID string) (*syncer.Batch, bool)
	Batches() []syncer.BatchSnapshot
	Discard(batchID string) error
}

// ListingReader is the storage query side consumed by display collaborators.
type ListingReader interface {
	GetEntity(ctx context.Context, entityID string) (listings.Entity, error)
	ListEntities(ctx context.Context) ([]listings.Entity, error)
	ListListings(ctx context.Context, entityID string, includeRemoved bool) ([]listings.StoredListing, error)
	ListPriceHistory(ctx context.Context, entityID string) ([]listings.PriceHistoryEntry, error)
	ListSyncAudits(ctx context.Context, entityID string) ([]listings.SyncAuditEntry, error)
}

type TokenValidator interface {
	ValidateRequest(r *http.Request) (auth.AdminClaims, error)
}

type Dependencies struct {
	Sync           SyncService
	Listings       ListingReader
	Tokens         TokenValidator
	Metrics        http.Handler
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sync == nil {
		return nil, errMissingSyncService
	}
	if deps.Listings == nil {
		return nil, errMissingListingReader
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		sync:     deps.Sync,
		listings: deps.Listings,
		tokens:   deps.Tokens,
		logger:   logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.POST("/sync/entities/:entityID", handler.handleSubmitEntity)
	protected.POST("/sync/batches", handler.handleSubmitBatch)
	protected.GET("/sync/batches", handler.handleListBatches)
	protected.GET("/sync/batches/:batchID", handler.handleGetBatch)
	protected.GET("/sync/batches/:batchID/events", handler.handleBatchEvents)
	protected.POST("/sync/batches/:batchID/items/:entityID/retry", handler.handleRetryItem)
	protected.DELETE("/sync/batches/:batchID", handler.handleDiscardBatch)

	protected.GET("/entities", handler.handleListEntities)
	protected.GET("/entities/:entityID/listings", handler.handleListListings)
	protected.GET("/entities/:entityID/price-history", handler.handlePriceHistory)
	protected.GET("/entities/:entityID/audits", handler.handleAudits)

	return router, nil
}

// corsMiddleware allows the admin UI origins; no origins means any origin.
func corsMiddleware(allowedOrigins ...string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type"},
		ExposeHeaders: []string{batchIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

type httpHandler struct {
	sync     SyncService
	listings ListingReader
	tokens   TokenValidator
	logger   *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.tokens.ValidateRequest(c.Request)
	switch {
	case err == nil:
		c.Set(subjectContextKey, claims.Subject)
		c.Next()
	case errors.Is(err, auth.ErrForbiddenRole):
		h.logger.Warn("token lacks required role", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, auth.ErrExpiredToken), errors.Is(err, auth.ErrMissingToken):
		h.logger.Info("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	default:
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
}

// respondError maps engine and storage errors onto HTTP statuses.
func (h *httpHandler) respondError(c *gin.Context, operation string, err error) {
	status, reason := classifyError(err)
	body := gin.H{"error": reason}
	var serviceErr *store.ServiceError
	if errors.As(err, &serviceErr) {
		body["code"] = serviceErr.Code()
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
	}
	c.JSON(status, body)
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, listings.ErrInvalidEntityID):
		return http.StatusBadRequest, "invalid_entity_id"
	case errors.Is(err, syncer.ErrInvalidMode):
		return http.StatusBadRequest, "invalid_mode"
	case errors.Is(err, syncer.ErrEmptyBatch):
		return http.StatusBadRequest, "empty_batch"
	case errors.Is(err, store.ErrEntityNotFound):
		return http.StatusNotFound, "entity_not_found"
	case errors.Is(err, syncer.ErrBatchNotFound):
		return http.StatusNotFound, "batch_not_found"
	case errors.Is(err, syncer.ErrItemNotFound):
		return http.StatusNotFound, "item_not_found"
	case errors.Is(err, syncer.ErrEntityInFlight):
		return http.StatusConflict, "entity_in_flight"
	case errors.Is(err, syncer.ErrItemNotRetryable):
		return http.StatusConflict, "item_not_retryable"
	case errors.Is(err, syncer.ErrCancelled):
		return http.StatusConflict, "batch_cancelled"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
