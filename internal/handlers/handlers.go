package handlers

import (
	_ "embed"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/diff-finder/internal/artifacts"
	"github.com/example/diff-finder/internal/imagediff"
	"github.com/example/diff-finder/internal/usecase"
)

// MaxUploadSize is the default per-image upload ceiling.
const MaxUploadSize = 10 << 20

// Service identity reported by /health.
const (
	ServiceName    = "P&ID Diff Finder"
	ServiceVersion = "2.0.1"
)

//go:embed fallback_index.html
var fallbackIndex []byte

// Options configures the routes registered by RegisterRoutes.
type Options struct {
	// Store serves rendered artifacts under /results.
	Store artifacts.Store
	// StaticDir holds index.html and the /static assets. Empty disables both.
	StaticDir string
	// MaxUploadBytes caps each uploaded image. Zero means MaxUploadSize.
	MaxUploadBytes int64
	// Auth guards the comparison API. Nil leaves it open.
	Auth gin.HandlerFunc
	// Metrics is served on /metrics when set.
	Metrics http.Handler
	Logger  *zap.Logger
}

type handler struct {
	uc        *usecase.ComparisonUseCase
	store     artifacts.Store
	staticDir string
	maxBytes  int64
	logger    *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.ComparisonUseCase, opts Options) {
	h := &handler{
		uc:        uc,
		store:     opts.Store,
		staticDir: opts.StaticDir,
		maxBytes:  opts.MaxUploadBytes,
		logger:    opts.Logger,
	}
	if h.maxBytes <= 0 {
		h.maxBytes = MaxUploadSize
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	h.logger = h.logger.Named("handlers")

	authMiddleware := opts.Auth
	if authMiddleware == nil {
		authMiddleware = func(c *gin.Context) { c.Next() }
	}

	router.GET("/", h.index)
	if h.staticDir != "" {
		router.Static("/static", h.staticDir)
	}
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": ServiceName, "version": ServiceVersion})
	})
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	router.GET("/results/:filename", h.resultFile)

	api := router.Group("/", authMiddleware)
	api.POST("/compare-images", h.compareImages)
	api.GET("/comparisons/:id", h.comparison)
	api.GET("/comparisons/:id/history", h.comparisonHistory)
	api.GET("/metrics/summary", h.metricsSummary)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Endpoint not found"})
	})
}

func (h *handler) index(c *gin.Context) {
	if h.staticDir != "" {
		indexPath := filepath.Join(h.staticDir, "index.html")
		if info, err := os.Stat(indexPath); err == nil && !info.IsDir() {
			c.File(indexPath)
			return
		}
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", fallbackIndex)
}

func (h *handler) compareImages(c *gin.Context) {
	// Both parts plus multipart framing.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 2*h.maxBytes+1<<20)

	reference, uploadErr := h.readImage(c, "reference_image", "reference")
	if uploadErr != nil {
		c.JSON(uploadErr.status, gin.H{"error": uploadErr.message})
		return
	}
	compare, uploadErr := h.readImage(c, "compare_image", "compare")
	if uploadErr != nil {
		c.JSON(uploadErr.status, gin.H{"error": uploadErr.message})
		return
	}

	result, err := h.uc.CompareImages(c.Request.Context(), reference, compare)
	if err != nil {
		switch {
		case errors.Is(err, imagediff.ErrDegenerateShape):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Images are too small to compare"})
		case usecase.IsInvalidInput(err):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid image data"})
		default:
			h.logger.Error("comparison failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error during image processing"})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *handler) resultFile(c *gin.Context) {
	filename := c.Param("filename")
	if h.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Result file not found"})
		return
	}

	path, err := h.store.Path(filename)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) || errors.Is(err, artifacts.ErrInvalidName) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Result file not found"})
			return
		}
		h.logger.Error("failed to resolve result file", zap.String("filename", filename), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	mediaType := "image/jpeg"
	if strings.HasSuffix(strings.ToLower(filename), ".png") {
		mediaType = "image/png"
	}
	c.Header("Content-Type", mediaType)
	c.File(path)
}

func (h *handler) comparison(c *gin.Context) {
	result, err := h.uc.GetResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.lookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handler) comparisonHistory(c *gin.Context) {
	history, err := h.uc.GetPairHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.lookupError(c, err)
		return
	}

	previous := make([]gin.H, 0, len(history.Previous))
	for _, entry := range history.Previous {
		previous = append(previous, gin.H{
			"session_id":       entry.Result.SessionID,
			"similarity_score": entry.Result.SimilarityScore,
			"metadata":         entry.Result.Metadata,
			"created_at":       entry.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"comparison": history.Comparison,
		"created_at": history.CreatedAt,
		"previous":   previous,
	})
}

func (h *handler) metricsSummary(c *gin.Context) {
	summary, err := h.uc.GetMetricsSummary(c.Request.Context())
	if err != nil {
		h.lookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *handler) lookupError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, usecase.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Comparison not found"})
	case errors.Is(err, usecase.ErrHistoryDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Comparison history is disabled"})
	default:
		h.logger.Error("comparison lookup failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
