// Package servingapi exposes the external HTTP surface: the
// GetProduction lookup callers use to resolve which model_version is
// currently live, the prediction/label ingestion endpoints C2 accepts
// writes through, health, and Prometheus metrics. Grounded on the
// teacher's api/server.go gin wiring, trimmed to this spec's much
// smaller public surface (no auth, no CORS, no rate limiting — there is
// no multi-tenant caller to protect against here).
package servingapi

import (
	"context"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sentrylabs/modelsentry/internal/config"
	"github.com/sentrylabs/modelsentry/internal/domain"
	sentryerrors "github.com/sentrylabs/modelsentry/pkg/errors"
)

// ProductionLookup is the registry surface GetProduction reads from.
// Satisfied by *registry.Registry.
type ProductionLookup interface {
	CurrentProduction(ctx context.Context, modelName string) (domain.ModelVersion, bool, error)
}

// LedgerWriter is the C2 surface the ingestion endpoints write through.
// Satisfied by *ledger.Ledger.
type LedgerWriter interface {
	AppendPrediction(ctx context.Context, record domain.PredictionRecord) error
	AppendLabel(ctx context.Context, record domain.LabelRecord) error
}

// Server is the external HTTP surface.
type Server struct {
	router   *gin.Engine
	log      *zap.Logger
	registry ProductionLookup
	ledger   LedgerWriter
	httpSrv  *http.Server
}

// New wires the router. Handlers never touch gin internals beyond this
// file, matching the teacher's one-file-per-surface api/server.go shape.
func New(cfg config.ServerConfig, log *zap.Logger, reg ProductionLookup, ldg LedgerWriter) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginzap.Ginzap(log, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(log, true))

	s := &Server{router: router, log: log.Named("servingapi"), registry: reg, ledger: ldg}
	s.registerRoutes()
	s.httpSrv = &http.Server{Addr: cfg.Addr, Handler: router}
	return s
}

// Router exposes the gin engine for testing, mirroring the teacher's
// api.Server.Router().
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.healthz)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/v1")
	{
		v1.GET("/models/:model_name/production", s.getProduction)
		v1.POST("/predictions", s.appendPrediction)
		v1.POST("/labels", s.appendLabel)
	}
}

// Start runs the HTTP server until Stop is called or ListenAndServe
// fails for a reason other than a clean shutdown.
func (s *Server) Start() error {
	s.log.Info("serving API listening", zap.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

// getProduction is the external GetProduction lookup (§6): the one read
// path callers outside this service use to learn which model_version
// they should be scoring requests with.
func (s *Server) getProduction(c *gin.Context) {
	modelName := c.Param("model_name")
	current, ok, err := s.registry.CurrentProduction(c.Request.Context(), modelName)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no production model for model_name", "model_name": modelName})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"model_name":   current.ModelName,
		"version":      current.Version,
		"promoted_at":  current.PromotedAt,
		"f1_score":     current.F1Score,
		"brier_score":  current.BrierScore,
		"model_blob_ref": current.ModelBlobRef,
	})
}

type predictionRequest struct {
	PredictionID         string                 `json:"prediction_id" binding:"required"`
	ModelName            string                 `json:"model_name" binding:"required"`
	ModelVersion         string                 `json:"model_version" binding:"required"`
	Features             map[string]interface{} `json:"features" binding:"required"`
	PredictedClass       int                    `json:"predicted_class"`
	PredictedProbability float64                `json:"predicted_probability"`
	RequestSource        string                 `json:"request_source"`
	ResponseTimeMs       *int64                 `json:"response_time_ms"`
}

// appendPrediction is C2's served-prediction write path (§4.2). A
// repeated prediction_id is a no-op, not an error (R1).
func (s *Server) appendPrediction(c *gin.Context) {
	var req predictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	record := domain.PredictionRecord{
		PredictionID:         req.PredictionID,
		CreatedAt:            time.Now().UTC(),
		ModelName:            req.ModelName,
		ModelVersion:         req.ModelVersion,
		Features:             domain.FeatureRow(req.Features),
		PredictedClass:       req.PredictedClass,
		PredictedProbability: req.PredictedProbability,
		RequestSource:        req.RequestSource,
		ResponseTimeMs:       req.ResponseTimeMs,
	}
	if err := s.ledger.AppendPrediction(c.Request.Context(), record); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"prediction_id": req.PredictionID})
}

type labelRequest struct {
	PredictionID    string `json:"prediction_id" binding:"required"`
	TrueClass       int    `json:"true_class"`
	LabelSource     string `json:"label_source"`
	LabelObservedAt *time.Time `json:"label_observed_at"`
	DaysDelayed     int    `json:"days_delayed"`
}

// appendLabel is C2's label write path (§4.2). A duplicate label for an
// already-labeled prediction_id surfaces as a 409 (AlreadyLabeled).
func (s *Server) appendLabel(c *gin.Context) {
	var req labelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	observedAt := time.Now().UTC()
	if req.LabelObservedAt != nil {
		observedAt = *req.LabelObservedAt
	}
	record := domain.LabelRecord{
		PredictionID:    req.PredictionID,
		TrueClass:       req.TrueClass,
		LabelObservedAt: observedAt,
		LabelSource:     req.LabelSource,
		DaysDelayed:     req.DaysDelayed,
	}
	if err := s.ledger.AppendLabel(c.Request.Context(), record); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"prediction_id": req.PredictionID})
}

func (s *Server) writeError(c *gin.Context, err error) {
	kind, isTaxonomy := sentryerrors.KindOf(err)
	if !isTaxonomy {
		s.log.Error("unclassified handler error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	switch kind {
	case sentryerrors.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case sentryerrors.KindConflict:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.log.Error("handler error", zap.Error(err), zap.String("kind", string(kind)))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
