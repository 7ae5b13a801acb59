package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"

	"story-text-worker/internal/model"
	"story-text-worker/internal/repository"
	"story-text-worker/internal/worker"
)

// StoryReconciler запускает восстановление истории.
type StoryReconciler interface {
	Reconcile(ctx context.Context, storyID string) (*worker.ReconcileResult, error)
}

// Handler обслуживает внутренний HTTP API воркера.
type Handler struct {
	store      repository.TaskRecordStore
	reconciler StoryReconciler
	logger     *zap.Logger
}

// NewHandler создает обработчик внутреннего API.
func NewHandler(store repository.TaskRecordStore, reconciler StoryReconciler, logger *zap.Logger) *Handler {
	return &Handler{
		store:      store,
		reconciler: reconciler,
		logger:     logger.Named("InternalAPI"),
	}
}

// NewRouter builds the gin engine. /metrics serves the given gatherer together with the
// default registry, where the request metrics middleware registers itself.
func NewRouter(h *Handler, gatherer prometheus.Gatherer, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(GinZapLogger(logger.Named("HTTP")))
	router.Use(gin.Recovery())

	p := ginprometheus.NewPrometheus("gin")
	// Метка url по шаблону маршрута, иначе каждая история дает новую серию
	p.ReqCntURLLabelMappingFn = func(c *gin.Context) string {
		if path := c.FullPath(); path != "" {
			return path
		}
		return "unmatched"
	}
	router.Use(p.HandlerFunc())

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	metrics := promhttp.HandlerFor(prometheus.Gatherers{gatherer, prometheus.DefaultGatherer}, promhttp.HandlerOpts{})
	router.GET("/metrics", gin.WrapH(metrics))

	h.RegisterRoutes(router)
	return router
}

// RegisterRoutes регистрирует внутренние маршруты историй.
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	stories := router.Group("/internal/stories")
	stories.GET("/:id/tasks", h.listTasks)
	stories.POST("/:id/reconcile", h.reconcile)
}

type storyTasksResponse struct {
	StoryID       string              `json:"storyId"`
	Status        model.StoryStatus   `json:"status,omitempty"`
	TaskIDsByType model.TaskIDsByType `json:"taskIdsByType,omitempty"`
	Tasks         []*model.VideoTask  `json:"tasks"`
}

func (h *Handler) listTasks(c *gin.Context) {
	storyID := c.Param("id")
	ctx := c.Request.Context()

	tasks, err := h.store.ListTasks(ctx, storyID)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	resp := storyTasksResponse{StoryID: storyID, Tasks: tasks}
	meta, err := h.store.GetMetadata(ctx, storyID)
	switch {
	case err == nil:
		resp.Status = meta.Status
		resp.TaskIDsByType = meta.TaskIDsByType
	case errors.Is(err, model.ErrNotFound):
		if len(tasks) == 0 {
			handleError(c, h.logger, err)
			return
		}
	default:
		handleError(c, h.logger, err)
		return
	}

	if resp.Tasks == nil {
		resp.Tasks = []*model.VideoTask{}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) reconcile(c *gin.Context) {
	storyID := c.Param("id")

	result, err := h.reconciler.Reconcile(c.Request.Context(), storyID)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
