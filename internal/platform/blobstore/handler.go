package blobstore

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hospital/booking/internal/platform/auth"
	"github.com/hospital/booking/pkg/pagination"
)

// Export task states.
const (
	TaskQueued     = "queued"
	TaskProcessing = "processing"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
)

// ExportTask tracks a requested export. The finished file is stored under
// the task ID, so GET /exports/:id serves both the status and the download.
type ExportTask struct {
	ID         string     `json:"id"`
	PatientID  int64      `json:"patient_id"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ExportQueue produces history exports in the background.
type ExportQueue interface {
	Enqueue(patientID int64) ExportTask
	Task(id string) (ExportTask, bool)
}

// BlobHandler lets patients request, list and download their history
// exports. Admins may act for any patient.
type BlobHandler struct {
	store BlobStore
	queue ExportQueue
}

// NewBlobHandler serves store. queue may be nil, in which case exports can
// only be produced offline and POST /exports is not registered.
func NewBlobHandler(store BlobStore, queue ExportQueue) *BlobHandler {
	return &BlobHandler{store: store, queue: queue}
}

func (h *BlobHandler) RegisterRoutes(g *echo.Group) {
	exports := g.Group("/exports", auth.RequireRole(auth.RolePatient))
	exports.GET("", h.handleList)
	exports.GET("/:id", h.handleDownload)
	if h.queue != nil {
		exports.POST("", h.handleCreate)
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func fail(c echo.Context, status int, code, msg string) error {
	return c.JSON(status, errorBody{Code: code, Message: msg})
}

// patientScope is the caller's own id, or for admins the optional
// ?patient_id= (AllPatients when absent).
func patientScope(c echo.Context, actor auth.Actor) (int64, error) {
	if !actor.IsAdmin() {
		return actor.ID, nil
	}
	raw := c.QueryParam("patient_id")
	if raw == "" {
		return AllPatients, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("patient_id must be a positive integer")
	}
	return id, nil
}

func (h *BlobHandler) handleList(c echo.Context) error {
	actor, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return fail(c, http.StatusUnauthorized, "unauthorized", "authentication required")
	}
	patientID, err := patientScope(c, actor)
	if err != nil {
		return fail(c, http.StatusBadRequest, "validation_error", err.Error())
	}
	pg := pagination.FromContext(c)
	items, total, err := h.store.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		c.Logger().Errorf("list exports: %v", err)
		return fail(c, http.StatusInternalServerError, "internal_error", "internal server error")
	}
	if items == nil {
		items = []*BlobMetadata{}
	}
	return c.JSON(http.StatusOK, pg.Linked(c, items, total))
}

func (h *BlobHandler) handleCreate(c echo.Context) error {
	actor, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return fail(c, http.StatusUnauthorized, "unauthorized", "authentication required")
	}
	patientID, err := patientScope(c, actor)
	if err != nil {
		return fail(c, http.StatusBadRequest, "validation_error", err.Error())
	}
	if patientID == AllPatients {
		return fail(c, http.StatusBadRequest, "validation_error", "patient_id is required")
	}

	task := h.queue.Enqueue(patientID)
	c.Response().Header().Set(echo.HeaderLocation, path.Join(c.Request().URL.Path, task.ID))
	return c.JSON(http.StatusAccepted, task)
}

func (h *BlobHandler) handleDownload(c echo.Context) error {
	actor, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return fail(c, http.StatusUnauthorized, "unauthorized", "authentication required")
	}
	id := c.Param("id")

	rc, meta, err := h.store.Download(c.Request().Context(), id)
	if errors.Is(err, ErrBlobNotFound) {
		return h.taskStatus(c, actor, id)
	}
	if err != nil {
		c.Logger().Errorf("download export %s: %v", id, err)
		return fail(c, http.StatusInternalServerError, "internal_error", "internal server error")
	}
	defer rc.Close()

	// Someone else's export is reported as missing.
	if !actor.IsAdmin() && meta.PatientID != actor.ID {
		return fail(c, http.StatusNotFound, "not_found", "export not found")
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, meta.FileName))
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}

// taskStatus answers for an export that is not stored yet.
func (h *BlobHandler) taskStatus(c echo.Context, actor auth.Actor, id string) error {
	if h.queue == nil {
		return fail(c, http.StatusNotFound, "not_found", "export not found")
	}
	task, ok := h.queue.Task(id)
	if !ok || (!actor.IsAdmin() && task.PatientID != actor.ID) {
		return fail(c, http.StatusNotFound, "not_found", "export not found")
	}
	switch task.Status {
	case TaskQueued, TaskProcessing:
		return c.JSON(http.StatusAccepted, task)
	case TaskFailed:
		return c.JSON(http.StatusInternalServerError, errorBody{Code: "export_failed", Message: task.Error})
	default:
		// Completed but since removed from the store.
		return fail(c, http.StatusNotFound, "not_found", "export not found")
	}
}
