package queue

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hospq/queue/internal/platform/auth"
	"github.com/hospq/queue/pkg/pagination"
)

// StaffRoles may operate queues. auth.RequireRole also lets admin through.
var StaffRoles = []string{"doctor", "dentist", "nurse", "staff"}

type Handler struct {
	svc    *Service
	logger zerolog.Logger
	// verbose exposes internal error details in responses.
	verbose bool
}

func NewHandler(svc *Service, logger zerolog.Logger, verbose bool) *Handler {
	return &Handler{svc: svc, logger: logger, verbose: verbose}
}

// RegisterRoutes mounts the patient lookup on public and the staff console on
// staff, which must already carry authentication middleware.
func (h *Handler) RegisterRoutes(public *echo.Group, staff *echo.Group) {
	public.GET("/queue/:visitNumber", h.GetSnapshot)

	g := staff.Group("", auth.RequireRole(StaffRoles...))
	g.GET("/queues/:departmentId", h.ListDepartmentQueue)
	g.POST("/queue/create", h.CreateTicket)
	g.POST("/queue/:id/call", h.transition(ActionCall))
	g.POST("/queue/:id/arrived", h.transition(ActionArrived))
	g.POST("/queue/:id/skip", h.transition(ActionSkip))
	g.POST("/queue/:id/complete", h.transition(ActionComplete))
	g.POST("/queue/:id/recall", h.transition(ActionRecall))
	g.GET("/queue/:id/history", h.GetHistory)
}

type createRequest struct {
	VisitNumber string `json:"visitNumber"`
	StaffID     int64  `json:"staffId"`
}

type transitionRequest struct {
	StaffName string `json:"staffName"`
}

var transitionMessages = map[Action]string{
	ActionCall:     "Queue called",
	ActionArrived:  "Patient marked as arrived",
	ActionSkip:     "Queue skipped",
	ActionComplete: "Queue completed",
	ActionRecall:   "Queue recalled",
}

func (h *Handler) GetSnapshot(c echo.Context) error {
	vn := strings.TrimSpace(c.Param("visitNumber"))
	if vn == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "visit number is required")
	}
	snap, err := h.svc.SnapshotByVisit(c.Request().Context(), vn)
	if err != nil {
		if IsNotFound(err) {
			return echo.NewHTTPError(http.StatusNotFound, "queue not found for this visit")
		}
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    snap,
	})
}

func (h *Handler) ListDepartmentQueue(c echo.Context) error {
	deptID, err := strconv.ParseInt(c.Param("departmentId"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid department id")
	}
	entries, err := h.svc.DepartmentQueue(c.Request().Context(), deptID)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    entries,
	})
}

func (h *Handler) CreateTicket(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.VisitNumber = strings.TrimSpace(req.VisitNumber)
	if req.VisitNumber == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "visitNumber is required")
	}

	if req.StaffID == 0 {
		staff, _ := auth.StaffFromContext(c.Request().Context())
		req.StaffID = staff.ID
	}
	if req.StaffID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "staffId is required")
	}

	t, err := h.svc.Issue(c.Request().Context(), req.VisitNumber, req.StaffID)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":      true,
		"message":      "Queue created successfully",
		"ticketNumber": t.Number,
		"ticketId":     t.ID,
	})
}

func (h *Handler) transition(action Action) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
		}
		var req transitionRequest
		if c.Request().ContentLength != 0 {
			if err := c.Bind(&req); err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
			}
		}
		changedBy := strings.TrimSpace(req.StaffName)
		if changedBy == "" {
			if staff, ok := auth.StaffFromContext(c.Request().Context()); ok {
				changedBy = staff.Name
			}
		}

		res, err := h.svc.Transition(c.Request().Context(), id, action, changedBy)
		if err != nil {
			return h.httpError(c, err)
		}

		body := map[string]interface{}{
			"success": true,
			"message": transitionMessages[action],
		}
		if res.Snapshot != nil {
			body["data"] = res.Snapshot
		}
		if res.Contact != nil {
			body["patientInfo"] = res.Contact
		}
		return c.JSON(http.StatusOK, body)
	}
}

func (h *Handler) GetHistory(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.History(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// httpError maps domain errors to HTTP statuses. Anything unrecognised is
// logged and reported as a generic 500.
func (h *Handler) httpError(c echo.Context, err error) error {
	switch {
	case IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrStaffNotFound):
		return echo.NewHTTPError(http.StatusBadRequest, "Staff department not found")
	case errors.Is(err, ErrDuplicateTicket):
		return echo.NewHTTPError(http.StatusBadRequest, "Queue already exists for this visit")
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	h.logger.Error().Err(err).
		Str("method", c.Request().Method).
		Str("path", c.Path()).
		Msg("queue request failed")
	if h.verbose {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error: "+err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
