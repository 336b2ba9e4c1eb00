package booking

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carebook/carebook/internal/platform/auth"
	"github.com/carebook/carebook/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	appt := api.Group("/appointment")
	appt.POST("", h.Book, auth.RequireRole(auth.RolePatient))
	appt.GET("/my-appointments", h.MyAppointments, auth.RequireRole(auth.RolePatient, auth.RoleDoctor))
	appt.GET("/:id", h.GetAppointment)
	appt.PUT("/:id/status", h.UpdateStatus)
	appt.DELETE("/:id", h.Cancel, auth.RequireRole(auth.RolePatient))

	sched := api.Group("/schedules", auth.RequireRole(auth.RoleDoctor, auth.RoleAdmin))
	sched.POST("", h.CreateSchedule)
	sched.GET("/:id", h.GetSchedule)
	sched.PUT("/:id", h.UpdateSchedule)
	sched.DELETE("/:id", h.DeleteSchedule)
	api.GET("/doctors/:id/schedules", h.ListSchedules)
}

// envelope is the success response body the appointment endpoints use.
type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// httpError converts expected service failures into HTTP statuses. Unknown
// errors bubble up as 500s with a generic body; the logger middleware keeps
// the detail.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrAppointmentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotAllowed):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrInvalidDateTime),
		errors.Is(err, ErrDoctorNotFound),
		errors.Is(err, ErrFacilityNotFound),
		errors.Is(err, ErrNoSchedule),
		errors.Is(err, ErrOutsideWorkingHours),
		errors.Is(err, ErrSlotFull),
		errors.Is(err, ErrNotPending),
		errors.Is(err, ErrCancelWindow),
		errors.Is(err, ErrBadTransition),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrInvalidSchedule):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}

func caller(c echo.Context) (auth.Caller, error) {
	cl, ok := auth.CallerFromContext(c.Request().Context())
	if !ok {
		return auth.Caller{}, echo.NewHTTPError(http.StatusUnauthorized, "missing caller")
	}
	return cl, nil
}

func (h *Handler) Book(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}

	var req BookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	appt, err := h.svc.Book(c.Request().Context(), cl, req)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, envelope{
		Success: true,
		Message: "appointment booked",
		Data:    appt,
	})
}

func (h *Handler) MyAppointments(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}

	p := pagination.FromContext(c)
	appts, total, err := h.svc.MyAppointments(c.Request().Context(), cl, c.QueryParam("status"), p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, envelope{
		Success: true,
		Message: "appointments",
		Data:    pagination.NewResponse(appts, total, p.Limit, p.Offset),
	})
}

func (h *Handler) GetAppointment(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	appt, err := h.svc.Get(c.Request().Context(), cl, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, envelope{Success: true, Message: "appointment", Data: appt})
}

type updateStatusRequest struct {
	Status string  `json:"status"`
	Reason *string `json:"reason,omitempty"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var req updateStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	status, err := ParseStatus(req.Status)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	appt, err := h.svc.UpdateStatus(c.Request().Context(), cl, id, status, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, envelope{Success: true, Message: "status updated", Data: appt})
}

type cancelRequest struct {
	Reason *string `json:"reason,omitempty"`
}

func (h *Handler) Cancel(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var req cancelRequest
	// Body is optional on DELETE.
	_ = c.Bind(&req)

	appt, err := h.svc.Cancel(c.Request().Context(), cl, id, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, envelope{Success: true, Message: "appointment cancelled", Data: appt})
}

// --- schedule rules ---

func (h *Handler) CreateSchedule(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}

	var sched DoctorSchedule
	if err := c.Bind(&sched); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sched.IsActive = true

	if err := h.svc.CreateSchedule(c.Request().Context(), cl, &sched); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, sched)
}

func (h *Handler) GetSchedule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	sched, err := h.svc.GetSchedule(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNoSchedule) {
			return echo.NewHTTPError(http.StatusNotFound, "schedule not found")
		}
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sched)
}

func (h *Handler) UpdateSchedule(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var sched DoctorSchedule
	if err := c.Bind(&sched); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sched.ID = id

	if err := h.svc.UpdateSchedule(c.Request().Context(), cl, &sched); err != nil {
		if errors.Is(err, ErrNoSchedule) {
			return echo.NewHTTPError(http.StatusNotFound, "schedule not found")
		}
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sched)
}

func (h *Handler) DeleteSchedule(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	if err := h.svc.DeleteSchedule(c.Request().Context(), cl, id); err != nil {
		if errors.Is(err, ErrNoSchedule) {
			return echo.NewHTTPError(http.StatusNotFound, "schedule not found")
		}
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListSchedules(c echo.Context) error {
	doctorID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	p := pagination.FromContext(c)

	// ?date= resolves the single rule applying on that day.
	if dateStr := c.QueryParam("date"); dateStr != "" {
		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid date")
		}
		sched, err := h.svc.FindSchedule(c.Request().Context(), doctorID, date)
		if err != nil {
			if errors.Is(err, ErrNoSchedule) {
				return echo.NewHTTPError(http.StatusNotFound, "no schedule for this date")
			}
			return httpError(err)
		}
		return c.JSON(http.StatusOK, sched)
	}

	scheds, total, err := h.svc.ListSchedules(c.Request().Context(), doctorID, p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(scheds, total, p.Limit, p.Offset))
}
