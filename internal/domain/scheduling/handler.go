package scheduling

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hospital/booking/internal/platform/auth"
	"github.com/hospital/booking/pkg/pagination"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – patients and doctors see their own records
	readGroup := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleDoctor))
	readGroup.GET("/doctors/:doctor_id/slots", h.ListSlots)
	readGroup.GET("/appointments", h.ListAppointments)
	readGroup.GET("/appointments/:id", h.GetAppointment)
	readGroup.GET("/appointments/:id/treatment", h.GetTreatment)
	readGroup.GET("/availability", h.ListAvailability)
	readGroup.GET("/availability/:id", h.GetAvailability)
	readGroup.GET("/payments/:id", h.GetPayment)
	readGroup.GET("/patients/:id/history", h.PatientHistory)

	// Patient endpoints
	patientGroup := api.Group("", auth.RequireRole(auth.RolePatient))
	patientGroup.POST("/doctors/:doctor_id/appointments", h.BookAppointment)
	patientGroup.POST("/appointments/:id/cancel", h.CancelAppointment)
	patientGroup.POST("/payments/:id/confirm", h.ConfirmPayment)

	// Doctor endpoints
	doctorGroup := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctorGroup.POST("/appointments/:id/complete", h.CompleteAppointment)
	doctorGroup.PUT("/appointments/:id/treatment", h.FileTreatment)
	doctorGroup.POST("/availability", h.DeclareAvailability)
	doctorGroup.PATCH("/availability/:id", h.UpdateAvailability)
	doctorGroup.DELETE("/availability/:id", h.DeleteAvailability)
}

// -- Request bodies --

type bookRequest struct {
	PatientID int64  `json:"patient_id" validate:"omitempty,min=1"`
	Date      string `json:"date" validate:"required,calendar_date"`
	Time      string `json:"time" validate:"required,clock"`
	Reason    string `json:"reason" validate:"max=500"`
}

type treatmentRequest struct {
	Diagnosis        string `json:"diagnosis" validate:"required"`
	Prescription     string `json:"prescription"`
	Notes            string `json:"notes"`
	FollowUpRequired bool   `json:"follow_up_required"`
	FollowUpDate     string `json:"follow_up_date" validate:"omitempty,calendar_date"`
}

type availabilityRequest struct {
	DoctorID   int64  `json:"doctor_id" validate:"omitempty,min=1"`
	Date       string `json:"date" validate:"required,calendar_date"`
	StartTime  string `json:"start_time" validate:"required,clock"`
	EndTime    string `json:"end_time" validate:"required,clock"`
	SeatsTotal int    `json:"seats_total" validate:"required,min=1"`
}

type openRequest struct {
	IsOpen *bool `json:"is_open" validate:"required"`
}

type confirmRequest struct {
	Status string `json:"status" validate:"required,oneof=Success Failed"`
}

type slotsResponse struct {
	DoctorID int64  `json:"doctor_id"`
	Date     Date   `json:"date"`
	Slots    []Slot `json:"slots"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// -- Slots and booking --

func (h *Handler) ListSlots(c echo.Context) error {
	doctorID, err := pathID(c, "doctor_id")
	if err != nil {
		return h.fail(c, err)
	}
	date, err := ParseDate(c.QueryParam("date"))
	if err != nil {
		return h.fail(c, Validation("date query parameter: %v", err))
	}
	slots, err := h.svc.Slots.GenerateSlots(c.Request().Context(), doctorID, date)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, slotsResponse{DoctorID: doctorID, Date: date, Slots: slots})
}

func (h *Handler) BookAppointment(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return h.fail(c, err)
	}
	doctorID, err := pathID(c, "doctor_id")
	if err != nil {
		return h.fail(c, err)
	}
	var body bookRequest
	if err := bindAndValidate(c, &body); err != nil {
		return h.fail(c, err)
	}

	patientID := body.PatientID
	if !actor.IsAdmin() {
		patientID = actor.ID
	}
	t, _ := ParseTimeOfDay(body.Time)
	conf, err := h.svc.Booking.Book(c.Request().Context(), BookingRequest{
		PatientID: patientID,
		DoctorID:  doctorID,
		Date:      Date(body.Date),
		Time:      t,
		Reason:    body.Reason,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, conf)
}

// -- Appointments --

func (h *Handler) ListAppointments(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return h.fail(c, err)
	}
	f := AppointmentFilter{Status: Status(c.QueryParam("status"))}
	if d := c.QueryParam("date"); d != "" {
		if f.Date, err = ParseDate(d); err != nil {
			return h.fail(c, Validation("date query parameter: %v", err))
		}
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAppointments(c.Request().Context(), actor, f, pg.Limit, pg.Offset)
	if err != nil {
		return h.fail(c, err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pg.Linked(c, items, total))
}

func (h *Handler) GetAppointment(c echo.Context) error {
	actor, id, err := h.actorAndID(c)
	if err != nil {
		return h.fail(c, err)
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), actor, id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) PatientHistory(c echo.Context) error {
	actor, patientID, err := h.actorAndID(c)
	if err != nil {
		return h.fail(c, err)
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.History(c.Request().Context(), actor, patientID, pg.Limit, pg.Offset)
	if err != nil {
		return h.fail(c, err)
	}
	if items == nil {
		items = []*HistoryEntry{}
	}
	return c.JSON(http.StatusOK, pg.Linked(c, items, total))
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	actor, id, err := h.actorAndID(c)
	if err != nil {
		return h.fail(c, err)
	}
	a, err := h.svc.Lifecycle.Cancel(c.Request().Context(), actor, id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CompleteAppointment(c echo.Context) error {
	actor, id, err := h.actorAndID(c)
	if err != nil {
		return h.fail(c, err)
	}
	a, err := h.svc.Lifecycle.Complete(c.Request().Context(), actor, id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) GetTreatment(c echo.Context) error {
	actor, id, err := h.actorAndID(c)
	if err != nil {
		return h.fail(c, err)
	}
	t, err := h.svc.GetTreatment(c.Request().Context(), actor, id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) FileTreatment(c echo.Context) error {
	actor, id, err := h.actorAndID(c)
	if err != nil {
		return h.fail(c, err)
	}
	var body treatmentRequest
	if err := bindAndValidate(c, &body); err != nil {
		return h.fail(c, err)
	}
	in := TreatmentInput{
		Diagnosis:        body.Diagnosis,
		Prescription:     body.Prescription,
		Notes:            body.Notes,
		FollowUpRequired: body.FollowUpRequired,
	}
	if body.FollowUpDate != "" {
		d := Date(body.FollowUpDate)
		in.FollowUpDate = &d
	}
	t, err := h.svc.Lifecycle.FileTreatment(c.Request().Context(), actor, id, in)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

// -- Availability --

func (h *Handler) ListAvailability(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return h.fail(c, err)
	}
	doctorID := actor.ID
	if q := c.QueryParam("doctor_id"); q != "" {
		if doctorID, err = strconv.ParseInt(q, 10, 64); err != nil || doctorID <= 0 {
			return h.fail(c, Validation("invalid doctor_id"))
		}
	} else if actor.Role != auth.RoleDoctor {
		return h.fail(c, Validation("doctor_id is required"))
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Availability.List(c.Request().Context(), doctorID, pg.Limit, pg.Offset)
	if err != nil {
		return h.fail(c, err)
	}
	if items == nil {
		items = []*Availability{}
	}
	return c.JSON(http.StatusOK, pg.Linked(c, items, total))
}

func (h *Handler) GetAvailability(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	a, err := h.svc.Availability.Get(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeclareAvailability(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return h.fail(c, err)
	}
	var body availabilityRequest
	if err := bindAndValidate(c, &body); err != nil {
		return h.fail(c, err)
	}
	start, _ := ParseTimeOfDay(body.StartTime)
	end, _ := ParseTimeOfDay(body.EndTime)
	a, created, err := h.svc.Availability.Declare(c.Request().Context(), actor, AvailabilityInput{
		DoctorID:   body.DoctorID,
		Date:       Date(body.Date),
		StartTime:  start,
		EndTime:    end,
		SeatsTotal: body.SeatsTotal,
	})
	if err != nil {
		return h.fail(c, err)
	}
	if created {
		return c.JSON(http.StatusCreated, a)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) UpdateAvailability(c echo.Context) error {
	actor, id, err := h.actorAndID(c)
	if err != nil {
		return h.fail(c, err)
	}
	var body openRequest
	if err := bindAndValidate(c, &body); err != nil {
		return h.fail(c, err)
	}
	a, err := h.svc.Availability.SetOpen(c.Request().Context(), actor, id, *body.IsOpen)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAvailability(c echo.Context) error {
	actor, id, err := h.actorAndID(c)
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.svc.Availability.Delete(c.Request().Context(), actor, id); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Payments --

func (h *Handler) GetPayment(c echo.Context) error {
	actor, id, err := h.actorAndID(c)
	if err != nil {
		return h.fail(c, err)
	}
	p, err := h.svc.Payments.GetPayment(c.Request().Context(), actor, id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ConfirmPayment(c echo.Context) error {
	actor, id, err := h.actorAndID(c)
	if err != nil {
		return h.fail(c, err)
	}
	var body confirmRequest
	if err := bindAndValidate(c, &body); err != nil {
		return h.fail(c, err)
	}
	p, err := h.svc.Payments.ConfirmPayment(c.Request().Context(), actor, id, PaymentStatus(body.Status))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

// -- Helpers --

var statusByKind = map[Kind]int{
	KindNotFound:          http.StatusNotFound,
	KindUnauthorized:      http.StatusForbidden,
	KindInvalidTransition: http.StatusConflict,
	KindInvalidState:      http.StatusConflict,
	KindNoAvailability:    http.StatusUnprocessableEntity,
	KindSlotFull:          http.StatusConflict,
	KindDuplicateBooking:  http.StatusConflict,
	KindValidation:        http.StatusBadRequest,
}

// HTTPStatus returns the response status for a domain error kind, or 500.
func HTTPStatus(k Kind) int {
	if s, ok := statusByKind[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// fail writes domain errors as {code, message}. Anything else is logged
// and surfaces as a bare 500.
func (h *Handler) fail(c echo.Context, err error) error {
	if k := KindOf(err); k != "" {
		return c.JSON(HTTPStatus(k), errorBody{Code: string(k), Message: err.Error()})
	}
	if he, ok := err.(*echo.HTTPError); ok {
		return he
	}
	h.logger.Error().Err(err).
		Str("method", c.Request().Method).
		Str("path", c.Path()).
		Msg("request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

func (h *Handler) actorAndID(c echo.Context) (auth.Actor, int64, error) {
	actor, err := actorOf(c)
	if err != nil {
		return auth.Actor{}, 0, err
	}
	id, err := pathID(c, "id")
	return actor, id, err
}

func actorOf(c echo.Context) (auth.Actor, error) {
	actor, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return auth.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return actor, nil
}

func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, Validation("invalid %s", name)
	}
	return id, nil
}

func bindAndValidate(c echo.Context, body interface{}) error {
	if err := c.Bind(body); err != nil {
		return Validation("malformed request body")
	}
	if err := c.Validate(body); err != nil {
		return Validation("%v", err)
	}
	return nil
}
