package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hospital/booking/internal/platform/auth"
	"github.com/hospital/booking/pkg/validation"
)

func newTestHandler(t *testing.T) (*Handler, *echo.Echo, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	h := NewHandler(env.svc, zerolog.Nop())
	e := echo.New()
	e.Validator = validation.New()
	return h, e, env
}

func newContext(e *echo.Echo, method, body string, actor auth.Actor) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, "/", nil)
	}
	req = req.WithContext(auth.WithActor(req.Context(), actor))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestHandler_ListSlots(t *testing.T) {
	h, e, env := newTestHandler(t)
	env.declare(t, 1, day, Clock(9, 0), Clock(10, 0), 2)

	c, rec := newContext(e, http.MethodGet, "", patient(101))
	c.SetParamNames("doctor_id")
	c.SetParamValues("1")
	c.QueryParams().Set("date", "2024-06-01")

	if err := h.ListSlots(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Slots []struct {
			Time string `json:"time"`
		} `json:"slots"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Slots) != 2 || resp.Slots[0].Time != "09:00" || resp.Slots[1].Time != "09:30" {
		t.Errorf("unexpected slots %s", rec.Body.String())
	}
}

func TestHandler_ListSlots_NoAvailability(t *testing.T) {
	h, e, _ := newTestHandler(t)
	c, rec := newContext(e, http.MethodGet, "", patient(101))
	c.SetParamNames("doctor_id")
	c.SetParamValues("1")
	c.QueryParams().Set("date", "2024-06-01")

	if err := h.ListSlots(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != "no_availability" {
		t.Errorf("expected no_availability, got %q", body.Code)
	}
}

func TestHandler_ListSlots_BadDate(t *testing.T) {
	h, e, _ := newTestHandler(t)
	c, rec := newContext(e, http.MethodGet, "", patient(101))
	c.SetParamNames("doctor_id")
	c.SetParamValues("1")
	c.QueryParams().Set("date", "tomorrow")

	if err := h.ListSlots(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_BookAppointment(t *testing.T) {
	h, e, env := newTestHandler(t)
	env.declare(t, 1, day, Clock(9, 0), Clock(10, 0), 1)

	c, rec := newContext(e, http.MethodPost, `{"date":"2024-06-01","time":"09:30","reason":"checkup"}`, patient(101))
	c.SetParamNames("doctor_id")
	c.SetParamValues("1")
	if err := h.BookAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var conf BookingConfirmation
	if err := json.Unmarshal(rec.Body.Bytes(), &conf); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if conf.AppointmentID == 0 || conf.PaymentID == 0 || conf.Amount.String() != "300" {
		t.Errorf("unexpected confirmation %+v", conf)
	}
	a, _ := env.svc.GetAppointment(context.Background(), admin, conf.AppointmentID)
	if a.PatientID != 101 || a.Reason != "checkup" {
		t.Errorf("expected appointment for patient 101, got %+v", a)
	}

	// A second patient hits the full slot.
	c, rec = newContext(e, http.MethodPost, `{"date":"2024-06-01","time":"09:30"}`, patient(102))
	c.SetParamNames("doctor_id")
	c.SetParamValues("1")
	if err := h.BookAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != "slot_full" {
		t.Errorf("expected slot_full, got %q", body.Code)
	}
}

func TestHandler_BookAppointment_PatientCannotBookForOthers(t *testing.T) {
	h, e, env := newTestHandler(t)
	env.declare(t, 1, day, Clock(9, 0), Clock(10, 0), 1)

	c, rec := newContext(e, http.MethodPost, `{"patient_id":555,"date":"2024-06-01","time":"09:00"}`, patient(101))
	c.SetParamNames("doctor_id")
	c.SetParamValues("1")
	if err := h.BookAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	items, _, _ := env.svc.ListAppointments(context.Background(), patient(101), AppointmentFilter{}, 10, 0)
	if len(items) != 1 {
		t.Errorf("expected the booking to belong to the caller, got %d", len(items))
	}
}

func TestHandler_BookAppointment_ValidationErrors(t *testing.T) {
	h, e, _ := newTestHandler(t)
	tests := []struct {
		name string
		body string
	}{
		{"missing date", `{"time":"09:00"}`},
		{"bad date", `{"date":"01-06-2024","time":"09:00"}`},
		{"bad time", `{"date":"2024-06-01","time":"9am"}`},
		{"time with seconds", `{"date":"2024-06-01","time":"09:00:45"}`},
		{"malformed json", `{"date":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newContext(e, http.MethodPost, tt.body, patient(101))
			c.SetParamNames("doctor_id")
			c.SetParamValues("1")
			if err := h.BookAppointment(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if body := decodeError(t, rec); body.Code != "validation_error" {
				t.Errorf("expected validation_error, got %q", body.Code)
			}
		})
	}
}

func TestHandler_BookAppointment_SecondsDoNotTakeASeat(t *testing.T) {
	h, e, env := newTestHandler(t)
	env.declare(t, 1, day, Clock(9, 0), Clock(10, 0), 1)

	c, rec := newContext(e, http.MethodPost, `{"date":"2024-06-01","time":"09:00:45"}`, patient(101))
	c.SetParamNames("doctor_id")
	c.SetParamValues("1")
	if err := h.BookAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := decodeError(t, rec); body.Code != "validation_error" {
		t.Errorf("expected validation_error, got %q", body.Code)
	}

	slots, err := env.svc.Slots.GenerateSlots(context.Background(), 1, day)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 2 || slots[0].Time != Clock(9, 0) {
		t.Errorf("expected 09:00 to stay free, got %+v", slots)
	}
}

func TestHandler_PatientHistory(t *testing.T) {
	h, e, env := newTestHandler(t)
	env.declare(t, 1, day, Clock(9, 0), Clock(10, 0), 1)
	conf := env.mustBook(t, 101, 1, day, Clock(9, 0))
	if _, err := env.svc.Lifecycle.FileTreatment(context.Background(), doctor(1), conf.AppointmentID, TreatmentInput{Diagnosis: "Flu"}); err != nil {
		t.Fatalf("FileTreatment: %v", err)
	}

	c, rec := newContext(e, http.MethodGet, "", patient(101))
	c.SetParamNames("id")
	c.SetParamValues("101")
	if err := h.PatientHistory(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data  []HistoryEntry `json:"data"`
		Total int            `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 || len(resp.Data) != 1 || resp.Data[0].Treatment == nil || resp.Data[0].Treatment.Diagnosis != "Flu" {
		t.Errorf("unexpected history %s", rec.Body.String())
	}

	c, rec = newContext(e, http.MethodGet, "", patient(102))
	c.SetParamNames("id")
	c.SetParamValues("101")
	if err := h.PatientHistory(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for another patient's history, got %d", rec.Code)
	}
}

func TestHandler_CancelAndComplete(t *testing.T) {
	h, e, env := newTestHandler(t)
	env.declare(t, 1, day, Clock(9, 0), Clock(10, 0), 2)
	id := itoa(env.mustBook(t, 101, 1, day, Clock(9, 0)).AppointmentID)

	c, rec := newContext(e, http.MethodPost, "", doctor(1))
	c.SetParamNames("id")
	c.SetParamValues(id)
	if err := h.CompleteAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	c, rec = newContext(e, http.MethodPost, "", patient(101))
	c.SetParamNames("id")
	c.SetParamValues(id)
	if err := h.CancelAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for cancel after complete, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != "invalid_transition" {
		t.Errorf("expected invalid_transition, got %q", body.Code)
	}
}

func TestHandler_GetAppointment_Forbidden(t *testing.T) {
	h, e, env := newTestHandler(t)
	env.declare(t, 1, day, Clock(9, 0), Clock(10, 0), 2)
	id := itoa(env.mustBook(t, 101, 1, day, Clock(9, 0)).AppointmentID)

	c, rec := newContext(e, http.MethodGet, "", patient(102))
	c.SetParamNames("id")
	c.SetParamValues(id)
	if err := h.GetAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestHandler_GetAppointment_InvalidID(t *testing.T) {
	h, e, _ := newTestHandler(t)
	c, rec := newContext(e, http.MethodGet, "", admin)
	c.SetParamNames("id")
	c.SetParamValues("abc")
	if err := h.GetAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_FileTreatment(t *testing.T) {
	h, e, env := newTestHandler(t)
	env.declare(t, 1, day, Clock(9, 0), Clock(10, 0), 2)
	id := env.mustBook(t, 101, 1, day, Clock(9, 0)).AppointmentID

	body := `{"diagnosis":"flu","prescription":"rest","follow_up_required":true,"follow_up_date":"2024-06-10"}`
	c, rec := newContext(e, http.MethodPut, body, doctor(1))
	c.SetParamNames("id")
	c.SetParamValues(itoa(id))
	if err := h.FileTreatment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	tr, err := env.svc.GetTreatment(context.Background(), patient(101), id)
	if err != nil {
		t.Fatalf("GetTreatment: %v", err)
	}
	if tr.FollowUpDate == nil || *tr.FollowUpDate != "2024-06-10" {
		t.Errorf("expected follow-up date stored, got %+v", tr)
	}

	c, rec = newContext(e, http.MethodPut, `{"notes":"no diagnosis"}`, doctor(1))
	c.SetParamNames("id")
	c.SetParamValues(itoa(id))
	if err := h.FileTreatment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without diagnosis, got %d", rec.Code)
	}
}

func TestHandler_DeclareAvailability(t *testing.T) {
	h, e, _ := newTestHandler(t)
	body := `{"date":"2024-06-01","start_time":"09:00","end_time":"10:00","seats_total":2}`

	c, rec := newContext(e, http.MethodPost, body, doctor(1))
	if err := h.DeclareAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	c, rec = newContext(e, http.MethodPost, body, doctor(1))
	if err := h.DeclareAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 on replace, got %d", rec.Code)
	}

	c, rec = newContext(e, http.MethodPost, `{"date":"2024-06-01","start_time":"09:00","end_time":"10:00","seats_total":0}`, doctor(1))
	if err := h.DeclareAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for zero seats, got %d", rec.Code)
	}

	c, rec = newContext(e, http.MethodPost, `{"date":"2024-06-02","start_time":"09:00","end_time":"10:00:30","seats_total":1}`, doctor(1))
	if err := h.DeclareAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an end time with seconds, got %d", rec.Code)
	}
}

func TestHandler_DeclareAvailability_UntilMidnight(t *testing.T) {
	h, e, env := newTestHandler(t)
	c, rec := newContext(e, http.MethodPost, `{"date":"2024-06-01","start_time":"23:00","end_time":"24:00","seats_total":1}`, doctor(1))
	if err := h.DeclareAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"end_time":"24:00"`) {
		t.Errorf("expected end_time 24:00 in %s", rec.Body.String())
	}
	slots, err := env.svc.Slots.GenerateSlots(context.Background(), 1, day)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 2 || slots[1].Time != Clock(23, 30) {
		t.Errorf("expected 23:00 and 23:30, got %+v", slots)
	}
}

func TestHandler_ConfirmPayment(t *testing.T) {
	h, e, env := newTestHandler(t)
	env.declare(t, 1, day, Clock(9, 0), Clock(10, 0), 1)
	conf := env.mustBook(t, 101, 1, day, Clock(9, 0))

	c, rec := newContext(e, http.MethodPost, `{"status":"Success"}`, patient(101))
	c.SetParamNames("id")
	c.SetParamValues(itoa(conf.PaymentID))
	if err := h.ConfirmPayment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	c, rec = newContext(e, http.MethodPost, `{"status":"Pending"}`, patient(101))
	c.SetParamNames("id")
	c.SetParamValues(itoa(conf.PaymentID))
	if err := h.ConfirmPayment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for Pending, got %d", rec.Code)
	}
}

func TestHandler_ListAppointments_Paginates(t *testing.T) {
	h, e, env := newTestHandler(t)
	env.declare(t, 1, day, Clock(9, 0), Clock(12, 0), 5)
	for i := int64(0); i < 3; i++ {
		env.mustBook(t, 101+i, 1, day, Clock(9, 0))
	}

	c, rec := newContext(e, http.MethodGet, "", doctor(1))
	c.QueryParams().Set("limit", "2")
	if err := h.ListAppointments(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Data    []Appointment `json:"data"`
		Total   int           `json:"total"`
		HasMore bool          `json:"has_more"`
		Next    string        `json:"next"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 3 || len(resp.Data) != 2 || !resp.HasMore || resp.Next == "" {
		t.Errorf("unexpected page %s", rec.Body.String())
	}
}

func TestHandler_InternalErrorIsHidden(t *testing.T) {
	h, e, env := newTestHandler(t)
	env.declare(t, 1, day, Clock(9, 0), Clock(10, 0), 1)
	env.db.failNext("payments.Create", errors.New("connection reset"))

	c, _ := newContext(e, http.MethodPost, `{"date":"2024-06-01","time":"09:00"}`, patient(101))
	c.SetParamNames("doctor_id")
	c.SetParamValues("1")
	err := h.BookAppointment(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 HTTPError, got %v", err)
	}
	if strings.Contains(he.Message.(string), "connection reset") {
		t.Error("expected internal error detail to be hidden")
	}
}

func TestHandler_RoutesEnforceRoles(t *testing.T) {
	h, e, env := newTestHandler(t)
	env.declare(t, 1, day, Clock(9, 0), Clock(10, 0), 2)
	id := itoa(env.mustBook(t, 101, 1, day, Clock(9, 0)).AppointmentID)

	api := e.Group("/api/v1", auth.DevAuthMiddleware(auth.JWTConfig{}))
	h.RegisterRoutes(api)

	tests := []struct {
		name   string
		method string
		path   string
		role   string
		actor  string
		want   int
	}{
		{"patient lists slots", http.MethodGet, "/api/v1/doctors/1/slots?date=2024-06-01", "patient", "101", http.StatusOK},
		{"patient cannot complete", http.MethodPost, "/api/v1/appointments/" + id + "/complete", "patient", "101", http.StatusForbidden},
		{"doctor cannot cancel", http.MethodPost, "/api/v1/appointments/" + id + "/cancel", "doctor", "1", http.StatusForbidden},
		{"doctor completes", http.MethodPost, "/api/v1/appointments/" + id + "/complete", "doctor", "1", http.StatusOK},
		{"admin reads", http.MethodGet, "/api/v1/appointments/" + id, "admin", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("X-Dev-Role", tt.role)
			if tt.actor != "" {
				req.Header.Set("X-Dev-Actor", tt.actor)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}
