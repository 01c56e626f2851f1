package scheduling

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hospital/booking/internal/platform/auth"
	"github.com/hospital/booking/internal/platform/notification"
)

// -- In-memory store --

// memDB backs the mock repositories. Transactions are serialized on txMu
// and rolled back by restoring a snapshot, so two bookings never observe
// each other's uncommitted rows.
type memDB struct {
	txMu sync.Mutex
	mu   sync.Mutex

	nextID     int64
	avail      map[int64]Availability
	appts      map[int64]Appointment
	treatments map[int64]Treatment
	payments   map[int64]Payment
	prices     map[int64]decimal.Decimal

	failures  map[string][]error
	rollbacks int
}

type memTxKey struct{}

func newMemDB() *memDB {
	return &memDB{
		avail:      make(map[int64]Availability),
		appts:      make(map[int64]Appointment),
		treatments: make(map[int64]Treatment),
		payments:   make(map[int64]Payment),
		prices:     make(map[int64]decimal.Decimal),
		failures:   make(map[string][]error),
	}
}

// failNext makes the next call of op return err. Calls queue up.
func (m *memDB) failNext(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], errs...)
}

func (m *memDB) injected(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.failures[op]
	if len(q) == 0 {
		return nil
	}
	m.failures[op] = q[1:]
	return q[0]
}

func (m *memDB) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memDB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.run(ctx, fn)
}

func (m *memDB) ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.run(ctx, fn)
}

func (m *memDB) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	nextID     int64
	avail      map[int64]Availability
	appts      map[int64]Appointment
	treatments map[int64]Treatment
	payments   map[int64]Payment
}

func (m *memDB) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memSnapshot{
		nextID:     m.nextID,
		avail:      copyMap(m.avail),
		appts:      copyMap(m.appts),
		treatments: copyMap(m.treatments),
		payments:   copyMap(m.payments),
	}
}

func (m *memDB) restore(s memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID = s.nextID
	m.avail, m.appts, m.treatments, m.payments = s.avail, s.appts, s.treatments, s.payments
	m.rollbacks++
}

func copyMap[V any](in map[int64]V) map[int64]V {
	out := make(map[int64]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *memDB) PriceForDoctor(_ context.Context, doctorID int64) (decimal.Decimal, error) {
	if err := m.injected("prices.PriceForDoctor"); err != nil {
		return decimal.Zero, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[doctorID]
	if !ok {
		return decimal.Zero, newError(KindNotFound, "doctor %d not found", doctorID)
	}
	return p, nil
}

func (m *memDB) appointmentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.appts)
}

func (m *memDB) paymentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payments)
}

func (m *memDB) repositories() Repositories {
	return Repositories{
		Availability: mockAvailabilityRepo{m},
		Appointments: mockAppointmentRepo{m},
		Treatments:   mockTreatmentRepo{m},
		Payments:     mockPaymentRepo{m},
	}
}

// -- Mock Repositories --

type mockAvailabilityRepo struct{ db *memDB }

func (r mockAvailabilityRepo) Create(_ context.Context, a *Availability) error {
	if err := r.db.injected("availability.Create"); err != nil {
		return err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.avail {
		if existing.DoctorID == a.DoctorID && existing.Date == a.Date {
			return newError(KindInvalidState, "availability for doctor %d on %s already exists", a.DoctorID, a.Date)
		}
	}
	a.ID = r.db.id()
	a.CreatedAt, a.UpdatedAt = time.Now(), time.Now()
	r.db.avail[a.ID] = *a
	return nil
}

func (r mockAvailabilityRepo) Update(_ context.Context, a *Availability) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.avail[a.ID]; !ok {
		return newError(KindNotFound, "availability not found")
	}
	a.UpdatedAt = time.Now()
	r.db.avail[a.ID] = *a
	return nil
}

func (r mockAvailabilityRepo) Delete(_ context.Context, id int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.avail[id]; !ok {
		return newError(KindNotFound, "availability not found")
	}
	delete(r.db.avail, id)
	return nil
}

func (r mockAvailabilityRepo) GetByID(_ context.Context, id int64) (*Availability, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.avail[id]
	if !ok {
		return nil, newError(KindNotFound, "availability not found")
	}
	return &a, nil
}

func (r mockAvailabilityRepo) GetForDate(_ context.Context, doctorID int64, date Date) (*Availability, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, a := range r.db.avail {
		if a.DoctorID == doctorID && a.Date == date {
			return &a, nil
		}
	}
	return nil, newError(KindNotFound, "availability not found")
}

func (r mockAvailabilityRepo) LockForDate(ctx context.Context, doctorID int64, date Date) (*Availability, error) {
	if err := r.db.injected("availability.LockForDate"); err != nil {
		return nil, err
	}
	return r.GetForDate(ctx, doctorID, date)
}

func (r mockAvailabilityRepo) ListByDoctor(_ context.Context, doctorID int64, limit, offset int) ([]*Availability, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var result []*Availability
	for _, a := range r.db.avail {
		if a.DoctorID == doctorID {
			a := a
			result = append(result, &a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date > result[j].Date })
	return page(result, limit, offset), len(result), nil
}

type mockAppointmentRepo struct{ db *memDB }

func (r mockAppointmentRepo) Create(_ context.Context, a *Appointment) error {
	if err := r.db.injected("appointments.Create"); err != nil {
		return err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a.ID = r.db.id()
	a.CreatedAt, a.UpdatedAt = time.Now(), time.Now()
	r.db.appts[a.ID] = *a
	return nil
}

func (r mockAppointmentRepo) GetByID(_ context.Context, id int64) (*Appointment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.appts[id]
	if !ok {
		return nil, newError(KindNotFound, "appointment not found")
	}
	return &a, nil
}

func (r mockAppointmentRepo) GetByIDForUpdate(ctx context.Context, id int64) (*Appointment, error) {
	return r.GetByID(ctx, id)
}

func (r mockAppointmentRepo) UpdateStatus(_ context.Context, id int64, status Status) error {
	if err := r.db.injected("appointments.UpdateStatus"); err != nil {
		return err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.appts[id]
	if !ok {
		return newError(KindNotFound, "appointment not found")
	}
	a.Status, a.UpdatedAt = status, time.Now()
	r.db.appts[id] = a
	return nil
}

func (r mockAppointmentRepo) CountBookedAt(_ context.Context, doctorID int64, date Date, t TimeOfDay) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n := 0
	for _, a := range r.db.appts {
		if a.DoctorID == doctorID && a.Date == date && a.Time == t && a.Status == StatusBooked {
			n++
		}
	}
	return n, nil
}

func (r mockAppointmentRepo) CountBookedByTime(_ context.Context, doctorID int64, date Date) (map[TimeOfDay]int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	counts := make(map[TimeOfDay]int)
	for _, a := range r.db.appts {
		if a.DoctorID == doctorID && a.Date == date && a.Status == StatusBooked {
			counts[a.Time]++
		}
	}
	return counts, nil
}

func (r mockAppointmentRepo) CountActiveOnDate(_ context.Context, doctorID int64, date Date) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n := 0
	for _, a := range r.db.appts {
		if a.DoctorID == doctorID && a.Date == date && a.Status != StatusCancelled {
			n++
		}
	}
	return n, nil
}

func (r mockAppointmentRepo) HasBookedOnDate(_ context.Context, patientID, doctorID int64, date Date) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, a := range r.db.appts {
		if a.PatientID == patientID && a.DoctorID == doctorID && a.Date == date && a.Status == StatusBooked {
			return true, nil
		}
	}
	return false, nil
}

func (r mockAppointmentRepo) List(_ context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var result []*Appointment
	for _, a := range r.db.appts {
		if (f.PatientID != 0 && a.PatientID != f.PatientID) ||
			(f.DoctorID != 0 && a.DoctorID != f.DoctorID) ||
			(f.Status != "" && a.Status != f.Status) ||
			(f.Date != "" && a.Date != f.Date) {
			continue
		}
		a := a
		result = append(result, &a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return page(result, limit, offset), len(result), nil
}

func (r mockAppointmentRepo) ListHistory(_ context.Context, patientID, doctorID int64, limit, offset int) ([]*HistoryEntry, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var result []*HistoryEntry
	for _, a := range r.db.appts {
		if a.PatientID != patientID || a.Status != StatusCompleted || (doctorID != 0 && a.DoctorID != doctorID) {
			continue
		}
		e := &HistoryEntry{AppointmentID: a.ID, Date: a.Date, Time: a.Time, DoctorID: a.DoctorID}
		if t, ok := r.db.treatments[a.ID]; ok {
			e.Treatment = &t
		}
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Date != result[j].Date {
			return result[i].Date > result[j].Date
		}
		return result[i].Time > result[j].Time
	})
	return page(result, limit, offset), len(result), nil
}

type mockTreatmentRepo struct{ db *memDB }

func (r mockTreatmentRepo) Create(_ context.Context, t *Treatment) error {
	if err := r.db.injected("treatments.Create"); err != nil {
		return err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t.ID = r.db.id()
	t.CreatedAt, t.UpdatedAt = time.Now(), time.Now()
	r.db.treatments[t.AppointmentID] = *t
	return nil
}

func (r mockTreatmentRepo) Update(_ context.Context, t *Treatment) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.treatments[t.AppointmentID]; !ok {
		return newError(KindNotFound, "treatment not found")
	}
	t.UpdatedAt = time.Now()
	r.db.treatments[t.AppointmentID] = *t
	return nil
}

func (r mockTreatmentRepo) GetByAppointment(_ context.Context, appointmentID int64) (*Treatment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.treatments[appointmentID]
	if !ok {
		return nil, newError(KindNotFound, "treatment not found")
	}
	return &t, nil
}

type mockPaymentRepo struct{ db *memDB }

func (r mockPaymentRepo) Create(_ context.Context, p *Payment) error {
	if err := r.db.injected("payments.Create"); err != nil {
		return err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p.ID = r.db.id()
	p.CreatedAt, p.UpdatedAt = time.Now(), time.Now()
	r.db.payments[p.ID] = *p
	return nil
}

func (r mockPaymentRepo) GetByID(_ context.Context, id int64) (*Payment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.payments[id]
	if !ok {
		return nil, newError(KindNotFound, "payment not found")
	}
	return &p, nil
}

func (r mockPaymentRepo) GetByIDForUpdate(ctx context.Context, id int64) (*Payment, error) {
	return r.GetByID(ctx, id)
}

func (r mockPaymentRepo) GetByAppointment(_ context.Context, appointmentID int64) (*Payment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, p := range r.db.payments {
		if p.AppointmentID == appointmentID {
			return &p, nil
		}
	}
	return nil, newError(KindNotFound, "payment not found")
}

func (r mockPaymentRepo) UpdateStatus(_ context.Context, id int64, status PaymentStatus) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.payments[id]
	if !ok {
		return newError(KindNotFound, "payment not found")
	}
	p.Status, p.UpdatedAt = status, time.Now()
	r.db.payments[id] = p
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

// -- Event recorder --

type eventLog struct {
	mu     sync.Mutex
	events []notification.Event
}

func (l *eventLog) Emit(e notification.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []notification.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]notification.Event(nil), l.events...)
}

// -- Cache recorder --

type mockSlotCache struct {
	mu          sync.Mutex
	entries     map[string][]Slot
	gens        map[string]int64
	invalidated []string
	err         error
}

func newMockSlotCache() *mockSlotCache {
	return &mockSlotCache{entries: make(map[string][]Slot), gens: make(map[string]int64)}
}

func (c *mockSlotCache) Get(_ context.Context, doctorID int64, date Date) ([]Slot, int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, 0, false, c.err
	}
	key := slotKey(doctorID, date)
	s, ok := c.entries[key]
	return s, c.gens[key], ok, nil
}

func (c *mockSlotCache) Set(_ context.Context, doctorID int64, date Date, gen int64, slots []Slot) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	key := slotKey(doctorID, date)
	if c.gens[key] != gen {
		return false, nil
	}
	c.entries[key] = slots
	return true, nil
}

func (c *mockSlotCache) Invalidate(_ context.Context, doctorID int64, date Date) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := slotKey(doctorID, date)
	c.invalidated = append(c.invalidated, key)
	if c.err != nil {
		return c.err
	}
	c.gens[key]++
	delete(c.entries, key)
	return nil
}

// -- Test environment --

var (
	admin = auth.Actor{UserID: "admin", Role: auth.RoleAdmin}
	day   = Date("2024-06-01")
)

func doctor(id int64) auth.Actor  { return auth.Actor{UserID: "doc", ID: id, Role: auth.RoleDoctor} }
func patient(id int64) auth.Actor { return auth.Actor{UserID: "pat", ID: id, Role: auth.RolePatient} }

type testEnv struct {
	db     *memDB
	events *eventLog
	cache  *mockSlotCache
	svc    *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	m := newMemDB()
	m.prices[1] = decimal.RequireFromString("300.00")
	m.prices[2] = decimal.RequireFromString("450.50")
	env := &testEnv{db: m, events: &eventLog{}, cache: newMockSlotCache()}
	env.svc = NewService(m, m.repositories(), m, Options{
		SlotMinutes: 30,
		MaxAttempts: 3,
		Cache:       env.cache,
		Events:      env.events,
		Logger:      zerolog.Nop(),
	})
	return env
}

func (env *testEnv) declare(t *testing.T, doctorID int64, date Date, start, end TimeOfDay, seats int) *Availability {
	t.Helper()
	a, _, err := env.svc.Availability.Declare(context.Background(), admin, AvailabilityInput{
		DoctorID: doctorID, Date: date, StartTime: start, EndTime: end, SeatsTotal: seats,
	})
	if err != nil {
		t.Fatalf("declare availability: %v", err)
	}
	return a
}

func (env *testEnv) book(patientID, doctorID int64, date Date, at TimeOfDay) (*BookingConfirmation, error) {
	return env.svc.Booking.Book(context.Background(), BookingRequest{
		PatientID: patientID, DoctorID: doctorID, Date: date, Time: at,
	})
}

func (env *testEnv) mustBook(t *testing.T, patientID, doctorID int64, date Date, at TimeOfDay) *BookingConfirmation {
	t.Helper()
	conf, err := env.book(patientID, doctorID, date, at)
	if err != nil {
		t.Fatalf("book patient %d at %s: %v", patientID, at, err)
	}
	return conf
}
