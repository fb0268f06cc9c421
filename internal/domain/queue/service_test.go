package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hospq/queue/internal/platform/kafka"
)

// -- Mock Store --

type memPatient struct {
	name  string
	phone string
}

// memStore serializes transactions on txMu, standing in for row locks, and
// restores its state when fn fails.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	tickets  map[int64]*Ticket
	visits   map[string]*Visit
	patients map[int64]memPatient
	depts    map[int64]*Department
	counters map[string]int
	history  []*HistoryEntry
	notifs   []*Notification
	nextID   int64

	failHistory bool
}

type memSaved struct {
	tickets  map[int64]Ticket
	counters map[string]int
	history  int
	notifs   int
}

func newMemStore() *memStore {
	return &memStore{
		tickets:  make(map[int64]*Ticket),
		visits:   make(map[string]*Visit),
		patients: make(map[int64]memPatient),
		depts:    make(map[int64]*Department),
		counters: make(map[string]int),
	}
}

func (s *memStore) Tickets() TicketRepository             { return memTickets{s} }
func (s *memStore) History() HistoryRepository            { return memHistory{s} }
func (s *memStore) Notifications() NotificationRepository { return memNotifs{s} }
func (s *memStore) Reference() ReferenceRepository        { return memRefs{s} }

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	saved := memSaved{
		tickets:  make(map[int64]Ticket, len(s.tickets)),
		counters: make(map[string]int, len(s.counters)),
		history:  len(s.history),
		notifs:   len(s.notifs),
	}
	for id, t := range s.tickets {
		saved.tickets[id] = *t
	}
	for k, v := range s.counters {
		saved.counters[k] = v
	}
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.tickets = make(map[int64]*Ticket, len(saved.tickets))
		for id, t := range saved.tickets {
			t := t
			s.tickets[id] = &t
		}
		s.counters = saved.counters
		s.history = s.history[:saved.history]
		s.notifs = s.notifs[:saved.notifs]
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) addDepartment(d *Department) {
	s.depts[d.ID] = d
}

func (s *memStore) addVisit(id int64, vn, name, phone string) {
	s.patients[id] = memPatient{name: name, phone: phone}
	s.visits[vn] = &Visit{ID: id, Number: vn, PatientID: id}
}

// copyLocked returns a detached copy with the joined visit fields filled.
func (s *memStore) copyLocked(t *Ticket) *Ticket {
	c := *t
	for _, v := range s.visits {
		if v.ID == t.VisitID {
			c.VisitNumber = v.Number
			c.PatientName = s.patients[v.PatientID].name
		}
	}
	return &c
}

func (s *memStore) allLocked() []*Ticket {
	out := make([]*Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		out = append(out, s.copyLocked(t))
	}
	return out
}

func (s *memStore) ticket(id int64) *Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked(s.tickets[id])
}

func (s *memStore) historyFor(id int64) []*HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*HistoryEntry
	for _, e := range s.history {
		if e.TicketID == id {
			out = append(out, e)
		}
	}
	return out
}

type memTickets struct{ s *memStore }

func (m memTickets) GetByID(_ context.Context, id int64) (*Ticket, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	t, ok := m.s.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	return m.s.copyLocked(t), nil
}

func (m memTickets) GetForUpdate(ctx context.Context, id int64) (*Ticket, error) {
	return m.GetByID(ctx, id)
}

func (m memTickets) GetByVisitNumber(_ context.Context, vn string) (*Ticket, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	v, ok := m.s.visits[vn]
	if !ok {
		return nil, ErrTicketNotFound
	}
	for _, t := range m.s.tickets {
		if t.VisitID == v.ID {
			return m.s.copyLocked(t), nil
		}
	}
	return nil, ErrTicketNotFound
}

func (m memTickets) ExistsForVisit(_ context.Context, visitID int64) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, t := range m.s.tickets {
		if t.VisitID == visitID {
			return true, nil
		}
	}
	return false, nil
}

func (m memTickets) Create(_ context.Context, t *Ticket) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, o := range m.s.tickets {
		if o.VisitID == t.VisitID {
			return ErrDuplicateTicket
		}
	}
	m.s.nextID++
	t.ID = m.s.nextID
	c := *t
	m.s.tickets[t.ID] = &c
	return nil
}

func (m memTickets) Update(_ context.Context, t *Ticket) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.tickets[t.ID]; !ok {
		return ErrTicketNotFound
	}
	c := *t
	m.s.tickets[t.ID] = &c
	return nil
}

func (m memTickets) NextSequence(_ context.Context, deptID int64, day time.Time) (int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	key := fmt.Sprintf("%d/%s", deptID, day.Format("2006-01-02"))
	m.s.counters[key]++
	return m.s.counters[key], nil
}

func (m memTickets) CountAhead(_ context.Context, t *Ticket, from, to time.Time) (int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var sameDay []*Ticket
	for _, c := range m.s.allLocked() {
		if !c.IssuedTime.Before(from) && c.IssuedTime.Before(to) {
			sameDay = append(sameDay, c)
		}
	}
	return Position(t, sameDay), nil
}

func (m memTickets) CurrentlyServed(_ context.Context, deptID int64) (string, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return CurrentlyServed(m.s.allLocked(), deptID, ""), nil
}

func (m memTickets) ListByDepartment(_ context.Context, deptID int64, from, to time.Time) ([]*Ticket, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*Ticket
	for _, t := range m.s.allLocked() {
		if t.DepartmentID == deptID && !t.IssuedTime.Before(from) && t.IssuedTime.Before(to) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memHistory struct{ s *memStore }

func (m memHistory) Append(_ context.Context, e *HistoryEntry) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.failHistory {
		return errors.New("history unavailable")
	}
	e.ID = int64(len(m.s.history) + 1)
	c := *e
	m.s.history = append(m.s.history, &c)
	return nil
}

func (m memHistory) ListByTicket(_ context.Context, ticketID int64, limit, offset int) ([]*HistoryEntry, int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var all []*HistoryEntry
	for _, e := range m.s.history {
		if e.TicketID == ticketID {
			all = append(all, e)
		}
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

type memNotifs struct{ s *memStore }

func (m memNotifs) Create(_ context.Context, n *Notification) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	n.ID = int64(len(m.s.notifs) + 1)
	c := *n
	m.s.notifs = append(m.s.notifs, &c)
	return nil
}

type memRefs struct{ s *memStore }

func (m memRefs) GetVisitByNumber(_ context.Context, vn string) (*Visit, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	v, ok := m.s.visits[vn]
	if !ok {
		return nil, ErrVisitNotFound
	}
	c := *v
	return &c, nil
}

func (m memRefs) GetDepartment(_ context.Context, id int64) (*Department, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	d, ok := m.s.depts[id]
	if !ok {
		return nil, ErrDepartmentNotFound
	}
	c := *d
	return &c, nil
}

func (m memRefs) GetPatientContact(_ context.Context, ticketID int64) (*PatientContact, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	t, ok := m.s.tickets[ticketID]
	if !ok {
		return nil, ErrTicketNotFound
	}
	for _, v := range m.s.visits {
		if v.ID == t.VisitID {
			p := m.s.patients[v.PatientID]
			return &PatientContact{Name: p.name, Phone: p.phone, TicketNumber: t.Number}, nil
		}
	}
	return nil, ErrVisitNotFound
}

// -- Collaborators --

type staffEntry struct {
	dept int64
	name string
}

type fakeStaff map[int64]staffEntry

func (f fakeStaff) DepartmentOf(_ context.Context, staffID int64) (int64, string, bool, error) {
	e, ok := f[staffID]
	if !ok || e.dept == 0 {
		return 0, "", false, nil
	}
	return e.dept, e.name, true, nil
}

type published struct {
	visit string
	snap  *Snapshot
}

type recordingHub struct {
	mu   sync.Mutex
	msgs []published
}

func (h *recordingHub) Publish(_ context.Context, visit string, data any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, published{visit: visit, snap: data.(*Snapshot)})
	return nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []kafka.TransitionEvent
}

func (r *recordingEvents) Emit(_ context.Context, ev kafka.TransitionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

const (
	staffMED   int64 = 10
	staffSUR   int64 = 20
	staffNoDep int64 = 30
)

type fixture struct {
	svc    *Service
	store  *memStore
	hub    *recordingHub
	events *recordingEvents
	clock  *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	store.addDepartment(&Department{ID: 1, Code: "MED", Name: "Medicine", Building: "Building A", Floor: "Floor 2", Room: "Room 201"})
	store.addDepartment(&Department{ID: 2, Code: "SUR", Name: "Surgery"})
	for i := 1; i <= 9; i++ {
		store.addVisit(int64(i), fmt.Sprintf("VN%03d", i), fmt.Sprintf("Patient %d", i), fmt.Sprintf("08100000%02d", i))
	}

	f := &fixture{
		store:  store,
		hub:    &recordingHub{},
		events: &recordingEvents{},
		clock:  &fakeClock{t: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)},
	}
	f.svc = NewService(store, fakeStaff{
		staffMED:   {dept: 1, name: "Nurse Joy"},
		staffSUR:   {dept: 2, name: "Nurse Kim"},
		staffNoDep: {dept: 0, name: "Clerk Ann"},
	}, Options{
		Broadcaster: f.hub,
		Events:      f.events,
		Location:    time.UTC,
		Logger:      zerolog.Nop(),
	})
	f.svc.now = f.clock.Now
	return f
}

func (f *fixture) issue(t *testing.T, vn string, staffID int64) *Ticket {
	t.Helper()
	tk, err := f.svc.Issue(context.Background(), vn, staffID)
	if err != nil {
		t.Fatalf("issue %s: %v", vn, err)
	}
	return tk
}

func (f *fixture) transition(t *testing.T, id int64, a Action) *TransitionResult {
	t.Helper()
	res, err := f.svc.Transition(context.Background(), id, a, "Dr. Lee")
	if err != nil {
		t.Fatalf("%s ticket %d: %v", a, id, err)
	}
	return res
}

// -- Issuance --

func TestIssue_FirstTicket(t *testing.T) {
	f := newFixture(t)
	tk := f.issue(t, "VN001", staffMED)

	if tk.Number != "MED001" {
		t.Errorf("expected MED001, got %s", tk.Number)
	}
	got := f.store.ticket(tk.ID)
	if got.Status != StatusWaiting || got.PriorityScore != 0 || got.IsSkipped {
		t.Errorf("unexpected initial state: %+v", got)
	}
	if got.Token.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("expected a random token")
	}

	h := f.store.historyFor(tk.ID)
	if len(h) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(h))
	}
	if h[0].OldStatus != nil || h[0].NewStatus != StatusWaiting || h[0].Action != ActionCreate {
		t.Errorf("unexpected creation entry: %+v", h[0])
	}
	if h[0].ChangedBy != "Nurse Joy" {
		t.Errorf("expected the issuing staff member on the creation entry, got %q", h[0].ChangedBy)
	}
	if len(f.events.events) != 1 || f.events.events[0].Event != "queue.create" {
		t.Errorf("expected one queue.create event, got %+v", f.events.events)
	}
}

func TestIssue_SequentialNumbers(t *testing.T) {
	f := newFixture(t)
	a := f.issue(t, "VN001", staffMED)
	b := f.issue(t, "VN002", staffMED)
	c := f.issue(t, "VN003", staffSUR)

	if a.Number != "MED001" || b.Number != "MED002" {
		t.Errorf("expected MED001, MED002, got %s, %s", a.Number, b.Number)
	}
	if c.Number != "SUR001" {
		t.Errorf("expected departments to number independently, got %s", c.Number)
	}
}

func TestIssue_NewDayRestartsNumbering(t *testing.T) {
	f := newFixture(t)
	f.issue(t, "VN001", staffMED)
	f.clock.Set(time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC))
	tk := f.issue(t, "VN002", staffMED)
	if tk.Number != "MED001" {
		t.Errorf("expected numbering to restart on a new day, got %s", tk.Number)
	}
}

func TestIssue_ConcurrentSameDepartment(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	numbers := make([]string, 5)
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tk, err := f.svc.Issue(context.Background(), fmt.Sprintf("VN%03d", i+1), staffSUR)
			errs[i] = err
			if tk != nil {
				numbers[i] = tk.Number
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("issue %d: %v", i, err)
		}
	}
	sort.Strings(numbers)
	want := []string{"SUR001", "SUR002", "SUR003", "SUR004", "SUR005"}
	for i := range want {
		if numbers[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, numbers)
		}
	}
}

func TestIssue_DuplicateVisit(t *testing.T) {
	f := newFixture(t)
	f.issue(t, "VN001", staffMED)

	_, err := f.svc.Issue(context.Background(), "VN001", staffMED)
	if !errors.Is(err, ErrDuplicateTicket) {
		t.Fatalf("expected ErrDuplicateTicket, got %v", err)
	}
	next := f.issue(t, "VN002", staffMED)
	if next.Number != "MED002" {
		t.Errorf("expected rejected issuance to leave no gap, got %s", next.Number)
	}
}

func TestIssue_UnknownVisit(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Issue(context.Background(), "VN999", staffMED)
	if !errors.Is(err, ErrVisitNotFound) {
		t.Fatalf("expected ErrVisitNotFound, got %v", err)
	}
}

func TestIssue_StaffWithoutDepartment(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Issue(context.Background(), "VN001", staffNoDep)
	if !errors.Is(err, ErrStaffNotFound) {
		t.Fatalf("expected ErrStaffNotFound, got %v", err)
	}
}

func TestIssue_FailedHistoryRollsBack(t *testing.T) {
	f := newFixture(t)
	f.store.failHistory = true
	if _, err := f.svc.Issue(context.Background(), "VN001", staffMED); err == nil {
		t.Fatal("expected error")
	}
	f.store.failHistory = false

	tk := f.issue(t, "VN001", staffMED)
	if tk.Number != "MED001" {
		t.Errorf("expected counter rollback, got %s", tk.Number)
	}
}

// -- Transitions --

func TestTransition_CallRecordsNotification(t *testing.T) {
	f := newFixture(t)
	tk := f.issue(t, "VN001", staffMED)

	res := f.transition(t, tk.ID, ActionCall)

	if res.Ticket.Status != StatusCalled || res.Ticket.CalledTime == nil {
		t.Errorf("expected called with calledTime, got %+v", res.Ticket)
	}
	if len(f.store.notifs) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(f.store.notifs))
	}
	n := f.store.notifs[0]
	if n.Type != NotificationCalled || !n.IsSent {
		t.Errorf("unexpected notification: %+v", n)
	}
	h := f.store.historyFor(tk.ID)
	if len(h) != 2 || *h[1].OldStatus != StatusWaiting || h[1].NewStatus != StatusCalled || h[1].ChangedBy != "Dr. Lee" {
		t.Errorf("unexpected history: %+v", h)
	}
}

func TestTransition_SkipReturnsContact(t *testing.T) {
	f := newFixture(t)
	tk := f.issue(t, "VN003", staffMED)
	f.transition(t, tk.ID, ActionCall)

	res := f.transition(t, tk.ID, ActionSkip)

	if res.Contact == nil || res.Contact.Name != "Patient 3" || res.Contact.Phone != "0810000003" || res.Contact.TicketNumber != "MED001" {
		t.Errorf("unexpected contact: %+v", res.Contact)
	}
	got := f.store.ticket(tk.ID)
	if got.Status != StatusWaiting || !got.IsSkipped || got.PriorityScore != SkipBoost || got.SkippedTime == nil {
		t.Errorf("unexpected skipped state: %+v", got)
	}
	last := f.store.notifs[len(f.store.notifs)-1]
	if last.Type != NotificationSkipped || last.IsSent {
		t.Errorf("expected pending queue_skipped notification, got %+v", last)
	}
}

func TestTransition_ScoreProperties(t *testing.T) {
	f := newFixture(t)
	tk := f.issue(t, "VN001", staffMED)

	f.transition(t, tk.ID, ActionSkip)
	if s := f.store.ticket(tk.ID).PriorityScore; s != 50 {
		t.Fatalf("expected 50 after skip, got %d", s)
	}
	f.transition(t, tk.ID, ActionRecall)
	got := f.store.ticket(tk.ID)
	if got.PriorityScore != 150 || got.IsSkipped || got.Status != StatusWaiting {
		t.Fatalf("expected 150, unskipped, waiting after recall, got %+v", got)
	}
	f.transition(t, tk.ID, ActionSkip)
	if s := f.store.ticket(tk.ID).PriorityScore; s != 200 {
		t.Fatalf("expected 200 after second skip, got %d", s)
	}
}

func TestTransition_RecallNeverSkipped(t *testing.T) {
	f := newFixture(t)
	tk := f.issue(t, "VN001", staffMED)

	_, err := f.svc.Transition(context.Background(), tk.ID, ActionRecall, "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if got := f.store.ticket(tk.ID); got.PriorityScore != 0 {
		t.Errorf("expected score unchanged, got %d", got.PriorityScore)
	}
	if len(f.store.historyFor(tk.ID)) != 1 {
		t.Error("expected no history for a rejected transition")
	}
}

func TestTransition_CompletedIsTerminal(t *testing.T) {
	f := newFixture(t)
	tk := f.issue(t, "VN001", staffMED)
	f.transition(t, tk.ID, ActionCall)
	f.transition(t, tk.ID, ActionComplete)

	for _, a := range []Action{ActionCall, ActionArrived, ActionSkip, ActionRecall, ActionComplete} {
		_, err := f.svc.Transition(context.Background(), tk.ID, a, "")
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s on completed: expected ErrInvalidTransition, got %v", a, err)
		}
	}
	got := f.store.ticket(tk.ID)
	if got.Status != StatusCompleted || got.CompletedTime == nil {
		t.Errorf("expected completed ticket to stay completed, got %+v", got)
	}
	if n := len(f.store.historyFor(tk.ID)); n != 3 {
		t.Errorf("expected 3 history entries, got %d", n)
	}
}

func TestTransition_UnknownTicket(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Transition(context.Background(), 404, ActionCall, "")
	if !errors.Is(err, ErrTicketNotFound) {
		t.Fatalf("expected ErrTicketNotFound, got %v", err)
	}
}

func TestTransition_CreateRejected(t *testing.T) {
	f := newFixture(t)
	tk := f.issue(t, "VN001", staffMED)
	_, err := f.svc.Transition(context.Background(), tk.ID, ActionCreate, "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTransition_FailedHistoryRollsBack(t *testing.T) {
	f := newFixture(t)
	tk := f.issue(t, "VN001", staffMED)
	f.store.failHistory = true

	if _, err := f.svc.Transition(context.Background(), tk.ID, ActionCall, ""); err == nil {
		t.Fatal("expected error")
	}
	if got := f.store.ticket(tk.ID); got.Status != StatusWaiting || got.CalledTime != nil {
		t.Errorf("expected ticket untouched after rollback, got %+v", got)
	}
	if len(f.store.notifs) != 0 {
		t.Error("expected notification rolled back")
	}
	if len(f.hub.msgs) != 0 {
		t.Error("expected nothing published for a failed transition")
	}
}

func TestTransition_CancelledCallerStillCommits(t *testing.T) {
	f := newFixture(t)
	tk := f.issue(t, "VN001", staffMED)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.svc.Transition(ctx, tk.ID, ActionCall, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.store.ticket(tk.ID); got.Status != StatusCalled {
		t.Errorf("expected called, got %s", got.Status)
	}
}

func TestTransition_PublishesAndEmits(t *testing.T) {
	f := newFixture(t)
	tk := f.issue(t, "VN001", staffMED)
	f.transition(t, tk.ID, ActionCall)

	if len(f.hub.msgs) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(f.hub.msgs))
	}
	msg := f.hub.msgs[0]
	if msg.visit != "VN001" || msg.snap.Status != StatusCalled || msg.snap.CurrentlyServedTicket != "MED001" {
		t.Errorf("unexpected publish: %s %+v", msg.visit, msg.snap)
	}

	ev := f.events.events[len(f.events.events)-1]
	if ev.Event != "queue.call" || ev.OldStatus == nil || *ev.OldStatus != "waiting" || ev.NewStatus != "called" || ev.VisitNumber != "VN001" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

// -- Snapshots and ordering through the service --

func TestScenario_SkipMovesTicketToFront(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	var ids []int64
	for i := 0; i < 3; i++ {
		f.clock.Set(base.Add(time.Duration(i*5) * time.Minute))
		ids = append(ids, f.issue(t, fmt.Sprintf("VN%03d", i+1), staffMED).ID)
	}

	f.transition(t, ids[0], ActionSkip)

	snap, err := f.svc.SnapshotByVisit(context.Background(), "VN001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.PriorityScore != 50 || snap.Position != 0 || !snap.IsSkipped {
		t.Errorf("expected skipped ticket at position 0 with score 50, got %+v", snap)
	}

	entries, err := f.svc.DepartmentQueue(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 3 || entries[0].TicketID != ids[0] {
		t.Fatalf("expected skipped ticket first in department order, got %+v", entries)
	}
	if entries[0].Position != nil {
		t.Error("expected no position for a skipped entry")
	}
	if entries[1].Position == nil || *entries[1].Position != 0 || *entries[2].Position != 1 {
		t.Errorf("unexpected positions: %v %v", entries[1].Position, entries[2].Position)
	}
}

func TestSnapshot_Fields(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(time.Date(2026, 3, 2, 9, 29, 59, 0, time.UTC))
	first := f.issue(t, "VN001", staffMED)
	f.issue(t, "VN002", staffMED)

	snap, err := f.svc.SnapshotByVisit(context.Background(), "VN002")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.TicketNumber != "MED002" || snap.PatientName != "Patient 2" || snap.Department != "Medicine" {
		t.Errorf("unexpected identity fields: %+v", snap)
	}
	if snap.DepartmentLocation != "Building A Floor 2 Room 201" {
		t.Errorf("unexpected location %q", snap.DepartmentLocation)
	}
	if snap.Position != 1 || snap.EstimatedWait != "10-14 min" {
		t.Errorf("expected position 1 and 10-14 min, got %d %q", snap.Position, snap.EstimatedWait)
	}
	if snap.CurrentlyServedTicket != "MED002" {
		t.Errorf("expected fallback to own number, got %s", snap.CurrentlyServedTicket)
	}
	if snap.IssuedTimeDisplay != "09:30" {
		t.Errorf("expected 09:30, got %s", snap.IssuedTimeDisplay)
	}

	f.transition(t, first.ID, ActionCall)
	snap, _ = f.svc.SnapshotByVisit(context.Background(), "VN002")
	if snap.CurrentlyServedTicket != "MED001" || snap.Position != 0 {
		t.Errorf("expected MED001 served and position 0, got %+v", snap)
	}
}

func TestSnapshot_PositionScopedToServiceDay(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC))
	leftover := f.issue(t, "VN001", staffMED)
	f.transition(t, leftover.ID, ActionSkip)
	f.transition(t, leftover.ID, ActionRecall)

	f.clock.Set(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	today := f.issue(t, "VN002", staffMED)

	snap, err := f.svc.SnapshotByVisit(context.Background(), "VN002")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Position != 0 {
		t.Errorf("expected yesterday's ticket not to count ahead, got position %d", snap.Position)
	}

	entries, err := f.svc.DepartmentQueue(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].TicketID != today.ID || *entries[0].Position != snap.Position {
		t.Errorf("expected board and snapshot to agree, got %+v", entries)
	}

	old, _ := f.svc.SnapshotByVisit(context.Background(), "VN001")
	if old.Position != 0 {
		t.Errorf("expected today's ticket not to count ahead of yesterday's, got %d", old.Position)
	}
}

func TestSnapshot_UnknownVisit(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.SnapshotByVisit(context.Background(), "VN404"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestHistory_Paginates(t *testing.T) {
	f := newFixture(t)
	tk := f.issue(t, "VN001", staffMED)
	f.transition(t, tk.ID, ActionCall)
	f.transition(t, tk.ID, ActionArrived)
	f.transition(t, tk.ID, ActionComplete)

	items, total, err := f.svc.History(context.Background(), tk.ID, 2, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 4 || len(items) != 2 {
		t.Fatalf("expected 2 of 4, got %d of %d", len(items), total)
	}
	if items[0].Action != ActionArrived || items[1].Action != ActionComplete {
		t.Errorf("unexpected page: %+v %+v", items[0], items[1])
	}

	if _, _, err := f.svc.History(context.Background(), 999, 10, 0); !errors.Is(err, ErrTicketNotFound) {
		t.Errorf("expected ErrTicketNotFound, got %v", err)
	}
}
