package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hospq/queue/internal/platform/kafka"
)

// Broadcaster pushes a snapshot to everyone watching a visit.
type Broadcaster interface {
	Publish(ctx context.Context, visitNumber string, data any) error
}

// EventEmitter receives one event per committed transition.
type EventEmitter interface {
	Emit(ctx context.Context, ev kafka.TransitionEvent)
}

type Options struct {
	Broadcaster Broadcaster
	Events      EventEmitter
	Location    *time.Location
	// Timeout bounds a write once it is detached from the caller.
	Timeout time.Duration
	Logger  zerolog.Logger
}

type Service struct {
	store   Store
	staff   StaffLookup
	hub     Broadcaster
	events  EventEmitter
	loc     *time.Location
	timeout time.Duration
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(store Store, staff StaffLookup, opts Options) *Service {
	s := &Service{
		store:   store,
		staff:   staff,
		hub:     opts.Broadcaster,
		events:  opts.Events,
		loc:     opts.Location,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		now:     time.Now,
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.timeout <= 0 {
		s.timeout = 10 * time.Second
	}
	return s
}

// TransitionResult carries what a staff screen needs after an action.
type TransitionResult struct {
	Ticket   *Ticket
	Snapshot *Snapshot
	// Contact is set for skips.
	Contact *PatientContact
}

// detach keeps a write running when the caller goes away.
func (s *Service) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
}

// Transition locks the ticket, applies the action and records history and
// notifications in one transaction. After commit the fresh snapshot is
// pushed to the visit's subscribers and the event is emitted.
func (s *Service) Transition(ctx context.Context, ticketID int64, action Action, changedBy string) (*TransitionResult, error) {
	if action == ActionCreate {
		return nil, fmt.Errorf("%w: tickets are created through issuance", ErrInvalidTransition)
	}

	ctx, cancel := s.detach(ctx)
	defer cancel()

	var (
		t       *Ticket
		old     Status
		contact *PatientContact
		now     = s.now()
	)
	err := s.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		t, err = s.store.Tickets().GetForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		old, err = Apply(t, action, now)
		if err != nil {
			return err
		}
		if err := s.store.Tickets().Update(ctx, t); err != nil {
			return fmt.Errorf("update ticket: %w", err)
		}
		if err := s.appendHistory(ctx, t, &old, action, changedBy, now); err != nil {
			return err
		}

		switch action {
		case ActionCall:
			return s.notify(ctx, t, NotificationCalled, fmt.Sprintf("Queue %s is now being called", t.Number), true, now)
		case ActionSkip:
			if err := s.notify(ctx, t, NotificationSkipped, fmt.Sprintf("Queue %s was skipped and needs staff follow-up", t.Number), false, now); err != nil {
				return err
			}
			contact, err = s.store.Reference().GetPatientContact(ctx, t.ID)
			if err != nil {
				return fmt.Errorf("patient contact: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("ticket_id", t.ID).
		Str("ticket_number", t.Number).
		Str("action", string(action)).
		Str("old_status", string(old)).
		Str("new_status", string(t.Status)).
		Int("priority_score", t.PriorityScore).
		Msg("queue ticket transitioned")

	res := &TransitionResult{Ticket: t, Contact: contact}
	snap, err := s.snapshot(ctx, t)
	if err != nil {
		// The transition is committed; only the live update is lost.
		s.logger.Error().Err(err).Int64("ticket_id", t.ID).Msg("build snapshot after transition")
	} else {
		res.Snapshot = snap
		s.publish(ctx, snap)
	}
	s.emit(ctx, t, &old, action, changedBy, now)
	return res, nil
}

func (s *Service) appendHistory(ctx context.Context, t *Ticket, old *Status, action Action, changedBy string, at time.Time) error {
	e := &HistoryEntry{
		TicketID:  t.ID,
		OldStatus: old,
		NewStatus: t.Status,
		Action:    action,
		ChangedBy: changedBy,
		ChangedAt: at,
	}
	if err := s.store.History().Append(ctx, e); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (s *Service) notify(ctx context.Context, t *Ticket, typ, msg string, sent bool, at time.Time) error {
	n := &Notification{TicketID: t.ID, Type: typ, Message: msg, IsSent: sent, SentAt: at}
	if err := s.store.Notifications().Create(ctx, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, snap *Snapshot) {
	if s.hub == nil {
		return
	}
	if err := s.hub.Publish(ctx, snap.VisitNumber, snap); err != nil {
		s.logger.Warn().Err(err).Str("visit_number", snap.VisitNumber).Msg("publish queue update")
	}
}

func (s *Service) emit(ctx context.Context, t *Ticket, old *Status, action Action, changedBy string, at time.Time) {
	if s.events == nil {
		return
	}
	ev := kafka.TransitionEvent{
		Event:        "queue." + string(action),
		TicketID:     t.ID,
		TicketNumber: t.Number,
		VisitNumber:  t.VisitNumber,
		DepartmentID: t.DepartmentID,
		NewStatus:    string(t.Status),
		ChangedBy:    changedBy,
		ChangedAt:    at,
	}
	if old != nil {
		o := string(*old)
		ev.OldStatus = &o
	}
	s.events.Emit(ctx, ev)
}

// dayWindow bounds the service day containing t. Positions only compete
// within one service day, matching the department board.
func (s *Service) dayWindow(t time.Time) (time.Time, time.Time) {
	from := ServiceDay(t, s.loc)
	return from, from.AddDate(0, 0, 1)
}

// snapshot derives what the patient's screen shows. Nothing is cached.
func (s *Service) snapshot(ctx context.Context, t *Ticket) (*Snapshot, error) {
	dept, err := s.store.Reference().GetDepartment(ctx, t.DepartmentID)
	if err != nil {
		return nil, fmt.Errorf("department %d: %w", t.DepartmentID, err)
	}
	from, to := s.dayWindow(t.IssuedTime)
	pos, err := s.store.Tickets().CountAhead(ctx, t, from, to)
	if err != nil {
		return nil, fmt.Errorf("count ahead: %w", err)
	}
	if pos < 0 {
		pos = 0
	}
	served, err := s.store.Tickets().CurrentlyServed(ctx, t.DepartmentID)
	if err != nil {
		return nil, fmt.Errorf("currently served: %w", err)
	}
	if served == "" {
		served = t.Number
	}
	return &Snapshot{
		TicketID:              t.ID,
		TicketNumber:          t.Number,
		VisitNumber:           t.VisitNumber,
		PatientName:           t.PatientName,
		Department:            dept.Name,
		DepartmentLocation:    dept.Location(),
		Status:                t.Status,
		CurrentlyServedTicket: served,
		Position:              pos,
		EstimatedWait:         EstimatedWait(pos),
		IssuedTimeDisplay:     DisplayTime(t.IssuedTime, s.loc),
		PriorityScore:         t.PriorityScore,
		IsSkipped:             t.IsSkipped,
	}, nil
}

// SnapshotByVisit answers a patient lookup without broadcasting.
func (s *Service) SnapshotByVisit(ctx context.Context, visitNumber string) (*Snapshot, error) {
	t, err := s.store.Tickets().GetByVisitNumber(ctx, visitNumber)
	if err != nil {
		return nil, err
	}
	return s.snapshot(ctx, t)
}

// DepartmentQueue lists today's tickets of a department in service order.
func (s *Service) DepartmentQueue(ctx context.Context, departmentID int64) ([]*QueueEntry, error) {
	from, to := s.dayWindow(s.now())
	tickets, err := s.store.Tickets().ListByDepartment(ctx, departmentID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list department %d: %w", departmentID, err)
	}
	SortByRank(tickets)

	entries := make([]*QueueEntry, 0, len(tickets))
	for _, t := range tickets {
		e := &QueueEntry{
			TicketID:          t.ID,
			TicketNumber:      t.Number,
			PatientName:       t.PatientName,
			VisitNumber:       t.VisitNumber,
			Status:            t.Status,
			IssuedTimeDisplay: DisplayTime(t.IssuedTime, s.loc),
			IsSkipped:         t.IsSkipped,
			PriorityScore:     t.PriorityScore,
		}
		if t.Status == StatusWaiting && !t.IsSkipped {
			p := Position(t, tickets)
			e.Position = &p
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// History returns a page of the ticket's audit trail, oldest first.
func (s *Service) History(ctx context.Context, ticketID int64, limit, offset int) ([]*HistoryEntry, int, error) {
	if _, err := s.store.Tickets().GetByID(ctx, ticketID); err != nil {
		return nil, 0, err
	}
	return s.store.History().ListByTicket(ctx, ticketID, limit, offset)
}

// IsNotFound reports whether err means a referenced record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTicketNotFound) ||
		errors.Is(err, ErrVisitNotFound) ||
		errors.Is(err, ErrDepartmentNotFound)
}
