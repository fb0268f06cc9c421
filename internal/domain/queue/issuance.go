package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FormatTicketNumber renders a department code and daily sequence as the
// printed ticket number, e.g. MED003.
func FormatTicketNumber(code string, seq int) string {
	return fmt.Sprintf("%s%03d", code, seq)
}

// Issue creates the ticket for a visit in the issuing staff member's
// department and records that staff member on the creation entry. Numbering, the ticket row and its creation history entry share
// one transaction, so a failed issuance leaves no gap in the sequence.
func (s *Service) Issue(ctx context.Context, visitNumber string, staffID int64) (*Ticket, error) {
	if visitNumber == "" {
		return nil, fmt.Errorf("visitNumber is required")
	}

	deptID, changedBy, ok, err := s.staff.DepartmentOf(ctx, staffID)
	if err != nil {
		return nil, fmt.Errorf("lookup staff %d: %w", staffID, err)
	}
	if !ok {
		return nil, ErrStaffNotFound
	}

	ctx, cancel := s.detach(ctx)
	defer cancel()

	var t *Ticket
	err = s.store.InTx(ctx, func(ctx context.Context) error {
		visit, err := s.store.Reference().GetVisitByNumber(ctx, visitNumber)
		if err != nil {
			return err
		}
		dept, err := s.store.Reference().GetDepartment(ctx, deptID)
		if err != nil {
			return err
		}
		exists, err := s.store.Tickets().ExistsForVisit(ctx, visit.ID)
		if err != nil {
			return fmt.Errorf("check existing ticket: %w", err)
		}
		if exists {
			return ErrDuplicateTicket
		}

		seq, err := s.store.Tickets().NextSequence(ctx, dept.ID, ServiceDay(s.now(), s.loc))
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		// Taken under the counter lock so issue times follow ticket numbers.
		// Postgres keeps microseconds.
		now := s.now().Truncate(time.Microsecond)

		t = &Ticket{
			Number:       FormatTicketNumber(dept.Code, seq),
			VisitID:      visit.ID,
			DepartmentID: dept.ID,
			Token:        uuid.New(),
			Status:       StatusWaiting,
			IssuedTime:   now,
			VisitNumber:  visit.Number,
		}
		if err := s.store.Tickets().Create(ctx, t); err != nil {
			if errors.Is(err, ErrDuplicateTicket) {
				return err
			}
			return fmt.Errorf("create ticket: %w", err)
		}
		return s.appendHistory(ctx, t, nil, ActionCreate, changedBy, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("ticket_id", t.ID).
		Str("ticket_number", t.Number).
		Str("visit_number", t.VisitNumber).
		Int64("department_id", t.DepartmentID).
		Msg("queue ticket issued")
	s.emit(ctx, t, nil, ActionCreate, changedBy, t.IssuedTime)
	return t, nil
}
