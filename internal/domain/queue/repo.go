package queue

import (
	"context"
	"time"
)

type TicketRepository interface {
	GetByID(ctx context.Context, id int64) (*Ticket, error)
	// GetForUpdate locks the ticket row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*Ticket, error)
	GetByVisitNumber(ctx context.Context, visitNumber string) (*Ticket, error)
	ExistsForVisit(ctx context.Context, visitID int64) (bool, error)
	Create(ctx context.Context, t *Ticket) error
	Update(ctx context.Context, t *Ticket) error
	// NextSequence increments and returns the department's counter for the
	// given service day. The counter row stays locked until commit.
	NextSequence(ctx context.Context, departmentID int64, serviceDay time.Time) (int, error)
	// CountAhead counts the tickets ranking ahead of t among those issued in
	// [from, to).
	CountAhead(ctx context.Context, t *Ticket, from, to time.Time) (int, error)
	// CurrentlyServed returns the number of the department's most recently
	// called ticket, or "" when none is called.
	CurrentlyServed(ctx context.Context, departmentID int64) (string, error)
	ListByDepartment(ctx context.Context, departmentID int64, from, to time.Time) ([]*Ticket, error)
}

type HistoryRepository interface {
	Append(ctx context.Context, e *HistoryEntry) error
	ListByTicket(ctx context.Context, ticketID int64, limit, offset int) ([]*HistoryEntry, int, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, n *Notification) error
}

// ReferenceRepository reads the visit, patient and department records owned
// by the hospital record system.
type ReferenceRepository interface {
	GetVisitByNumber(ctx context.Context, visitNumber string) (*Visit, error)
	GetDepartment(ctx context.Context, id int64) (*Department, error)
	GetPatientContact(ctx context.Context, ticketID int64) (*PatientContact, error)
}

// Store bundles the repositories with a transaction runner. Repository calls
// made with the context passed to fn join that transaction.
type Store interface {
	Tickets() TicketRepository
	History() HistoryRepository
	Notifications() NotificationRepository
	Reference() ReferenceRepository
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// StaffLookup resolves the department a staff member issues tickets for and
// the name recorded on the creation history entry. ok is false when the
// staff member is unknown or has no department.
type StaffLookup interface {
	DepartmentOf(ctx context.Context, staffID int64) (departmentID int64, staffName string, ok bool, err error)
}
