package queue

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusCalled     Status = "called"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Ticket maps to the queue_ticket table. VisitNumber and PatientName are
// read-only joins filled by lookups.
type Ticket struct {
	ID            int64      `db:"id" json:"ticketId"`
	Number        string     `db:"ticket_number" json:"ticketNumber"`
	VisitID       int64      `db:"visit_id" json:"visitId"`
	DepartmentID  int64      `db:"department_id" json:"departmentId"`
	Token         uuid.UUID  `db:"token" json:"token"`
	Status        Status     `db:"status" json:"status"`
	IsSkipped     bool       `db:"is_skipped" json:"isSkipped"`
	PriorityScore int        `db:"priority_score" json:"priorityScore"`
	IssuedTime    time.Time  `db:"issued_time" json:"issuedTime"`
	CalledTime    *time.Time `db:"called_time" json:"calledTime,omitempty"`
	CompletedTime *time.Time `db:"completed_time" json:"completedTime,omitempty"`
	SkippedTime   *time.Time `db:"skipped_time" json:"skippedTime,omitempty"`

	VisitNumber string `json:"visitNumber,omitempty"`
	PatientName string `json:"patientName,omitempty"`
}

// HistoryEntry maps to queue_status_history. OldStatus is nil for the
// creation entry.
type HistoryEntry struct {
	ID        int64     `db:"id" json:"historyId"`
	TicketID  int64     `db:"ticket_id" json:"ticketId"`
	OldStatus *Status   `db:"old_status" json:"oldStatus"`
	NewStatus Status    `db:"new_status" json:"newStatus"`
	Action    Action    `db:"action" json:"action"`
	ChangedBy string    `db:"changed_by" json:"changedBy"`
	ChangedAt time.Time `db:"changed_at" json:"changedAt"`
}

const (
	NotificationCalled  = "queue_called"
	NotificationSkipped = "queue_skipped"
)

// Notification maps to the notification table.
type Notification struct {
	ID       int64     `db:"id" json:"notificationId"`
	TicketID int64     `db:"ticket_id" json:"ticketId"`
	Type     string    `db:"notification_type" json:"type"`
	Message  string    `db:"message" json:"message"`
	IsSent   bool      `db:"is_sent" json:"isSent"`
	SentAt   time.Time `db:"sent_at" json:"sentAt"`
}

type Department struct {
	ID       int64  `db:"id" json:"departmentId"`
	Code     string `db:"code" json:"departmentCode"`
	Name     string `db:"name" json:"departmentName"`
	Building string `db:"building" json:"building,omitempty"`
	Floor    string `db:"floor" json:"floor,omitempty"`
	Room     string `db:"room" json:"room,omitempty"`
}

// Location joins building, floor and room, skipping empty parts.
func (d *Department) Location() string {
	var parts []string
	for _, p := range []string{d.Building, d.Floor, d.Room} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

type Visit struct {
	ID        int64  `db:"id" json:"visitId"`
	Number    string `db:"vn" json:"visitNumber"`
	PatientID int64  `db:"patient_id" json:"patientId"`
}

// PatientContact is returned to staff when a ticket is skipped so they can
// reach the patient.
type PatientContact struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	TicketNumber string `json:"queueNumber"`
}

// Snapshot is what a patient screen shows for one ticket.
type Snapshot struct {
	TicketID              int64  `json:"ticketId"`
	TicketNumber          string `json:"ticketNumber"`
	VisitNumber           string `json:"visitNumber"`
	PatientName           string `json:"patientName"`
	Department            string `json:"department"`
	DepartmentLocation    string `json:"departmentLocation"`
	Status                Status `json:"status"`
	CurrentlyServedTicket string `json:"currentlyServedTicket"`
	Position              int    `json:"position"`
	EstimatedWait         string `json:"estimatedWait"`
	IssuedTimeDisplay     string `json:"issuedTimeDisplay"`
	PriorityScore         int    `json:"priorityScore"`
	IsSkipped             bool   `json:"isSkipped"`
}

// QueueEntry is one row of a department's board.
type QueueEntry struct {
	TicketID          int64  `json:"ticketId"`
	TicketNumber      string `json:"ticketNumber"`
	PatientName       string `json:"patientName"`
	VisitNumber       string `json:"visitNumber"`
	Status            Status `json:"status"`
	IssuedTimeDisplay string `json:"issuedTimeDisplay"`
	IsSkipped         bool   `json:"isSkipped"`
	PriorityScore     int    `json:"priorityScore"`
	// Position is set only for waiting, non-skipped tickets.
	Position *int `json:"position,omitempty"`
}
