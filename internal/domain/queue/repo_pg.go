package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hospq/queue/internal/platform/db"
)

const uniqueViolation = "23505"

type pgStore struct {
	pool    *pgxpool.Pool
	tickets *ticketRepoPG
	history *historyRepoPG
	notifs  *notificationRepoPG
	refs    *referenceRepoPG
}

// NewPGStore returns a Store backed by PostgreSQL.
func NewPGStore(pool *pgxpool.Pool) Store {
	return &pgStore{
		pool:    pool,
		tickets: &ticketRepoPG{pool: pool},
		history: &historyRepoPG{pool: pool},
		notifs:  &notificationRepoPG{pool: pool},
		refs:    &referenceRepoPG{pool: pool},
	}
}

func (s *pgStore) Tickets() TicketRepository             { return s.tickets }
func (s *pgStore) History() HistoryRepository            { return s.history }
func (s *pgStore) Notifications() NotificationRepository { return s.notifs }
func (s *pgStore) Reference() ReferenceRepository        { return s.refs }

func (s *pgStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.RunInTx(ctx, s.pool, fn)
}

// -- Tickets --

type ticketRepoPG struct{ pool *pgxpool.Pool }

func (r *ticketRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const ticketCols = `q.id, q.ticket_number, q.visit_id, q.department_id, q.token,
	q.status, q.is_skipped, q.priority_score,
	q.issued_time, q.called_time, q.completed_time, q.skipped_time,
	v.vn, TRIM(p.first_name || ' ' || p.last_name)`

const ticketFrom = `FROM queue_ticket q
	JOIN visit v ON v.id = q.visit_id
	JOIN patient p ON p.id = v.patient_id`

func (r *ticketRepoPG) scanTicket(row pgx.Row) (*Ticket, error) {
	var t Ticket
	err := row.Scan(&t.ID, &t.Number, &t.VisitID, &t.DepartmentID, &t.Token,
		&t.Status, &t.IsSkipped, &t.PriorityScore,
		&t.IssuedTime, &t.CalledTime, &t.CompletedTime, &t.SkippedTime,
		&t.VisitNumber, &t.PatientName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTicketNotFound
	}
	return &t, err
}

func (r *ticketRepoPG) GetByID(ctx context.Context, id int64) (*Ticket, error) {
	return r.scanTicket(r.conn(ctx).QueryRow(ctx,
		`SELECT `+ticketCols+` `+ticketFrom+` WHERE q.id = $1`, id))
}

func (r *ticketRepoPG) GetForUpdate(ctx context.Context, id int64) (*Ticket, error) {
	return r.scanTicket(r.conn(ctx).QueryRow(ctx,
		`SELECT `+ticketCols+` `+ticketFrom+` WHERE q.id = $1 FOR UPDATE OF q`, id))
}

func (r *ticketRepoPG) GetByVisitNumber(ctx context.Context, visitNumber string) (*Ticket, error) {
	return r.scanTicket(r.conn(ctx).QueryRow(ctx,
		`SELECT `+ticketCols+` `+ticketFrom+` WHERE v.vn = $1`, visitNumber))
}

func (r *ticketRepoPG) ExistsForVisit(ctx context.Context, visitID int64) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM queue_ticket WHERE visit_id = $1)`, visitID).Scan(&exists)
	return exists, err
}

func (r *ticketRepoPG) Create(ctx context.Context, t *Ticket) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO queue_ticket (ticket_number, visit_id, department_id, token,
			status, is_skipped, priority_score, issued_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		t.Number, t.VisitID, t.DepartmentID, t.Token,
		t.Status, t.IsSkipped, t.PriorityScore, t.IssuedTime).Scan(&t.ID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicateTicket, pgErr.ConstraintName)
	}
	return err
}

func (r *ticketRepoPG) Update(ctx context.Context, t *Ticket) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE queue_ticket SET status = $2, is_skipped = $3, priority_score = $4,
			called_time = $5, completed_time = $6, skipped_time = $7
		WHERE id = $1`,
		t.ID, t.Status, t.IsSkipped, t.PriorityScore,
		t.CalledTime, t.CompletedTime, t.SkippedTime)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTicketNotFound
	}
	return nil
}

func (r *ticketRepoPG) NextSequence(ctx context.Context, departmentID int64, serviceDay time.Time) (int, error) {
	var seq int
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO queue_daily_counter (department_id, service_date, last_seq)
		VALUES ($1, $2::date, 1)
		ON CONFLICT (department_id, service_date)
		DO UPDATE SET last_seq = queue_daily_counter.last_seq + 1
		RETURNING last_seq`,
		departmentID, serviceDay.Format("2006-01-02")).Scan(&seq)
	return seq, err
}

func (r *ticketRepoPG) CountAhead(ctx context.Context, t *Ticket, from, to time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM queue_ticket
		WHERE department_id = $1
		  AND status = 'waiting'
		  AND is_skipped = FALSE
		  AND id <> $2
		  AND issued_time >= $5 AND issued_time < $6
		  AND (priority_score > $3
		       OR (priority_score = $3 AND issued_time < $4)
		       OR (priority_score = $3 AND issued_time = $4 AND id < $2))`,
		t.DepartmentID, t.ID, t.PriorityScore, t.IssuedTime, from, to).Scan(&n)
	return n, err
}

func (r *ticketRepoPG) CurrentlyServed(ctx context.Context, departmentID int64) (string, error) {
	var number string
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT ticket_number FROM queue_ticket
		WHERE department_id = $1 AND status = 'called'
		ORDER BY called_time DESC, id DESC
		LIMIT 1`, departmentID).Scan(&number)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return number, err
}

func (r *ticketRepoPG) ListByDepartment(ctx context.Context, departmentID int64, from, to time.Time) ([]*Ticket, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+ticketCols+` `+ticketFrom+`
		WHERE q.department_id = $1 AND q.issued_time >= $2 AND q.issued_time < $3
		ORDER BY q.priority_score DESC, q.issued_time ASC, q.id ASC`,
		departmentID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Ticket
	for rows.Next() {
		t, err := r.scanTicket(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

// -- History --

type historyRepoPG struct{ pool *pgxpool.Pool }

func (r *historyRepoPG) Append(ctx context.Context, e *HistoryEntry) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO queue_status_history (ticket_id, old_status, new_status, action, changed_by, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		e.TicketID, e.OldStatus, e.NewStatus, e.Action, e.ChangedBy, e.ChangedAt).Scan(&e.ID)
}

func (r *historyRepoPG) ListByTicket(ctx context.Context, ticketID int64, limit, offset int) ([]*HistoryEntry, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM queue_status_history WHERE ticket_id = $1`, ticketID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn.Query(ctx, `
		SELECT id, ticket_id, old_status, new_status, action, changed_by, changed_at
		FROM queue_status_history WHERE ticket_id = $1
		ORDER BY changed_at ASC, id ASC LIMIT $2 OFFSET $3`, ticketID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.TicketID, &e.OldStatus, &e.NewStatus, &e.Action, &e.ChangedBy, &e.ChangedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &e)
	}
	return items, total, rows.Err()
}

// -- Notifications --

type notificationRepoPG struct{ pool *pgxpool.Pool }

func (r *notificationRepoPG) Create(ctx context.Context, n *Notification) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO notification (ticket_id, notification_type, message, is_sent, sent_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		n.TicketID, n.Type, n.Message, n.IsSent, n.SentAt).Scan(&n.ID)
}

// -- Reference data --

type referenceRepoPG struct{ pool *pgxpool.Pool }

func (r *referenceRepoPG) GetVisitByNumber(ctx context.Context, visitNumber string) (*Visit, error) {
	var v Visit
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, vn, patient_id FROM visit WHERE vn = $1`, visitNumber).
		Scan(&v.ID, &v.Number, &v.PatientID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVisitNotFound
	}
	return &v, err
}

func (r *referenceRepoPG) GetDepartment(ctx context.Context, id int64) (*Department, error) {
	var d Department
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, department_code, department_name,
			COALESCE(building, ''), COALESCE(floor, ''), COALESCE(room, '')
		FROM department WHERE id = $1`, id).
		Scan(&d.ID, &d.Code, &d.Name, &d.Building, &d.Floor, &d.Room)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDepartmentNotFound
	}
	return &d, err
}

func (r *referenceRepoPG) GetPatientContact(ctx context.Context, ticketID int64) (*PatientContact, error) {
	var pc PatientContact
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT TRIM(p.first_name || ' ' || p.last_name), COALESCE(p.phone_number, ''), q.ticket_number
		FROM queue_ticket q
		JOIN visit v ON v.id = q.visit_id
		JOIN patient p ON p.id = v.patient_id
		WHERE q.id = $1`, ticketID).Scan(&pc.Name, &pc.Phone, &pc.TicketNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTicketNotFound
	}
	return &pc, err
}
