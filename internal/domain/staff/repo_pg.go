package staff

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hospq/queue/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const memberCols = `s.id, s.staff_name, s.username, s.password_hash, s.role,
	s.department_id, d.department_name, s.is_active, s.created_at`

const memberFrom = `FROM staff s LEFT JOIN department d ON d.id = s.department_id`

func (r *repoPG) scanMember(row pgx.Row) (*Member, error) {
	var m Member
	err := row.Scan(&m.ID, &m.Name, &m.Username, &m.PasswordHash, &m.Role,
		&m.DepartmentID, &m.DepartmentName, &m.IsActive, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &m, err
}

func (r *repoPG) GetByUsername(ctx context.Context, username string) (*Member, error) {
	return r.scanMember(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+memberCols+` `+memberFrom+` WHERE s.username = $1`, username))
}

func (r *repoPG) GetByID(ctx context.Context, id int64) (*Member, error) {
	return r.scanMember(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+memberCols+` `+memberFrom+` WHERE s.id = $1`, id))
}
