package staff

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("staff not found")

type Repository interface {
	GetByUsername(ctx context.Context, username string) (*Member, error)
	GetByID(ctx context.Context, id int64) (*Member, error)
}
