package staff

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/hospq/queue/internal/platform/auth"
)

var ErrInvalidCredentials = errors.New("invalid username or password")

// dummyHash is compared against when the username is unknown so that both
// failure paths cost one bcrypt comparison.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)

type Service struct {
	repo   Repository
	tokens *auth.TokenService
	logger zerolog.Logger
}

func NewService(repo Repository, tokens *auth.TokenService, logger zerolog.Logger) *Service {
	return &Service{repo: repo, tokens: tokens, logger: logger}
}

// Login verifies the password against the stored bcrypt hash and issues a
// session token carrying the staff member's role and department.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	m, err := s.repo.GetByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("lookup staff: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(m.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !m.IsActive {
		return nil, ErrInvalidCredentials
	}

	identity := auth.Staff{ID: m.ID, Name: m.Name, Roles: []string{m.Role}}
	if m.DepartmentID != nil {
		identity.DepartmentID = *m.DepartmentID
	}
	token, exp, err := s.tokens.Issue(identity)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	s.logger.Info().Int64("staff_id", m.ID).Str("role", m.Role).Msg("staff login")
	return &LoginResult{
		Success:        true,
		StaffID:        m.ID,
		StaffName:      m.Name,
		Role:           m.Role,
		DepartmentID:   m.DepartmentID,
		DepartmentName: m.DepartmentName,
		Token:          token,
		ExpiresAt:      exp,
	}, nil
}

// DepartmentOf returns the department a staff member issues tickets for,
// together with the name recorded as the issuer.
func (s *Service) DepartmentOf(ctx context.Context, staffID int64) (int64, string, bool, error) {
	m, err := s.repo.GetByID(ctx, staffID)
	if errors.Is(err, ErrNotFound) {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, err
	}
	if m.DepartmentID == nil || !m.IsActive {
		return 0, "", false, nil
	}
	return *m.DepartmentID, m.Name, true, nil
}
