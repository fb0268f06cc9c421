package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	jwt.RegisteredClaims
	StaffName    string   `json:"staff_name"`
	DepartmentID int64    `json:"department_id"`
	Roles        []string `json:"roles"`
}

// Staff converts verified claims back into an identity.
func (c *Claims) Staff() (Staff, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return Staff{}, fmt.Errorf("parse subject %q: %w", c.Subject, err)
	}
	return Staff{ID: id, Name: c.StaffName, DepartmentID: c.DepartmentID, Roles: c.Roles}, nil
}

// TokenService issues and verifies HS256 staff session tokens.
type TokenService struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenService(key []byte, issuer string, ttl time.Duration) *TokenService {
	return &TokenService{key: key, issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue signs a token for staff and returns it with its expiry.
func (s *TokenService) Issue(staff Staff) (string, time.Time, error) {
	if len(s.key) == 0 {
		return "", time.Time{}, errors.New("token signing key is not configured")
	}
	now := s.now()
	exp := now.Add(s.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(staff.ID, 10),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		StaffName:    staff.Name,
		DepartmentID: staff.DepartmentID,
		Roles:        staff.Roles,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

func (s *TokenService) Parse(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
