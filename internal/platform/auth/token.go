package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in session tokens.
const (
	RoleAdmin        = "admin"
	RolePatient      = "patient"
	RoleHospital     = "hospital"
	RoleDoctor       = "doctor"
	RoleMedicalStore = "medical-store"
)

// Claims is the session token payload. Subject is the entity id.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
	Code string `json:"code,omitempty"`
}

// Issuer signs session tokens.
type Issuer struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(key []byte, issuer string, ttl time.Duration) *Issuer {
	return &Issuer{key: key, issuer: issuer, ttl: ttl, now: time.Now}
}

// Session is returned by successful logins.
type Session struct {
	Token     string    `json:"token"`
	Role      string    `json:"role"`
	Subject   string    `json:"subject"`
	Code      string    `json:"code,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issue returns a signed HS256 token for subject with the given role.
func (i *Issuer) Issue(subject, role, code string) (*Session, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Role: role,
		Code: code,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}
	return &Session{Token: signed, Role: role, Subject: subject, Code: code, ExpiresAt: exp}, nil
}
