// Package auth is the account directory consulted by the HTTP gateway and the
// CLI: static accounts with bcrypt password hashes, and the HS256 tokens
// issued to them.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Roles understood by the gateway.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

var (
	// ErrInvalidCredentials hides whether the email or the password was wrong.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrInvalidToken covers malformed, badly signed and expired tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// Account is one entry of the directory.
type Account struct {
	ID           string `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	Email        string `yaml:"email" json:"email"`
	Role         string `yaml:"role" json:"role"`
	PasswordHash string `yaml:"password_hash" json:"-"`
}

// IsAdmin reports whether the account may drive borrowing statuses.
func (a Account) IsAdmin() bool { return a.Role == RoleAdmin }

// Directory looks accounts up by id and email.
type Directory struct {
	byID    map[string]Account
	byEmail map[string]Account
}

// NewDirectory indexes accounts. Emails compare case-insensitively.
func NewDirectory(accounts []Account) (*Directory, error) {
	d := &Directory{
		byID:    make(map[string]Account, len(accounts)),
		byEmail: make(map[string]Account, len(accounts)),
	}
	for _, a := range accounts {
		email := strings.ToLower(strings.TrimSpace(a.Email))
		if a.ID == "" || email == "" {
			return nil, fmt.Errorf("account %q: id and email are required", a.Name)
		}
		if _, dup := d.byID[a.ID]; dup {
			return nil, fmt.Errorf("duplicate account id %q", a.ID)
		}
		if _, dup := d.byEmail[email]; dup {
			return nil, fmt.Errorf("duplicate account email %q", a.Email)
		}
		if a.Role == "" {
			a.Role = RoleMember
		}
		d.byID[a.ID] = a
		d.byEmail[email] = a
	}
	return d, nil
}

// Lookup returns the account with id.
func (d *Directory) Lookup(id string) (Account, bool) {
	a, ok := d.byID[id]
	return a, ok
}

// Authenticate checks a password against the stored bcrypt hash.
func (d *Directory) Authenticate(email, password string) (Account, error) {
	a, ok := d.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return Account{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)); err != nil {
		return Account{}, ErrInvalidCredentials
	}
	return a, nil
}

// HashPassword returns the bcrypt hash stored in account entries.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

// Claims is what a token carries about its holder.
type Claims struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the holder has the admin role.
func (c *Claims) IsAdmin() bool { return c.Role == RoleAdmin }

// Issuer signs and verifies HS256 tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer. Tokens expire ttl after issue.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed token for a.
func (i *Issuer) Issue(a Account) (string, error) {
	now := i.now()
	claims := Claims{
		ID:    a.ID,
		Name:  a.Name,
		Email: a.Email,
		Role:  a.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token and returns its claims.
func (i *Issuer) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing id claim", ErrInvalidToken)
	}
	return claims, nil
}
