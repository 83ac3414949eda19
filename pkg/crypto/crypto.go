package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"
)

// TokenLength is the number of random bytes in a bearer credential
const TokenLength = 32

// MaxPasswordBytes is the longest password bcrypt takes into account
const MaxPasswordBytes = 72

// DefaultPasswordCost is the bcrypt work factor used when none is configured
const DefaultPasswordCost = bcrypt.DefaultCost

var (
	// ErrPasswordTooLong is returned for passwords bcrypt would silently truncate
	ErrPasswordTooLong = errors.New("password longer than 72 bytes")

	// ErrPasswordMismatch is returned when a password does not match its hash
	ErrPasswordMismatch = errors.New("password does not match")
)

// Passwords hashes account passwords at one bcrypt cost and verifies them
// against hashes made at any cost
type Passwords struct {
	cost int
}

// NewPasswords returns a hasher for cost; zero selects DefaultPasswordCost
func NewPasswords(cost int) (*Passwords, error) {
	if cost == 0 {
		cost = DefaultPasswordCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d outside %d-%d", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &Passwords{cost: cost}, nil
}

// Cost returns the work factor new hashes are made with
func (p *Passwords) Cost() int {
	return p.cost
}

// Hash returns the bcrypt hash of password
func (p *Passwords) Hash(password string) (string, error) {
	if len(password) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Verify checks password against hash. A wrong password yields
// ErrPasswordMismatch; a hash that is not bcrypt yields a wrapped error.
func (p *Passwords) Verify(password, hash string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrPasswordMismatch
	default:
		return fmt.Errorf("failed to verify password: %w", err)
	}
}

// Outdated reports whether hash should be replaced by one at the current cost
func (p *Passwords) Outdated(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	return err != nil || cost != p.cost
}

// GenerateToken creates a random bearer credential of TokenLength bytes
func GenerateToken() (string, error) {
	bytes := make([]byte, TokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// HashToken creates a SHA-256 hash of a token for storage
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// NewID returns a time-ordered unique identifier for sessions and connections
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}
