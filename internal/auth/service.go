// Package auth issues and verifies the tokens behind the API surface. A
// token binds a ledger account; a relayer token additionally names the
// account it acts for, which is what lets the gateway reconstruct both
// halves of a caller identity.
package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/terminal-bench/pegflow/internal/chain"
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrInvalidPassword  = errors.New("invalid password")
	ErrAccountExists    = errors.New("account already exists")
	ErrInvalidToken     = errors.New("invalid token")
	ErrStoreUnavailable = errors.New("auth store not configured")
)

type Service struct {
	db        *sql.DB
	jwtSecret string
	tokenTTL  time.Duration
}

type Account struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Claims carry the ledger identity. ActsFor is set on relayer tokens: the
// relayer is the immediate caller and ActsFor is the originating account.
type Claims struct {
	Account string `json:"account"`
	ActsFor string `json:"acts_for,omitempty"`
	jwt.RegisteredClaims
}

// Caller maps the claims onto the dual identity the guard checks.
func (c *Claims) Caller() chain.Caller {
	if c.ActsFor != "" {
		return chain.Via(c.ActsFor, c.Account)
	}
	return chain.Direct(c.Account)
}

func NewService(db *sql.DB, jwtSecret string, tokenTTL time.Duration) *Service {
	if tokenTTL == 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{
		db:        db,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
	}
}

// Register creates a ledger account. The account name is the identity the
// token, guard and ledgers all share.
func (s *Service) Register(ctx context.Context, name, password string) (*Account, error) {
	if s.db == nil {
		return nil, ErrStoreUnavailable
	}

	var exists bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM accounts WHERE name = $1)", name).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAccountExists
	}

	id := uuid.New().String()
	now := time.Now()

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO accounts (id, name, password_hash, created_at) VALUES ($1, $2, $3, $4)",
		id, name, hashPassword(password), now,
	)
	if err != nil {
		return nil, err
	}

	return &Account{
		ID:        id,
		Name:      name,
		CreatedAt: now,
	}, nil
}

// Login verifies the password and returns a signed token for the account.
func (s *Service) Login(ctx context.Context, name, password string) (string, error) {
	if s.db == nil {
		return "", ErrStoreUnavailable
	}

	var storedHash string
	err := s.db.QueryRowContext(ctx,
		"SELECT password_hash FROM accounts WHERE name = $1",
		name,
	).Scan(&storedHash)
	if err == sql.ErrNoRows {
		return "", ErrAccountNotFound
	}
	if err != nil {
		return "", err
	}

	if hashPassword(password) != storedHash {
		return "", ErrInvalidPassword
	}

	return s.sign(name, "")
}

// IssueToken mints a token for an account without a password check. Meant
// for operator tooling; the gateway never exposes it.
func (s *Service) IssueToken(account string) (string, error) {
	return s.sign(account, "")
}

// IssueRelayerToken returns a token for relayer acting on behalf of
// actsFor. Both identities land in the guard when the token is used.
func (s *Service) IssueRelayerToken(relayer, actsFor string) (string, error) {
	return s.sign(relayer, actsFor)
}

func (s *Service) sign(account, actsFor string) (string, error) {
	claims := &Claims{
		Account: account,
		ActsFor: actsFor,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.jwtSecret))
}

// VerifyToken parses and validates a bearer token.
func (s *Service) VerifyToken(tokenString string) (*Claims, error) {
	if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
		tokenString = tokenString[7:]
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Account == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func hashPassword(password string) string {
	hash := sha256.Sum256([]byte(password))
	return hex.EncodeToString(hash[:])
}
