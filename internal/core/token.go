package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/messaging/internal/crypto"
	"github.com/edvin/messaging/internal/model"
	"github.com/edvin/messaging/internal/platform"
)

// ErrInvalidToken is returned when a bearer token does not resolve to a live
// token row.
var ErrInvalidToken = errors.New("invalid token")

// TokenService resolves bearer tokens to their validated projection.
type TokenService struct {
	db      DB
	hashKey []byte
}

func NewTokenService(db DB, hashKey []byte) *TokenService {
	return &TokenService{db: db, hashKey: hashKey}
}

// Authenticate resolves a bearer token to its Token row. Tokens past their
// refresh_at are treated as invalid.
func (s *TokenService) Authenticate(ctx context.Context, bearer string) (*model.Token, error) {
	hash := crypto.TokenHash(s.hashKey, bearer)

	var t model.Token
	err := s.db.QueryRow(ctx,
		`SELECT id, account_id, client_id, scopes, refresh_at, created_at
		 FROM tokens WHERE access_token_hash = $1`, hash,
	).Scan(&t.ID, &t.AccountID, &t.ClientID, &t.Scopes, &t.RefreshAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("authenticate token: %w", err)
	}

	if t.RefreshAt != nil && !t.RefreshAt.After(now()) {
		return nil, ErrInvalidToken
	}

	return &t, nil
}

// Create mints a token row with a fresh bearer value and returns the model
// along with the raw bearer string. Used by the create-token admin command;
// production tokens come from the upstream OAuth service.
func (s *TokenService) Create(ctx context.Context, accountID, clientID string, scopes []string) (*model.Token, string, error) {
	id := platform.NewToken()
	bearer := platform.NewToken()
	hash := crypto.TokenHash(s.hashKey, bearer)

	t := &model.Token{
		ID:        id,
		AccountID: accountID,
		ClientID:  clientID,
		Scopes:    scopes,
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO tokens (id, account_id, client_id, access_token_hash, scopes)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		id, accountID, clientID, hash, scopes,
	).Scan(&t.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("insert token: %w", err)
	}

	return t, bearer, nil
}
