package core

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/edvin/messaging/internal/config"
)

// DB is the subset of pgx operations the services need. Both *pgxpool.Pool
// and pgx.Tx satisfy it, so a service can run inside a caller's transaction.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Services bundles the domain services for handler wiring.
type Services struct {
	Token      *TokenService
	Credential *CredentialService
}

// NewServices creates all services backed by the given database handle.
func NewServices(db DB, cfg *config.Config) *Services {
	hashKey := []byte(cfg.TokenHashKey)
	return &Services{
		Token:      NewTokenService(db, hashKey),
		Credential: NewCredentialService(db, hashKey, cfg.CredentialLifetime),
	}
}

// now is swapped in tests.
var now = time.Now
