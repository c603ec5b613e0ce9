package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/edvin/messaging/internal/crypto"
	"github.com/edvin/messaging/internal/model"
	"github.com/edvin/messaging/internal/platform"
)

var (
	// ErrMissingScope is returned when the origin token lacks /messaging/connect.
	ErrMissingScope = errors.New("token is missing the /messaging/connect scope")

	// ErrIssuance is returned when a credential could not be stored after
	// exhausting id-collision retries.
	ErrIssuance = errors.New("could not issue credential")
)

const uniqueViolation = "23505"

// issueRetries bounds id-collision retries. Collisions on 32-char random ids
// are effectively theoretical.
const issueRetries = 3

// CredentialService issues ephemeral broker credentials and answers the
// broker's authorization callbacks.
type CredentialService struct {
	db       DB
	hashKey  []byte
	lifetime time.Duration

	// dummyHash keeps the compare path identical when the username is unknown.
	dummyHash string
}

func NewCredentialService(db DB, hashKey []byte, lifetime time.Duration) *CredentialService {
	return &CredentialService{
		db:        db,
		hashKey:   hashKey,
		lifetime:  lifetime,
		dummyHash: crypto.TokenHash(hashKey, platform.NewToken()),
	}
}

// WithDB returns a copy of the service bound to another database handle,
// typically a transaction so the caller controls commit.
func (s *CredentialService) WithDB(db DB) *CredentialService {
	copied := *s
	copied.db = db
	return &copied
}

// IssueOptions control credential issuance. The zero value issues a
// single-use credential expiring after the configured default lifetime,
// requiring /messaging/connect on the origin token.
type IssueOptions struct {
	MultiUse bool

	// ExpireAt overrides the default expiry. NoExpiry issues a credential
	// that never expires; it wins over ExpireAt.
	ExpireAt *time.Time
	NoExpiry bool

	// SkipScopeCheck waives the /messaging/connect requirement on the origin
	// token. The credential still copies the token's scopes verbatim.
	SkipScopeCheck bool
}

// Issue mints a credential from a validated token and returns it along with
// the one-time plaintext secret. Only the keyed hash of the secret is stored.
func (s *CredentialService) Issue(ctx context.Context, token *model.Token, opts IssueOptions) (*model.MessagingCredential, string, error) {
	if !opts.SkipScopeCheck && !token.HasScope(model.ScopeConnect) {
		return nil, "", ErrMissingScope
	}
	if len(token.Scopes) == 0 {
		return nil, "", fmt.Errorf("token %s has no scopes", token.ID)
	}

	expireAt := opts.ExpireAt
	if expireAt == nil && !opts.NoExpiry {
		t := now().Add(s.lifetime)
		expireAt = &t
	}
	if opts.NoExpiry {
		expireAt = nil
	}

	secret := platform.NewToken()
	secretHash := crypto.TokenHash(s.hashKey, secret)

	var originTokenID *string
	if token.ID != "" {
		originTokenID = &token.ID
	}

	cred := &model.MessagingCredential{
		SecretHash:    secretHash,
		AccountID:     token.AccountID,
		ClientID:      token.ClientID,
		OriginTokenID: originTokenID,
		CreatedAt:     now(),
		ExpireAt:      expireAt,
		Scopes:        token.Scopes,
		MultiUse:      opts.MultiUse,
	}

	for attempt := 0; attempt < issueRetries; attempt++ {
		cred.ID = platform.NewToken()

		_, err := s.db.Exec(ctx,
			`INSERT INTO messaging_credentials
			   (id, secret_hash, account_id, client_id, origin_token_id, created_at, expire_at, scopes, multi_use, used)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false)`,
			cred.ID, cred.SecretHash, cred.AccountID, cred.ClientID, cred.OriginTokenID,
			cred.CreatedAt, cred.ExpireAt, cred.Scopes, cred.MultiUse,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				continue
			}
			return nil, "", fmt.Errorf("insert credential: %w", err)
		}
		return cred, secret, nil
	}

	return nil, "", ErrIssuance
}

// GetByID retrieves a credential by its id (the broker username).
func (s *CredentialService) GetByID(ctx context.Context, id string) (*model.MessagingCredential, error) {
	var c model.MessagingCredential
	err := s.db.QueryRow(ctx,
		`SELECT id, secret_hash, account_id, client_id, origin_token_id, created_at, expire_at, scopes, multi_use, used
		 FROM messaging_credentials WHERE id = $1`, id,
	).Scan(&c.ID, &c.SecretHash, &c.AccountID, &c.ClientID, &c.OriginTokenID,
		&c.CreatedAt, &c.ExpireAt, &c.Scopes, &c.MultiUse, &c.Used)
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &c, nil
}

// AuthorizeUser decides the broker's user callback. It fails closed: unknown
// username, wrong password, expiry, missing connect scope, and an already
// consumed single-use credential all deny. The single-use transition is a
// conditional update, so exactly one of any number of concurrent attempts
// with the correct password wins.
func (s *CredentialService) AuthorizeUser(ctx context.Context, username, password string) (bool, error) {
	computed := crypto.TokenHash(s.hashKey, password)

	cred, err := s.GetByID(ctx, username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Burn the same compare so a lookup miss and a hash mismatch
			// share response and timing.
			crypto.HashEqual(computed, s.dummyHash)
			return false, nil
		}
		return false, err
	}

	if !crypto.HashEqual(computed, cred.SecretHash) {
		return false, nil
	}
	if cred.Expired(now()) {
		return false, nil
	}
	if !cred.HasScope(model.ScopeConnect) {
		return false, nil
	}

	if !cred.MultiUse {
		tag, err := s.db.Exec(ctx,
			`UPDATE messaging_credentials SET used = true WHERE id = $1 AND NOT used`, cred.ID,
		)
		if err != nil {
			return false, fmt.Errorf("consume credential %s: %w", cred.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return false, nil
		}
	}

	return true, nil
}

// AuthorizeVhost decides the broker's vhost callback. Only the default vhost
// exists.
func (s *CredentialService) AuthorizeVhost(vhost string) bool {
	return vhost == "/"
}

// reservedResourcePrefix marks broker-owned resources that credentials must
// not reconfigure.
const reservedResourcePrefix = "amq."

// AuthorizeResource decides the broker's resource callback. The credential
// must exist and carry the connect scope. Configure on amq.* names is denied.
// When the credential carries fine-grained /messaging/<resource>/<name>
// scopes, read/write access for that resource kind is restricted to the named
// set; otherwise access is broad.
func (s *CredentialService) AuthorizeResource(ctx context.Context, username, vhost, resource, name, permission string) (bool, error) {
	if vhost != "/" {
		return false, nil
	}

	cred, err := s.GetByID(ctx, username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	if cred.Expired(now()) {
		return false, nil
	}
	if !cred.HasScope(model.ScopeConnect) {
		return false, nil
	}

	if permission == "configure" && strings.HasPrefix(name, reservedResourcePrefix) {
		return false, nil
	}

	prefix := "/messaging/" + resource + "/"
	restricted := false
	for _, scope := range cred.Scopes {
		if !strings.HasPrefix(scope, prefix) {
			continue
		}
		restricted = true
		if scope[len(prefix):] == name {
			return true, nil
		}
	}
	if restricted {
		return false, nil
	}

	return true, nil
}
