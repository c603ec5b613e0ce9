package handler

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	mw "github.com/edvin/messaging/internal/api/middleware"
	"github.com/edvin/messaging/internal/api/response"
	"github.com/edvin/messaging/internal/core"
	"github.com/edvin/messaging/internal/metrics"
)

// Credentials issues ephemeral broker credentials to token holders.
type Credentials struct {
	pool  *pgxpool.Pool
	creds *core.CredentialService
}

func NewCredentials(pool *pgxpool.Pool, creds *core.CredentialService) *Credentials {
	return &Credentials{pool: pool, creds: creds}
}

// Create mints a single-use credential bound to the caller's token scopes.
// The plaintext secret appears in this response and nowhere else, so caches
// are told to stay away. The row is committed before the secret is released;
// the broker may call back the moment the client sees it.
func (h *Credentials) Create(w http.ResponseWriter, r *http.Request) {
	identity := mw.GetIdentity(r.Context())

	tx, err := h.pool.Begin(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("begin credential transaction")
		response.WriteError(w, http.StatusInternalServerError, "server_error", "could not issue credentials")
		return
	}
	defer tx.Rollback(r.Context())

	cred, secret, err := h.creds.WithDB(tx).Issue(r.Context(), identity.Token, core.IssueOptions{})
	if err != nil {
		if errors.Is(err, core.ErrMissingScope) {
			response.WriteError(w, http.StatusForbidden, "insufficient_scope", err.Error())
			return
		}
		log.Error().Err(err).Msg("issue credential")
		response.WriteError(w, http.StatusInternalServerError, "server_error", "could not issue credentials")
		return
	}

	if err := tx.Commit(r.Context()); err != nil {
		log.Error().Err(err).Msg("commit credential")
		response.WriteError(w, http.StatusInternalServerError, "server_error", "could not issue credentials")
		return
	}

	metrics.CredentialsIssued.Inc()

	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Cache-Control", "no-store")
	response.WriteJSON(w, http.StatusOK, map[string]string{
		"username": cred.ID,
		"password": secret,
	})
}
