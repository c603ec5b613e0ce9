package handler

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/edvin/messaging/internal/api/response"
	"github.com/edvin/messaging/internal/core"
	"github.com/edvin/messaging/internal/metrics"
)

// BrokerAuth serves the broker's three-phase external auth callbacks. These
// routes carry no bearer auth: the broker itself is the caller, and its
// contract demands a definite allow/deny for every decision. DB faults
// therefore resolve to deny, never to a 5xx.
type BrokerAuth struct {
	creds *core.CredentialService
}

func NewBrokerAuth(creds *core.CredentialService) *BrokerAuth {
	return &BrokerAuth{creds: creds}
}

// User decides a connection attempt: username is a credential id, password
// its one-time secret. Unknown usernames and wrong passwords are
// indistinguishable by design.
func (h *BrokerAuth) User(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !q.Has("username") || !q.Has("password") {
		response.WriteError(w, http.StatusBadRequest, "missing_parameter", "username and password are required")
		return
	}

	allow, err := h.creds.AuthorizeUser(r.Context(), q.Get("username"), q.Get("password"))
	if err != nil {
		log.Error().Err(err).Msg("authorize user callback")
		allow = false
	}

	metrics.AuthDecisions.WithLabelValues("user", decisionLabel(allow)).Inc()
	response.WriteDecision(w, allow)
}

// Vhost decides vhost access. Only the default vhost exists.
func (h *BrokerAuth) Vhost(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !q.Has("vhost") {
		response.WriteError(w, http.StatusBadRequest, "missing_parameter", "vhost is required")
		return
	}

	allow := h.creds.AuthorizeVhost(q.Get("vhost"))
	metrics.AuthDecisions.WithLabelValues("vhost", decisionLabel(allow)).Inc()
	response.WriteDecision(w, allow)
}

// Resource decides per-resource access from the credential's scopes.
func (h *BrokerAuth) Resource(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	for _, param := range []string{"username", "vhost", "resource", "name", "permission"} {
		if !q.Has(param) {
			response.WriteError(w, http.StatusBadRequest, "missing_parameter", param+" is required")
			return
		}
	}

	allow, err := h.creds.AuthorizeResource(r.Context(),
		q.Get("username"), q.Get("vhost"), q.Get("resource"), q.Get("name"), q.Get("permission"))
	if err != nil {
		log.Error().Err(err).Msg("authorize resource callback")
		allow = false
	}

	metrics.AuthDecisions.WithLabelValues("resource", decisionLabel(allow)).Inc()
	response.WriteDecision(w, allow)
}

func decisionLabel(allow bool) string {
	if allow {
		return "allow"
	}
	return "deny"
}
