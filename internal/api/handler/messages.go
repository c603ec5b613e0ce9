package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	mw "github.com/edvin/messaging/internal/api/middleware"
	"github.com/edvin/messaging/internal/api/request"
	"github.com/edvin/messaging/internal/api/response"
	"github.com/edvin/messaging/internal/broker"
	"github.com/edvin/messaging/internal/core"
	"github.com/edvin/messaging/internal/metrics"
	"github.com/edvin/messaging/internal/model"
)

// maxGetCount caps a single retrieval request.
const maxGetCount = 512

// Messages serves the request-scoped gateway: each request mints a fresh
// single-use credential and owns one broker connection+channel for its
// duration.
type Messages struct {
	creds         *core.CredentialService
	dialer        broker.Dialer
	fetchDeadline time.Duration
}

func NewMessages(creds *core.CredentialService, dialer broker.Dialer, fetchDeadline time.Duration) *Messages {
	return &Messages{creds: creds, dialer: dialer, fetchDeadline: fetchDeadline}
}

// Get drains up to count messages from a queue. Messages are acknowledged as
// they are fetched, so a crash between ack and response loses them; callers
// wanting stronger delivery should consume over the websocket bridge.
func (h *Messages) Get(w http.ResponseWriter, r *http.Request) {
	queue := r.URL.Query().Get("queue")
	if queue == "" {
		response.WriteError(w, http.StatusBadRequest, "missing_parameter", "queue is required")
		return
	}

	count := maxGetCount
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			response.WriteError(w, http.StatusBadRequest, "bad_parameter", "count must be a positive integer")
			return
		}
		if n < count {
			count = n
		}
	}

	sess, ok := h.openSession(w, r)
	if !ok {
		return
	}
	defer sess.Close()

	if err := sess.DeclareQueue(queue); err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("declare queue")
		response.WriteError(w, http.StatusBadGateway, "broker_error", "could not declare queue")
		return
	}

	// Bounded by count and by wall clock, so a sparsely filled queue cannot
	// hold the request open.
	deadline := time.Now().Add(h.fetchDeadline)
	msgs := make([]model.Message, 0, count)
	for len(msgs) < count && time.Now().Before(deadline) {
		msg, found, err := sess.Get(queue)
		if err != nil {
			log.Error().Err(err).Str("queue", queue).Msg("fetch message")
			response.WriteError(w, http.StatusBadGateway, "broker_error", "fetch failed")
			return
		}
		if !found {
			break
		}
		msgs = append(msgs, *msg)
	}

	metrics.MessagesFetched.Add(float64(len(msgs)))
	response.WriteJSON(w, http.StatusOK, msgs)
}

// Publish sends a batch of messages to an exchange, fire-and-forget. There is
// no cross-message atomicity: a broker failure mid-batch leaves earlier
// messages delivered.
func (h *Messages) Publish(w http.ResponseWriter, r *http.Request) {
	exchange := r.URL.Query().Get("exchange")
	if exchange == "" {
		response.WriteError(w, http.StatusBadRequest, "missing_parameter", "exchange is required")
		return
	}

	batch, err := request.DecodePublishBatch(r.Body)
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	sess, ok := h.openSession(w, r)
	if !ok {
		return
	}
	defer sess.Close()

	for i := range batch {
		contentType, body, err := batch[i].Payload()
		if err != nil {
			response.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		headers := make(map[string]any, len(batch[i].Headers))
		for k, v := range batch[i].Headers {
			headers[k] = v
		}

		err = sess.Publish(r.Context(), exchange, batch[i].RoutingKey, broker.Publishing{
			ContentType: contentType,
			Headers:     headers,
			Body:        body,
		})
		if err != nil {
			log.Error().Err(err).Str("exchange", exchange).Int("delivered", i).Msg("publish batch failed")
			response.WriteError(w, http.StatusBadGateway, "broker_error", "publish failed after "+strconv.Itoa(i)+" messages")
			return
		}
		metrics.MessagesPublished.Inc()
	}

	w.WriteHeader(http.StatusNoContent)
}

// openSession mints a single-use credential for the caller's token and opens
// a broker session with it. Writes the error response itself on failure.
func (h *Messages) openSession(w http.ResponseWriter, r *http.Request) (broker.Session, bool) {
	identity := mw.GetIdentity(r.Context())

	cred, secret, err := h.creds.Issue(r.Context(), identity.Token, core.IssueOptions{})
	if err != nil {
		log.Error().Err(err).Msg("issue gateway credential")
		response.WriteError(w, http.StatusInternalServerError, "server_error", "could not issue broker credentials")
		return nil, false
	}
	metrics.CredentialsIssued.Inc()

	sess, err := h.dialer.Dial(r.Context(), cred.ID, secret)
	if err != nil {
		log.Error().Err(err).Msg("dial broker")
		response.WriteError(w, http.StatusBadGateway, "broker_unavailable", "could not connect to broker")
		return nil, false
	}
	return sess, true
}
