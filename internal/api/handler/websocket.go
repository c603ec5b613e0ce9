package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	mw "github.com/edvin/messaging/internal/api/middleware"
	"github.com/edvin/messaging/internal/api/request"
	"github.com/edvin/messaging/internal/api/response"
	"github.com/edvin/messaging/internal/broker"
	"github.com/edvin/messaging/internal/core"
	"github.com/edvin/messaging/internal/metrics"
	"github.com/edvin/messaging/internal/model"
)

// outboundBuffer bounds frames queued towards the client. A consumer must
// never block on a slow socket; when the buffer fills the session is torn
// down instead.
const outboundBuffer = 256

var errOutboundFull = errors.New("outbound buffer full")

// WebSocket bridges a socket session onto one broker connection+channel,
// multiplexing subscriptions and publishes over JSON control frames.
type WebSocket struct {
	creds  *core.CredentialService
	dialer broker.Dialer
}

func NewWebSocket(creds *core.CredentialService, dialer broker.Dialer) *WebSocket {
	return &WebSocket{creds: creds, dialer: dialer}
}

// controlFrame is an inbound client frame. Fields beyond id and action are
// action-specific.
type controlFrame struct {
	ID         string            `json:"id"`
	Action     string            `json:"action"`
	Queue      string            `json:"queue,omitempty"`
	Exchange   string            `json:"exchange,omitempty"`
	RoutingKey string            `json:"routing_key,omitempty"`
	Body       json.RawMessage   `json:"body,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// statusFrame is an outbound acknowledgement or error.
type statusFrame struct {
	ID    string `json:"id,omitempty"`
	Type  string `json:"type,omitempty"`
	Error string `json:"error,omitempty"`
}

// messageFrame forwards a broker delivery tagged with its subscription id.
type messageFrame struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	model.Message
}

// Connect upgrades to WebSocket and runs the bridge session. The broker
// connection is established with a fresh single-use credential before the
// upgrade, so broker unavailability still surfaces as a plain HTTP error.
func (h *WebSocket) Connect(w http.ResponseWriter, r *http.Request) {
	identity := mw.GetIdentity(r.Context())

	cred, secret, err := h.creds.Issue(r.Context(), identity.Token, core.IssueOptions{})
	if err != nil {
		log.Error().Err(err).Msg("issue websocket credential")
		response.WriteError(w, http.StatusInternalServerError, "server_error", "could not issue broker credentials")
		return
	}
	metrics.CredentialsIssued.Inc()

	sess, err := h.dialer.Dial(r.Context(), cred.ID, secret)
	if err != nil {
		log.Error().Err(err).Msg("dial broker for websocket")
		response.WriteError(w, http.StatusBadGateway, "broker_unavailable", "could not connect to broker")
		return
	}

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		sess.Close()
		return
	}

	metrics.WebsocketSessions.Inc()
	defer metrics.WebsocketSessions.Dec()
	defer ws.CloseNow()
	defer sess.Close()

	b := &bridge{
		ws:   ws,
		sess: sess,
		out:  make(chan any, outboundBuffer),
		subs: newSubscriptionSet(),
	}
	b.run(r.Context())
}

type bridge struct {
	ws   *websocket.Conn
	sess broker.Session
	out  chan any
	subs *subscriptionSet

	cancel context.CancelFunc

	// overflow records a pump-side buffer overflow, which surfaces from
	// errgroup as a bare context cancellation rather than errOutboundFull.
	overflow atomic.Bool
}

func (b *bridge) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.writeLoop(ctx) })
	g.Go(func() error { return b.readLoop(ctx) })
	err := g.Wait()

	// Session over: every subscription closes, active consumers are
	// cancelled, then the deferred sess.Close tears down channel+connection.
	for _, sub := range b.subs.all() {
		if sub.current() == stateActive {
			b.sess.Cancel(sub.tag)
		}
		sub.close()
	}

	switch {
	case errors.Is(err, errOutboundFull) || b.overflow.Load():
		b.ws.Close(websocket.StatusPolicyViolation, "client too slow")
	case err == nil || websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled):
		b.ws.Close(websocket.StatusNormalClosure, "")
	default:
		log.Debug().Err(err).Msg("websocket session ended")
		b.ws.Close(websocket.StatusInternalError, "session error")
	}
}

func (b *bridge) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-b.out:
			data, err := json.Marshal(frame)
			if err != nil {
				return fmt.Errorf("marshal outbound frame: %w", err)
			}
			if err := b.ws.Write(ctx, websocket.MessageText, data); err != nil {
				return err
			}
		}
	}
}

func (b *bridge) readLoop(ctx context.Context) error {
	for {
		_, data, err := b.ws.Read(ctx)
		if err != nil {
			return err
		}

		var frame controlFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			// Non-fatal: tell the client and keep the session alive.
			if err := b.send(statusFrame{Error: "invalid_json"}); err != nil {
				return err
			}
			continue
		}

		if err := b.dispatch(ctx, frame); err != nil {
			return err
		}
	}
}

// dispatch handles one control frame. A returned error ends the session;
// per-frame problems are answered with error frames instead.
func (b *bridge) dispatch(ctx context.Context, frame controlFrame) error {
	switch frame.Action {
	case "subscribe":
		return b.handleSubscribe(ctx, frame)
	case "publish":
		return b.handlePublish(ctx, frame)
	case "unsubscribe":
		return b.handleUnsubscribe(frame)
	default:
		return b.send(statusFrame{ID: frame.ID, Error: "unknown_action"})
	}
}

func (b *bridge) handleSubscribe(ctx context.Context, frame controlFrame) error {
	if frame.ID == "" || frame.Queue == "" {
		return b.send(statusFrame{ID: frame.ID, Error: "missing_parameter"})
	}

	tag := uuid.New().String()
	sub, err := b.subs.add(frame.ID, frame.Queue, tag)
	if err != nil {
		return b.send(statusFrame{ID: frame.ID, Error: "duplicate_id"})
	}

	if err := b.sess.DeclareQueue(frame.Queue); err != nil {
		sub.close()
		b.subs.remove(frame.ID)
		log.Error().Err(err).Str("queue", frame.Queue).Msg("declare queue for subscription")
		return b.send(statusFrame{ID: frame.ID, Error: "subscribe_failed"})
	}

	msgs, err := b.sess.Consume(frame.Queue, tag)
	if err != nil {
		sub.close()
		b.subs.remove(frame.ID)
		log.Error().Err(err).Str("queue", frame.Queue).Msg("start consumer")
		return b.send(statusFrame{ID: frame.ID, Error: "subscribe_failed"})
	}

	if err := sub.activate(); err != nil {
		// Raced with teardown; the consumer is cancelled with the session.
		return b.send(statusFrame{ID: frame.ID, Error: "subscribe_failed"})
	}

	go b.pump(ctx, frame.ID, msgs)

	return b.send(statusFrame{ID: frame.ID, Type: "subscribed"})
}

// pump forwards a subscription's deliveries into the bounded outbound buffer.
// Overflow tears the session down rather than blocking the consumer.
func (b *bridge) pump(ctx context.Context, subID string, msgs <-chan model.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if err := b.send(messageFrame{ID: subID, Type: "message", Message: msg}); err != nil {
				b.overflow.Store(true)
				b.cancel()
				return
			}
		}
	}
}

func (b *bridge) handlePublish(ctx context.Context, frame controlFrame) error {
	if frame.Exchange == "" {
		return b.send(statusFrame{ID: frame.ID, Error: "missing_parameter"})
	}

	msg := request.PublishMessage{
		RoutingKey: frame.RoutingKey,
		Body:       frame.Body,
		Headers:    frame.Headers,
	}
	if err := msg.Validate(); err != nil {
		return b.send(statusFrame{ID: frame.ID, Error: "invalid_message"})
	}

	contentType, body, err := msg.Payload()
	if err != nil {
		return b.send(statusFrame{ID: frame.ID, Error: "invalid_message"})
	}

	headers := make(map[string]any, len(frame.Headers))
	for k, v := range frame.Headers {
		headers[k] = v
	}

	err = b.sess.Publish(ctx, frame.Exchange, frame.RoutingKey, broker.Publishing{
		ContentType: contentType,
		Headers:     headers,
		Body:        body,
	})
	if err != nil {
		log.Error().Err(err).Str("exchange", frame.Exchange).Msg("websocket publish")
		return b.send(statusFrame{ID: frame.ID, Error: "publish_failed"})
	}

	metrics.MessagesPublished.Inc()
	return b.send(statusFrame{ID: frame.ID, Type: "ok"})
}

func (b *bridge) handleUnsubscribe(frame controlFrame) error {
	sub, ok := b.subs.get(frame.ID)
	if !ok || sub.current() == stateClosed {
		return b.send(statusFrame{ID: frame.ID, Error: "unknown_subscription"})
	}

	if sub.current() == stateActive {
		if err := b.sess.Cancel(sub.tag); err != nil {
			log.Error().Err(err).Str("tag", sub.tag).Msg("cancel consumer")
		}
	}
	sub.close()
	b.subs.remove(frame.ID)

	return b.send(statusFrame{ID: frame.ID, Type: "unsubscribed"})
}

// send queues an outbound frame without ever blocking on the client.
func (b *bridge) send(frame any) error {
	select {
	case b.out <- frame:
		return nil
	default:
		return errOutboundFull
	}
}
