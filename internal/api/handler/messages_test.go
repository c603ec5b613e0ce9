package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/messaging/internal/broker"
	"github.com/edvin/messaging/internal/model"
)

func newMessagesHandler(db *handlerMockDB, dialer *mockDialer) *Messages {
	return NewMessages(testCredentialService(db), dialer, time.Second)
}

// expectIssue sets up the credential insert performed by openSession.
func expectIssue(db *handlerMockDB) {
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)
}

func TestMessagesGet_MissingQueue(t *testing.T) {
	h := newMessagesHandler(&handlerMockDB{}, &mockDialer{})

	rec := httptest.NewRecorder()
	h.Get(rec, withConnectIdentity(httptest.NewRequest(http.MethodGet, "/messaging/get", nil)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_parameter", decodeErrorResponse(rec)["error"])
}

func TestMessagesGet_BadCount(t *testing.T) {
	h := newMessagesHandler(&handlerMockDB{}, &mockDialer{})

	for _, count := range []string{"abc", "0", "-3"} {
		rec := httptest.NewRecorder()
		h.Get(rec, withConnectIdentity(httptest.NewRequest(http.MethodGet, "/messaging/get?queue=jobs&count="+count, nil)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, count)
		assert.Equal(t, "bad_parameter", decodeErrorResponse(rec)["error"])
	}
}

func TestMessagesGet_Success(t *testing.T) {
	db := &handlerMockDB{}
	dialer := &mockDialer{}
	sess := &mockSession{}
	h := newMessagesHandler(db, dialer)

	expectIssue(db)
	dialer.On("Dial", mock.Anything, mock.Anything, mock.Anything).Return(sess, nil)

	sess.On("DeclareQueue", "jobs").Return(nil)
	first := &model.Message{Body: "one", ContentType: "text/plain", RoutingKey: "jobs"}
	second := &model.Message{Body: map[string]any{"n": float64(2)}, ContentType: "application/json", RoutingKey: "jobs"}
	sess.On("Get", "jobs").Return(first, true, nil).Once()
	sess.On("Get", "jobs").Return(second, true, nil).Once()
	sess.On("Get", "jobs").Return(nil, false, nil).Once()
	sess.On("Close").Return(nil)

	rec := httptest.NewRecorder()
	h.Get(rec, withConnectIdentity(httptest.NewRequest(http.MethodGet, "/messaging/get?queue=jobs", nil)))

	require.Equal(t, http.StatusOK, rec.Code)

	var msgs []model.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Body)
	assert.Equal(t, "application/json", msgs[1].ContentType)

	sess.AssertExpectations(t)
}

func TestMessagesGet_CountLimit(t *testing.T) {
	db := &handlerMockDB{}
	dialer := &mockDialer{}
	sess := &mockSession{}
	h := newMessagesHandler(db, dialer)

	expectIssue(db)
	dialer.On("Dial", mock.Anything, mock.Anything, mock.Anything).Return(sess, nil)

	sess.On("DeclareQueue", "jobs").Return(nil)
	sess.On("Get", "jobs").Return(&model.Message{Body: "only"}, true, nil).Once()
	sess.On("Close").Return(nil)

	rec := httptest.NewRecorder()
	h.Get(rec, withConnectIdentity(httptest.NewRequest(http.MethodGet, "/messaging/get?queue=jobs&count=1", nil)))

	require.Equal(t, http.StatusOK, rec.Code)

	var msgs []model.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	assert.Len(t, msgs, 1)

	// No second Get: the count bound stops the drain.
	sess.AssertExpectations(t)
}

func TestMessagesGet_DialFailure(t *testing.T) {
	db := &handlerMockDB{}
	dialer := &mockDialer{}
	h := newMessagesHandler(db, dialer)

	expectIssue(db)
	dialer.On("Dial", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("connection refused"))

	rec := httptest.NewRecorder()
	h.Get(rec, withConnectIdentity(httptest.NewRequest(http.MethodGet, "/messaging/get?queue=jobs", nil)))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "broker_unavailable", decodeErrorResponse(rec)["error"])
}

func TestMessagesGet_DeclareFailure(t *testing.T) {
	db := &handlerMockDB{}
	dialer := &mockDialer{}
	sess := &mockSession{}
	h := newMessagesHandler(db, dialer)

	expectIssue(db)
	dialer.On("Dial", mock.Anything, mock.Anything, mock.Anything).Return(sess, nil)
	sess.On("DeclareQueue", "jobs").Return(errors.New("channel closed"))
	sess.On("Close").Return(nil)

	rec := httptest.NewRecorder()
	h.Get(rec, withConnectIdentity(httptest.NewRequest(http.MethodGet, "/messaging/get?queue=jobs", nil)))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "broker_error", decodeErrorResponse(rec)["error"])
}

func TestMessagesPublish_MissingExchange(t *testing.T) {
	h := newMessagesHandler(&handlerMockDB{}, &mockDialer{})

	rec := httptest.NewRecorder()
	r := withConnectIdentity(newRequestRaw(http.MethodPost, "/messaging/publish", `[]`))
	h.Publish(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_parameter", decodeErrorResponse(rec)["error"])
}

func TestMessagesPublish_EmptyBatch(t *testing.T) {
	h := newMessagesHandler(&handlerMockDB{}, &mockDialer{})

	rec := httptest.NewRecorder()
	r := withConnectIdentity(newRequestRaw(http.MethodPost, "/messaging/publish?exchange=events", `[]`))
	h.Publish(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeErrorResponse(rec)["error"])
}

func TestMessagesPublish_InvalidBody(t *testing.T) {
	h := newMessagesHandler(&handlerMockDB{}, &mockDialer{})

	rec := httptest.NewRecorder()
	r := withConnectIdentity(newRequestRaw(http.MethodPost, "/messaging/publish?exchange=events",
		`[{"routing_key":"a.b","body":[1,2]}]`))
	h.Publish(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessagesPublish_Success(t *testing.T) {
	db := &handlerMockDB{}
	dialer := &mockDialer{}
	sess := &mockSession{}
	h := newMessagesHandler(db, dialer)

	expectIssue(db)
	dialer.On("Dial", mock.Anything, mock.Anything, mock.Anything).Return(sess, nil)

	sess.On("Publish", mock.Anything, "events", "job.created", mock.MatchedBy(func(p broker.Publishing) bool {
		return p.ContentType == "application/json" && string(p.Body) == `{"n":1}`
	})).Return(nil).Once()
	sess.On("Publish", mock.Anything, "events", "job.log", mock.MatchedBy(func(p broker.Publishing) bool {
		return p.ContentType == "text/plain" && string(p.Body) == "hello" && p.Headers["origin"] == "test"
	})).Return(nil).Once()
	sess.On("Close").Return(nil)

	body := `[
		{"routing_key":"job.created","body":{"n":1}},
		{"routing_key":"job.log","body":"hello","headers":{"origin":"test"}}
	]`
	rec := httptest.NewRecorder()
	h.Publish(rec, withConnectIdentity(newRequestRaw(http.MethodPost, "/messaging/publish?exchange=events", body)))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	sess.AssertExpectations(t)
}

func TestMessagesPublish_BrokerFailureMidBatch(t *testing.T) {
	db := &handlerMockDB{}
	dialer := &mockDialer{}
	sess := &mockSession{}
	h := newMessagesHandler(db, dialer)

	expectIssue(db)
	dialer.On("Dial", mock.Anything, mock.Anything, mock.Anything).Return(sess, nil)

	sess.On("Publish", mock.Anything, "events", "a", mock.Anything).Return(nil).Once()
	sess.On("Publish", mock.Anything, "events", "b", mock.Anything).
		Return(errors.New("channel gone")).Once()
	sess.On("Close").Return(nil)

	body := `[
		{"routing_key":"a","body":"first"},
		{"routing_key":"b","body":"second"}
	]`
	rec := httptest.NewRecorder()
	h.Publish(rec, withConnectIdentity(newRequestRaw(http.MethodPost, "/messaging/publish?exchange=events", body)))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "broker_error", decodeErrorResponse(rec)["error"])
}
