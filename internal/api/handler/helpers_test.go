package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	mw "github.com/edvin/messaging/internal/api/middleware"
	"github.com/edvin/messaging/internal/core"
	"github.com/edvin/messaging/internal/crypto"
	"github.com/edvin/messaging/internal/model"
)

var testHashKey = []byte("handler-test-key")

// newRequestRaw creates a new HTTP request with a raw string body.
func newRequestRaw(method, target, body string) *http.Request {
	r := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

// withConnectIdentity injects an authenticated identity carrying the connect scope.
func withConnectIdentity(r *http.Request) *http.Request {
	identity := &mw.Identity{Token: &model.Token{
		ID:        "tok-test",
		AccountID: "acct-test",
		ClientID:  "client-test",
		Scopes:    []string{model.ScopeConnect},
	}}
	return r.WithContext(mw.WithIdentity(r.Context(), identity))
}

// decodeErrorResponse parses the JSON error response body into a map.
func decodeErrorResponse(rec *httptest.ResponseRecorder) map[string]string {
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	return body
}

// testCredentialService builds a real credential service over a mock DB.
func testCredentialService(db *handlerMockDB) *core.CredentialService {
	return core.NewCredentialService(db, testHashKey, time.Hour)
}

// storedCredentialRow returns a row scanner yielding a credential whose
// secret hashes from the given plaintext.
func storedCredentialRow(id, secret string, scopes []string, expireAt *time.Time, multiUse bool) *handlerMockRow {
	return &handlerMockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*string)) = id
		*(dest[1].(*string)) = crypto.TokenHash(testHashKey, secret)
		*(dest[2].(*string)) = "acct-test"
		*(dest[3].(*string)) = "client-test"
		*(dest[4].(**string)) = nil
		*(dest[5].(*time.Time)) = time.Now()
		*(dest[6].(**time.Time)) = expireAt
		*(dest[7].(*[]string)) = scopes
		*(dest[8].(*bool)) = multiUse
		*(dest[9].(*bool)) = false
		return nil
	}}
}
