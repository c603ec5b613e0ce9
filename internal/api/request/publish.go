package request

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// PublishMessage is one element of a publish batch. Body is either a JSON
// string or a JSON object; anything else is rejected.
type PublishMessage struct {
	RoutingKey string            `json:"routing_key" validate:"required"`
	Body       json.RawMessage   `json:"body" validate:"required"`
	Headers    map[string]string `json:"headers"`
}

// DecodePublishBatch decodes and validates a publish request body: a
// non-empty array of messages, each with a routing key and a string-or-object
// body.
func DecodePublishBatch(body io.Reader) ([]PublishMessage, error) {
	var batch []PublishMessage
	if err := json.NewDecoder(body).Decode(&batch); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if len(batch) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}

	for i := range batch {
		if err := batch[i].Validate(); err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
	}
	return batch, nil
}

// Validate checks the message against the publish schema.
func (m *PublishMessage) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	trimmed := bytes.TrimSpace(m.Body)
	if len(trimmed) == 0 {
		return fmt.Errorf("body must be a string or an object")
	}
	switch trimmed[0] {
	case '"', '{':
		return nil
	}
	return fmt.Errorf("body must be a string or an object")
}

// Payload returns the wire content type and bytes for the message body:
// objects go out as application/json, strings as text/plain.
func (m *PublishMessage) Payload() (contentType string, body []byte, err error) {
	trimmed := bytes.TrimSpace(m.Body)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(m.Body, &s); err != nil {
			return "", nil, fmt.Errorf("decode body string: %w", err)
		}
		return "text/plain", []byte(s), nil
	}
	return "application/json", trimmed, nil
}
