package model

import "time"

// Message is a broker message translated to the gateway's JSON shape. Body is
// the JSON-decoded value when the content type is application/json, otherwise
// the decoded text.
type Message struct {
	Headers      map[string]any `json:"headers"`
	Body         any            `json:"body"`
	ContentType  string         `json:"content_type"`
	ReplyTo      string         `json:"reply_to"`
	MessageID    string         `json:"message_id"`
	Timestamp    *time.Time     `json:"timestamp"`
	RoutingKey   string         `json:"routing_key"`
	ExchangeName string         `json:"exchange_name"`
}
