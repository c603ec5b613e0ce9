package broker

import (
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/edvin/messaging/internal/model"
)

// fromDelivery translates a broker delivery to the gateway message shape.
// JSON bodies are decoded; anything else passes through as text.
func fromDelivery(d amqp.Delivery) model.Message {
	headers := make(map[string]any, len(d.Headers))
	for k, v := range d.Headers {
		headers[k] = v
	}

	var body any
	if d.ContentType == "application/json" {
		if err := json.Unmarshal(d.Body, &body); err != nil {
			body = string(d.Body)
		}
	} else {
		body = string(d.Body)
	}

	var ts *time.Time
	if !d.Timestamp.IsZero() {
		t := d.Timestamp
		ts = &t
	}

	return model.Message{
		Headers:      headers,
		Body:         body,
		ContentType:  d.ContentType,
		ReplyTo:      d.ReplyTo,
		MessageID:    d.MessageId,
		Timestamp:    ts,
		RoutingKey:   d.RoutingKey,
		ExchangeName: d.Exchange,
	}
}
