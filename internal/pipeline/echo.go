// Package pipeline provides the reply pipelines the relay hands inbound
// messages to: Echo answers locally, Webhook forwards each message to a
// remote HTTP service and relays its replies.
package pipeline

import (
	"context"

	"whisplayim/internal/domain"
)

// Echo mirrors each inbound message back to the device. Useful for wiring
// checks before a real reply service is configured.
type Echo struct {
	Prefix string
}

func (e Echo) Reply(_ context.Context, msg domain.InboundMessage) ([]domain.ReplyPayload, error) {
	prefix := e.Prefix
	if prefix == "" {
		prefix = "echo: "
	}
	return []domain.ReplyPayload{{Text: prefix + msg.Text}}, nil
}
