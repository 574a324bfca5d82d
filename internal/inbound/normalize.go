// Package inbound maps the device's heterogeneous poll payload shapes into
// uniform InboundMessage records.
package inbound

import (
	"strconv"
	"strings"

	"whisplayim/internal/domain"
)

// PlaceholderPeer identifies the sender when the payload names none.
const PlaceholderPeer = "whisplay-user"

// peerFields are the accepted sender/session identifier names, highest
// priority first. Item-level fields win over top-level ones.
var peerFields = []string{"senderId", "sender", "from", "peerId", "peer", "userId", "user", "deviceId"}

// Normalize converts one poll payload into an ordered message sequence.
//
// A payload carrying a non-empty "messages" list has every item processed in
// order; items whose text trims to empty are silently dropped. Without such a
// list, a non-empty scalar "message" field yields exactly one record. Neither
// shape, or nothing but empty text, yields an empty slice: the documented
// "no message available" case, not an error.
func Normalize(payload map[string]any) []domain.InboundMessage {
	if len(payload) == 0 {
		return nil
	}

	if items, ok := payload["messages"].([]any); ok && len(items) > 0 {
		out := make([]domain.InboundMessage, 0, len(items))
		for _, item := range items {
			if msg, ok := normalizeItem(item, payload); ok {
				out = append(out, msg)
			}
		}
		return out
	}

	text := strings.TrimSpace(stringField(payload, "message"))
	if text == "" {
		return nil
	}
	return []domain.InboundMessage{{
		Text:      text,
		ID:        stringField(payload, "id"),
		Timestamp: stringField(payload, "timestamp"),
		Peer:      resolvePeer(payload, nil),
		Raw:       payload,
	}}
}

// normalizeItem handles one entry of the messages list. Map items read text
// from content then message; bare string items are the text itself.
func normalizeItem(item any, payload map[string]any) (domain.InboundMessage, bool) {
	switch v := item.(type) {
	case map[string]any:
		text := strings.TrimSpace(stringField(v, "content"))
		if text == "" {
			text = strings.TrimSpace(stringField(v, "message"))
		}
		if text == "" {
			return domain.InboundMessage{}, false
		}
		return domain.InboundMessage{
			Text:      text,
			ID:        stringField(v, "id"),
			Timestamp: stringField(v, "timestamp"),
			Peer:      resolvePeer(v, payload),
			Raw:       v,
		}, true
	case string:
		text := strings.TrimSpace(v)
		if text == "" {
			return domain.InboundMessage{}, false
		}
		return domain.InboundMessage{
			Text: text,
			Peer: resolvePeer(nil, payload),
			Raw:  map[string]any{"text": text},
		}, true
	default:
		return domain.InboundMessage{}, false
	}
}

// resolvePeer picks the first non-empty candidate field, item level before
// payload level, falling back to the fixed placeholder.
func resolvePeer(item, payload map[string]any) string {
	for _, scope := range []map[string]any{item, payload} {
		if scope == nil {
			continue
		}
		for _, field := range peerFields {
			if v := strings.TrimSpace(stringField(scope, field)); v != "" {
				return v
			}
		}
	}
	return PlaceholderPeer
}

// stringField reads a field tolerantly: strings pass through, JSON numbers
// are rendered in decimal, everything else reads as absent.
func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}
