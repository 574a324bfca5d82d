package domain

import "strings"

// InboundMessage is one normalized message pulled from a device poll
// response. Immutable once constructed; lives for a single poll cycle.
// Account is filled in by the session that polled it, not the normalizer.
type InboundMessage struct {
	Text      string
	ID        string
	Timestamp string
	Peer      string
	Account   string
	Raw       map[string]any
}

// DedupeKey derives the identity key used by the seen-set. It joins the
// present parts among id, timestamp, and text; absent parts are omitted, so
// two messages lacking id and timestamp collide when their text matches.
func (m InboundMessage) DedupeKey() string {
	parts := make([]string, 0, 3)
	if m.ID != "" {
		parts = append(parts, "id:"+m.ID)
	}
	if m.Timestamp != "" {
		parts = append(parts, "ts:"+m.Timestamp)
	}
	parts = append(parts, "text:"+m.Text)
	return strings.Join(parts, "|")
}

// ReplyPayload is one reply produced by the pipeline for an inbound message.
type ReplyPayload struct {
	Text      string   `json:"text,omitempty"`
	MediaURL  string   `json:"mediaUrl,omitempty"`
	MediaURLs []string `json:"mediaUrls,omitempty"`
}

// Body flattens the payload to the single string sent to the device:
// text first, then mediaUrl, then the media list joined by newlines.
// Empty payloads flatten to "".
func (p ReplyPayload) Body() string {
	if s := strings.TrimSpace(p.Text); s != "" {
		return s
	}
	if s := strings.TrimSpace(p.MediaURL); s != "" {
		return s
	}
	urls := make([]string, 0, len(p.MediaURLs))
	for _, u := range p.MediaURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return strings.Join(urls, "\n")
}

// PairingAlert is one human-readable pairing notification extracted from the
// gateway log. Only the dedupe key outlives the scan that produced it.
type PairingAlert struct {
	DedupeKey string
	Message   string
}
