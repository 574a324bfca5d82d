package domain

import "context"

// Bridge is the host-facing plugin surface. The host resolves accounts,
// pushes outbound text, starts long-running sessions, and inspects status
// through this interface only; it never sees the relay internals.
type Bridge interface {
	Name() string
	ResolveAccount(accountID string) (Account, error)
	ListAccounts() []string
	SendText(ctx context.Context, accountID, text string) error
	StartSession(ctx context.Context, accountID string) error
	ReportStatus(accountID string) RuntimeStatus
}

// ReplyPipeline generates replies for inbound messages. Implemented by the
// host (or by internal/pipeline for standalone runs); the relay only consumes
// it. Zero payloads means "nothing to say" and is not an error.
type ReplyPipeline interface {
	Reply(ctx context.Context, msg InboundMessage) ([]ReplyPayload, error)
}
