package solana

import "context"

// WSClient defines Solana WebSocket subscription interface.
type WSClient interface {
	// SubscribeLogs subscribes to logs mentioning the filter addresses.
	SubscribeLogs(ctx context.Context, filter LogsFilter) (*Subscription, error)

	// UnsubscribeLogs cancels a subscription by its handle and closes its channel.
	UnsubscribeLogs(ctx context.Context, handle int64) error

	// Close closes the WebSocket connection.
	Close() error
}

// LogsFilter defines subscription filter for logs.
type LogsFilter struct {
	// Mentions filters logs that mention any of these addresses.
	Mentions []string
}

// Subscription is a live logs subscription.
// Handle is assigned by the client and stays stable across reconnects,
// unlike the server-side subscription id.
type Subscription struct {
	Handle int64
	C      <-chan LogNotification
}

// LogNotification represents a logs subscription message.
type LogNotification struct {
	Signature string
	Slot      int64
	Logs      []string
	Err       interface{}
}
