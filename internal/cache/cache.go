package cache

import (
	"context"
	"time"
)

// ReceiptCache remembers the last successful dispatch per phone.
type ReceiptCache interface {
	StoreSent(ctx context.Context, phone, remoteMessageID, source string, sentAt time.Time) error
	LastSent(ctx context.Context, phone string) (Receipt, bool, error)
}
