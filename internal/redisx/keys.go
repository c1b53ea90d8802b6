package redisx

import (
	"fmt"
	"time"
)

const (
	// Checkout idempotency: idem:order:create:{customer_id}:{key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s:%s"

	// Cached order snapshot: order:{order_id} -> order JSON
	KeyOrder = "order:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Admin notification queue: notify:admin:{admin_id} -> list, head = newest
	KeyAdminNotifications = "notify:admin:%s"

	// Pub/sub channel relaying push events between API instances.
	ChannelPush = "push:admin"
)

var (
	TTLIdempotency   = 24 * time.Hour
	TTLOrderCache    = 5 * time.Minute
	TTLDedup         = 48 * time.Hour
	TTLNotifications = 7 * 24 * time.Hour
)

func IdemOrderCreate(customerID, key string) string {
	return fmt.Sprintf(KeyIdemOrderCreate, customerID, key)
}

func Order(id string) string { return fmt.Sprintf(KeyOrder, id) }

func Dedup(service, id string) string { return fmt.Sprintf(KeyDedup, service, id) }

func AdminNotifications(adminID string) string { return fmt.Sprintf(KeyAdminNotifications, adminID) }
