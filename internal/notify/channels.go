package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Channel is one independent delivery path for notifications.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, n Notification) error
}

// StoreChannel records the notification in every admin's queue.
type StoreChannel struct {
	Store  Store
	Admins AdminDirectory
}

func (StoreChannel) Name() string { return "store" }

func (c StoreChannel) Deliver(ctx context.Context, n Notification) error {
	ids, err := c.Admins.AdminIDs(ctx)
	if err != nil {
		return fmt.Errorf("resolve admins: %w", err)
	}
	var errs []error
	for _, id := range ids {
		if err := c.Store.Insert(ctx, id, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Broadcaster sends one encoded event to every connected subscriber.
type Broadcaster interface {
	Broadcast(ctx context.Context, event []byte) error
}

const EventNewOrder = "new_order"

// PushEvent is the frame subscribers receive.
type PushEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// EncodePush renders the push frame for n.
func EncodePush(n Notification) ([]byte, error) {
	switch n.Kind {
	case KindNewOrder:
		if n.NewOrder == nil {
			return nil, fmt.Errorf("%s notification without payload", n.Kind)
		}
		return json.Marshal(PushEvent{Event: EventNewOrder, Data: n.NewOrder})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, n.Kind)
	}
}

// PushChannel forwards notifications to live subscribers. Nothing is kept
// for subscribers that connect later.
type PushChannel struct {
	Broadcaster Broadcaster
}

func (PushChannel) Name() string { return "push" }

func (c PushChannel) Deliver(ctx context.Context, n Notification) error {
	b, err := EncodePush(n)
	if err != nil {
		return err
	}
	return c.Broadcaster.Broadcast(ctx, b)
}
