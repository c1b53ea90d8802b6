package notify

import "context"

// AdminDirectory resolves which admins receive stored notifications.
type AdminDirectory interface {
	AdminIDs(ctx context.Context) ([]string, error)
}

// StaticDirectory is a fixed admin list, typically from configuration.
type StaticDirectory []string

func (d StaticDirectory) AdminIDs(context.Context) ([]string, error) {
	return append([]string(nil), d...), nil
}
