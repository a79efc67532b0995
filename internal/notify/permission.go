package notify

import "context"

// Permission is the page's system-notification permission.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// ParsePermission validates a permission reported by the page.
func ParsePermission(v string) (Permission, bool) {
	switch p := Permission(v); p {
	case PermissionDefault, PermissionGranted, PermissionDenied:
		return p, true
	}
	return "", false
}

// PermissionBroker asks the user for notification permission and blocks
// until they answer or ctx ends.
type PermissionBroker interface {
	RequestPermission(ctx context.Context) (Permission, error)
}
