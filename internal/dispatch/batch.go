package dispatch

import "github.com/couchcryptid/fireguard-alerts/internal/domain"

// Batch is one fire alert and the user alerts created for it.
type Batch struct {
	Alert      domain.FireAlert
	UserAlerts []domain.UserAlert
}

// Empty reports whether the batch has nobody to notify.
func (b Batch) Empty() bool { return len(b.UserAlerts) == 0 }
