package notify

import (
	"context"

	"github.com/gen2brain/beeep"
)

// Desktop shows OS notifications through beeep (libnotify/D-Bus, macOS
// Notification Center, Windows toast).
type Desktop struct {
	send func(title, message string) error
}

// NewDesktop returns a desktop notifier.
func NewDesktop() *Desktop {
	return &Desktop{
		send: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
	}
}

func (d *Desktop) Notify(ctx context.Context, msg Message) error {
	body := msg.Body
	if msg.Error != "" {
		body = msg.Error
	}
	return d.send(msg.Title, body)
}
