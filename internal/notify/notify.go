// Package notify delivers best-effort web push notifications to members who
// are mentioned while offline. Failures are logged, never surfaced.
package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"

	webpush "github.com/SherClockHolmes/webpush-go"

	"palaver/internal/models"
)

type Notifier struct {
	vapidPublic  string
	vapidPrivate string
	subscriber   string
}

func New(vapidPublic, vapidPrivate, subscriber string) *Notifier {
	return &Notifier{
		vapidPublic:  vapidPublic,
		vapidPrivate: vapidPrivate,
		subscriber:   subscriber,
	}
}

// Enabled reports whether VAPID keys are configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.vapidPublic != "" && n.vapidPrivate != ""
}

type payload struct {
	RoomID  string `json:"roomId"`
	Sender  string `json:"sender"`
	Preview string `json:"preview"`
}

// Push sends a notification to one user's registered subscription.
func (n *Notifier) Push(user models.User, roomID, sender, preview string) error {
	if !n.Enabled() || user.PushSubscription == "" {
		return nil
	}

	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(user.PushSubscription), &sub); err != nil {
		return fmt.Errorf("bad push subscription for user %s: %w", user.ID, err)
	}

	body, err := json.Marshal(payload{RoomID: roomID, Sender: sender, Preview: preview})
	if err != nil {
		return err
	}

	resp, err := webpush.SendNotification(body, &sub, &webpush.Options{
		Subscriber:      n.subscriber,
		VAPIDPublicKey:  n.vapidPublic,
		VAPIDPrivateKey: n.vapidPrivate,
		TTL:             60,
	})
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("push rejected with status %d", resp.StatusCode)
	}
	slog.Debug("push delivered", "user_id", user.ID, "room_id", roomID)
	return nil
}
