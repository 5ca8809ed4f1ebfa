package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"unicode/utf8"

	"sangam/internal/metrics"
	"sangam/internal/models"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog/log"
)

const (
	defaultTTL     = 60 * 60 * 24
	maxPreviewLen  = 120
	outcomeSent    = "sent"
	outcomeGone    = "gone"
	outcomeFailure = "failure"
)

var ErrSubscriptionGone = errors.New("push subscription expired")

type Config struct {
	PublicKey  string
	PrivateKey string
	// Subject is a mailto: or https: contact for the push service.
	Subject string
	// HTTPClient overrides the client used to reach push services.
	HTTPClient webpush.HTTPClient
}

// SubscriptionStore forgets subscriptions the push service rejected.
type SubscriptionStore interface {
	SetPushSubscription(userID string, sub *models.PushSubscription) error
}

// Payload is the JSON document delivered to the service worker.
type Payload struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId"`
	SenderID  string `json:"senderId"`
	Icon      string `json:"icon,omitempty"`
}

// Notifier sends web push notifications about messages to users that are
// not connected.
type Notifier struct {
	cfg  Config
	subs SubscriptionStore
}

func NewNotifier(cfg Config, subs SubscriptionStore) *Notifier {
	return &Notifier{cfg: cfg, subs: subs}
}

func (n *Notifier) NotifyMessage(ctx context.Context, receiver models.User, msg models.Message, sender models.SenderInfo) error {
	if receiver.PushSubscription == nil {
		return nil
	}

	payload, err := json.Marshal(Payload{
		Title:     sender.Username,
		Body:      preview(msg),
		MessageID: msg.ID,
		RoomID:    msg.ConversationID,
		SenderID:  msg.SenderID,
		Icon:      sender.PhotoURL,
	})
	if err != nil {
		return err
	}

	err = n.send(ctx, receiver.PushSubscription, payload)
	switch {
	case err == nil:
		metrics.PushSent.WithLabelValues(outcomeSent).Inc()
		return nil
	case errors.Is(err, ErrSubscriptionGone):
		metrics.PushSent.WithLabelValues(outcomeGone).Inc()
		log.Info().Str("user_id", receiver.ID).Msg("dropping expired push subscription")
		if err := n.subs.SetPushSubscription(receiver.ID, nil); err != nil {
			log.Error().Err(err).Str("user_id", receiver.ID).Msg("failed to drop push subscription")
		}
		return err
	default:
		metrics.PushSent.WithLabelValues(outcomeFailure).Inc()
		return err
	}
}

func (n *Notifier) send(ctx context.Context, sub *models.PushSubscription, payload []byte) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      n.cfg.HTTPClient,
		Subscriber:      n.cfg.Subject,
		VAPIDPublicKey:  n.cfg.PublicKey,
		VAPIDPrivateKey: n.cfg.PrivateKey,
		TTL:             defaultTTL,
		Urgency:         webpush.UrgencyHigh,
	})
	if err != nil {
		return fmt.Errorf("send push notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		return ErrSubscriptionGone
	case resp.StatusCode >= 300:
		return fmt.Errorf("push service responded with %s", resp.Status)
	}
	return nil
}

func preview(msg models.Message) string {
	switch msg.Type {
	case models.MessageTypeImage:
		return "Sent a photo"
	case models.MessageTypeAudio:
		return "Sent a voice message"
	case models.MessageTypeFile:
		if msg.FileName != "" {
			return "Sent a file: " + msg.FileName
		}
		return "Sent a file"
	}

	if utf8.RuneCountInString(msg.Body) <= maxPreviewLen {
		return msg.Body
	}
	runes := []rune(msg.Body)
	return string(runes[:maxPreviewLen]) + "…"
}
