package pushnotification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/jarvishq/jarvis/internal/config"
	"github.com/jarvishq/jarvis/internal/pushsubscription"
	"github.com/jarvishq/jarvis/internal/task"
)

type NotificationPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// Sender fans a payload out to every registered browser subscription. When
// VAPID keys are not configured every send is a logged no-op, so push
// delivery never becomes a hard dependency.
type Sender struct {
	pushEnv *config.PushEnv
	repo    pushsubscription.Repository
}

func NewSender(pushEnv *config.PushEnv, repo pushsubscription.Repository) *Sender {
	return &Sender{
		pushEnv: pushEnv,
		repo:    repo,
	}
}

// NotifyTasksCreated announces remediation tasks spawned from reported
// issues.
func (s *Sender) NotifyTasksCreated(ctx context.Context, tasks []*task.Task) {
	if len(tasks) == 0 {
		return
	}
	body := tasks[0].Title
	if len(tasks) > 1 {
		body = fmt.Sprintf("%s and %d more", tasks[0].Title, len(tasks)-1)
	}
	s.SendToAll(ctx, &NotificationPayload{
		Title: fmt.Sprintf("%d new task(s) created from reported issues", len(tasks)),
		Body:  body,
		Tag:   "tasks-created",
	})
}

// NotifyIntervention announces that execution was paused by the recurring
// issue detector.
func (s *Sender) NotifyIntervention(ctx context.Context, label string, taskCount int) {
	s.SendToAll(ctx, &NotificationPayload{
		Title: "Execution paused",
		Body:  fmt.Sprintf("Recurring issue %q detected across %d tasks", label, taskCount),
		Tag:   "intervention",
	})
}

func (s *Sender) SendToAll(ctx context.Context, payload *NotificationPayload) {
	if s.pushEnv.VAPIDPrivateKey == "" || s.pushEnv.VAPIDPublicKey == "" {
		slog.Warn("push notification: VAPID keys not configured, skipping")
		return
	}

	subs, err := s.repo.List(ctx)
	if err != nil {
		slog.Error("push notification: failed to list subscriptions", "error", err)
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("push notification: failed to marshal payload", "error", err)
		return
	}

	for _, sub := range subs {
		s.sendToSubscription(ctx, sub, data)
	}
}

func (s *Sender) sendToSubscription(ctx context.Context, sub *pushsubscription.Subscription, data []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}

	resp, err := webpush.SendNotification(data, wpSub, &webpush.Options{
		VAPIDPublicKey:  s.pushEnv.VAPIDPublicKey,
		VAPIDPrivateKey: s.pushEnv.VAPIDPrivateKey,
		Subscriber:      s.pushEnv.VAPIDContact,
		TTL:             86400,
	})
	if err != nil {
		slog.Error("push notification: failed to send", "endpoint", sub.Endpoint, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		slog.Info("push notification: subscription expired, removing", "endpoint", sub.Endpoint)
		if err := s.repo.Delete(ctx, sub.ID); err != nil {
			slog.Error("push notification: failed to delete expired subscription", "id", sub.ID, "error", err)
		}
		return
	}

	if resp.StatusCode >= 400 {
		slog.Warn("push notification: unexpected status", "endpoint", sub.Endpoint, "status", resp.StatusCode)
	}
}
