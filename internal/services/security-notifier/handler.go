package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/NordCoder/Turnstile/internal/clock"
	domainauth "github.com/NordCoder/Turnstile/internal/domain/auth"
	"github.com/NordCoder/Turnstile/internal/domain/notification"
	"github.com/NordCoder/Turnstile/internal/domain/outbox"
	"github.com/NordCoder/Turnstile/internal/domain/user"
	"github.com/NordCoder/Turnstile/internal/obs"
)

var (
	mConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "security_notifier_events_consumed_total",
		Help: "Security events consumed by type.",
	}, []string{"type"})
	mSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "security_notifier_emails_sent_total",
		Help: "Emails sent.",
	})
	mSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "security_notifier_events_skipped_total",
		Help: "Events dropped without an email by reason.",
	}, []string{"reason"})
	mErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "security_notifier_errors_total",
		Help: "Events that failed and will be redelivered.",
	})
)

type Handler struct {
	Users user.Repo
	Store notification.Repo
	Out   notification.EmailSender
	Clock clock.Clock
	Log   *zap.Logger
}

// HandleSecurityEvent emails the affected principal once per event id.
func (h *Handler) HandleSecurityEvent(ctx context.Context, ev outbox.SecurityEvent) error {
	log := obs.WithTrace(ctx, h.Log).With(zap.String("event_id", ev.ID), zap.String("type", ev.Type))
	mConsumed.WithLabelValues(ev.Type).Inc()

	if ev.ID == "" || ev.UserID <= 0 {
		mSkipped.WithLabelValues("malformed").Inc()
		log.Warn("malformed security event", zap.Int64("user_id", ev.UserID))
		return nil
	}
	subject, body, ok := compose(ev)
	if !ok {
		mSkipped.WithLabelValues("unknown_type").Inc()
		log.Warn("unknown security event type")
		return nil
	}

	done, err := h.Store.Delivered(ctx, ev.ID)
	if err != nil {
		mErrors.Inc()
		return fmt.Errorf("check delivery: %w", err)
	}
	if done {
		mSkipped.WithLabelValues("duplicate").Inc()
		log.Debug("event already delivered")
		return nil
	}

	u, err := h.Users.GetByID(ctx, ev.UserID)
	if errors.Is(err, domainauth.ErrNotFound) {
		mSkipped.WithLabelValues("unknown_user").Inc()
		log.Warn("security event for unknown user", zap.Int64("user_id", ev.UserID))
		return nil
	}
	if err != nil {
		mErrors.Inc()
		return fmt.Errorf("get user: %w", err)
	}

	if err := h.Out.Send(ctx, u.Email, subject, body); err != nil {
		mErrors.Inc()
		return fmt.Errorf("send email: %w", err)
	}
	mSent.Inc()

	if err := h.Store.Create(ctx, &notification.Notification{
		EventID: ev.ID,
		UserID:  u.ID,
		Type:    "email",
		SentAt:  h.Clock.Now().UTC(),
		Payload: body,
	}); err != nil {
		// the mail is out; a redelivery would only duplicate it
		log.Error("record notification", zap.Error(err))
	}
	log.Info("security notification sent", zap.Int64("user_id", u.ID))
	return nil
}

func compose(ev outbox.SecurityEvent) (string, string, bool) {
	at := ev.At.UTC().Format(time.RFC3339)
	switch ev.Type {
	case outbox.KindReuseDetected.String():
		return "Suspicious sign-in activity",
			fmt.Sprintf("Hello!\n\nA session token of your account was used again after it had been replaced (%s).\n"+
				"We signed out %d active session(s). If this was not you, change your password.\n\nTurnstile", at, ev.Revoked), true
	case outbox.KindSessionsRevoked.String():
		return "You were signed out",
			fmt.Sprintf("Hello!\n\n%d session(s) of your account were signed out at %s (reason: %s).\n\nTurnstile", ev.Revoked, at, ev.Reason), true
	case outbox.KindPasswordChanged.String():
		return "Your password was changed",
			fmt.Sprintf("Hello!\n\nThe password of your account was changed at %s. %d session(s) were signed out.\n"+
				"If this was not you, contact support immediately.\n\nTurnstile", at, ev.Revoked), true
	default:
		return "", "", false
	}
}
