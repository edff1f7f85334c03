package notifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/NordCoder/Turnstile/internal/domain/outbox"
	kafkax "github.com/NordCoder/Turnstile/internal/repository/kafka"
)

type Controller struct {
	Log *zap.Logger
	Sub *kafkax.Consumer
	UC  *Handler
}

func (c *Controller) Run(ctx context.Context) error {
	return c.Sub.Consume(ctx, c.Handler())
}

func (c *Controller) Handler() kafkax.Handler {
	return kafkax.JSONHandler(func(ctx context.Context, _ []byte, ev *outbox.SecurityEvent) error {
		return c.UC.HandleSecurityEvent(ctx, *ev)
	})
}
