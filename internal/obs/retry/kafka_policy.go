package retry

import (
	"time"

	"go.uber.org/zap"
)

// DefaultKafkaPolicy retries security-event publishing with exponential
// backoff. Permanent errors and cancellation end it early.
func DefaultKafkaPolicy(log *zap.Logger) Policy {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "retry.kafka"))
	return Policy{
		Name:     "kafka_publish",
		Attempts: 6,
		Backoff:  ExpoJitter{Base: 200 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.2},
		OnAttempt: func(i int, err error) {
			log.Warn("publish attempt failed", zap.Int("attempt", i+1), zap.Error(err))
		},
		OnExhaust: func(err error) {
			if IsPermanent(err) {
				log.Error("publish rejected", zap.Error(err))
				return
			}
			log.Error("publish retries exhausted", zap.Error(err))
		},
	}
}
