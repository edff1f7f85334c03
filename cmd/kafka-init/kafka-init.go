package main

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/NordCoder/Turnstile/internal/repository/kafka"
)

func main() {
	brokers := pflag.StringSlice("brokers", []string{"kafka:9092"}, "kafka bootstrap brokers")
	topics := pflag.StringSlice("topics", []string{"turnstile.security.events"}, "topics to create")
	partitions := pflag.Int("partitions", 3, "partitions per topic")
	rf := pflag.Int("replication-factor", 1, "replication factor")
	timeout := pflag.Duration("timeout", 60*time.Second, "overall deadline")
	pflag.Parse()

	l, _ := zap.NewProduction()
	defer func() { _ = l.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	for _, t := range *topics {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		spec := kafka.TopicSpec{Name: t, NumPartitions: *partitions, ReplicationFactor: *rf, MaxWait: 10 * time.Second}
		if err := kafka.EnsureTopic(ctx, *brokers, spec, l); err != nil {
			l.Fatal("ensure topic", zap.String("topic", t), zap.Error(err))
		}
		l.Info("topic ready", zap.String("topic", t))
	}
}
