// Package main читает события биллинга из RabbitMQ и пишет их в лог.
// Служит примером потребителя для бэкендов мерчантов.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/magabrotheeeer/escrow-billing/internal/config"
	"github.com/magabrotheeeer/escrow-billing/internal/lib/sl"
	"github.com/magabrotheeeer/escrow-billing/internal/models"
	"github.com/magabrotheeeer/escrow-billing/internal/rabbitmq"
)

func main() {
	cfg := config.MustLoad()
	logger := sl.New(cfg.Env, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", sl.Err(err))
		os.Exit(1)
	}
	defer func() { _ = conn.Close() }()

	queues := rabbitmq.GetBillingQueues()
	ch, err := rabbitmq.SetupChannel(conn, cfg.Exchange, queues)
	if err != nil {
		logger.Error("failed to setup RabbitMQ channel", sl.Err(err))
		os.Exit(1)
	}
	defer func() { _ = ch.Close() }()

	handler := func(body []byte) error {
		var event models.Event
		if err := json.Unmarshal(body, &event); err != nil {
			// битое сообщение не вернётся в очередь бесконечно
			logger.Error("dropping malformed event", sl.Err(err))
			return nil
		}
		logger.Info("billing event",
			slog.String("kind", string(event.Kind)),
			slog.String("id", event.ID),
			sl.Key("subscriber", event.Subscriber),
			sl.Key("subscription", event.Subscription),
			slog.Uint64("amount", event.Amount),
			slog.Uint64("fee", event.Fee),
			slog.Int("failure_count", int(event.FailureCount)),
		)
		return nil
	}

	for _, q := range queues {
		if err := rabbitmq.ConsumerMessage(ctx, ch, q.QueueName, logger, handler); err != nil {
			logger.Error("failed to start consumer", slog.String("queue", q.QueueName), sl.Err(err))
			os.Exit(1)
		}
	}

	logger.Info("consuming billing events", slog.String("exchange", cfg.Exchange))
	<-ctx.Done()
	logger.Info("events consumer stopped")
}
