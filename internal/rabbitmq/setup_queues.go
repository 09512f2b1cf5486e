package rabbitmq

import "github.com/magabrotheeeer/escrow-billing/internal/models"

// QueueConfig очередь и ключи маршрутизации, с которыми она привязана к exchange.
type QueueConfig struct {
	QueueName   string
	RoutingKeys []string
}

// GetBillingQueues очереди событий биллинга. Ключ маршрутизации совпадает
// с типом события.
func GetBillingQueues() []QueueConfig {
	return []QueueConfig{
		{
			QueueName: "billing.charges",
			RoutingKeys: []string{
				string(models.EventCharged),
				string(models.EventChargeFailed),
			},
		},
		{
			QueueName: "billing.lifecycle",
			RoutingKeys: []string{
				string(models.EventSubscribed),
				string(models.EventSubscriptionFailed),
				string(models.EventSubscriptionCancelled),
				string(models.EventVaultClosed),
			},
		},
	}
}
