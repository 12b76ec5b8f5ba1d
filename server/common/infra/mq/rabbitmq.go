package mq

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// NotificationExchange is the topic exchange carrying notification events
// from the chat service (and any future producer) to the notification
// service. Routing keys are "notify.<type>".
const NotificationExchange = "unilink.notifications"

func NewConnection(url string) (*amqp.Connection, error) {
	return amqp.Dial(url)
}

// DeclareNotificationExchange opens a channel with the exchange declared,
// ready for publishing.
func DeclareNotificationExchange(conn *amqp.Connection) (*amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(NotificationExchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

// DeclareNotificationQueue binds a durable queue to the notification
// exchange for all notify.* routing keys and returns it for consuming.
func DeclareNotificationQueue(conn *amqp.Connection, queueName string) (*amqp.Channel, amqp.Queue, error) {
	ch, err := DeclareNotificationExchange(conn)
	if err != nil {
		return nil, amqp.Queue{}, err
	}
	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, amqp.Queue{}, err
	}
	if err := ch.QueueBind(q.Name, "notify.*", NotificationExchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, amqp.Queue{}, err
	}
	return ch, q, nil
}
