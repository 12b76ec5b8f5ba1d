package service

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	commonlog "unilink_server/server/common/log"
)

// Consumer pulls notification events off the queue and runs them through
// the processor on a bounded worker pool. Events that fail on
// infrastructure are requeued once; poison messages are dropped on the
// redelivery.
type Consumer struct {
	ch      *amqp.Channel
	queue   string
	workers int
	svc     *NotifyService

	wg sync.WaitGroup
}

func NewConsumer(ch *amqp.Channel, queue string, workers int, svc *NotifyService) *Consumer {
	if workers <= 0 {
		workers = 4
	}
	return &Consumer{ch: ch, queue: queue, workers: workers, svc: svc}
}

// Start begins consuming; it returns once the consume channel is
// established. Workers drain until the channel closes or the context ends.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.ch.Qos(c.workers*2, 0, false); err != nil {
		return err
	}
	deliveries, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.work(ctx, deliveries)
	}
	commonlog.Infof("event=notify_consumer action=start status=ok queue=%s workers=%d", c.queue, c.workers)
	return nil
}

// Wait blocks until every worker has drained.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) work(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			if err := c.svc.Process(ctx, d.Body); err != nil {
				commonlog.Errorf("event=notify_consumer action=process status=failed redelivered=%t error=%v", d.Redelivered, err)
				// one retry; a second failure drops the message
				_ = d.Nack(false, !d.Redelivered)
				continue
			}
			_ = d.Ack(false)
		}
	}
}
