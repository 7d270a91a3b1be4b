package rabbitmq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/getAlby/sweephub.go/db/models"
	"github.com/getsentry/sentry-go"
	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/ziflex/lecho/v3"
)

// bufPool is a classic buffer pool pattern that allows more clever reuse of heap memory.
// Instead of allocating new memory everytime we need to encode the invoices we
// reuse buffers from this buffer pool. If we consume events sequentially there will
// only be one buffer in this pool at all times, but when scaling to multiple go
// routines this memory pool will scale with it.
var bufPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

const (
	contentTypeJSON = "application/json"

	paidInvoiceRoutingKey = "invoice.paid"
)

type (
	// PaidInvoiceHandler runs the sweep for one delivered paid invoice.
	// Deliveries are at-least-once; the handler must be idempotent.
	PaidInvoiceHandler = func(ctx context.Context, invoice *models.Invoice) error
	// SubscribeToInvoicesFunc yields the stream of invoice state changes
	// to publish.
	SubscribeToInvoicesFunc = func() (chan models.Invoice, error)
	EncodeInvoiceFunc       = func(ctx context.Context, w io.Writer, invoice models.Invoice) error
)

type Client interface {
	// SubscribeToPaidInvoices consumes paid-invoice events and feeds
	// them to the handler. Failed handler runs are requeued so the sweep
	// gets redelivered.
	SubscribeToPaidInvoices(context.Context, PaidInvoiceHandler) error
	StartPublishInvoices(context.Context, SubscribeToInvoicesFunc, EncodeInvoiceFunc) error
	// Close will close all connections to rabbitmq
	Close() error
}

type DefaultClient struct {
	conn *amqp.Connection

	// It is recommended that, when possible, publishers and consumers
	// use separate connections so that consumers are isolated from potential
	// flow control measures that may be applied to publishing connections.
	consumeChannel *amqp.Channel
	publishChannel *amqp.Channel

	logger *lecho.Logger

	invoiceExchange        string
	sweepConsumerQueueName string
}

type ClientOption = func(client *DefaultClient)

func WithInvoiceExchange(exchange string) ClientOption {
	return func(client *DefaultClient) {
		client.invoiceExchange = exchange
	}
}

func WithSweepConsumerQueueName(name string) ClientOption {
	return func(client *DefaultClient) {
		client.sweepConsumerQueueName = name
	}
}

func WithLogger(logger *lecho.Logger) ClientOption {
	return func(client *DefaultClient) {
		client.logger = logger
	}
}

// Dial sets up a connection to rabbitmq with two channels that are ready to produce and consume
func Dial(uri string, options ...ClientOption) (Client, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, err
	}

	consumeChannel, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	produceChannel, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	client := &DefaultClient{
		conn: conn,

		consumeChannel: consumeChannel,
		publishChannel: produceChannel,

		logger: lecho.New(
			os.Stdout,
			lecho.WithLevel(log.DEBUG),
			lecho.WithTimestamp(),
		),

		invoiceExchange:        "sweephub_invoice",
		sweepConsumerQueueName: "sweephub_sweep_consumer",
	}

	for _, opt := range options {
		opt(client)
	}

	return client, nil
}

func (client *DefaultClient) Close() error { return client.conn.Close() }

func (client *DefaultClient) SubscribeToPaidInvoices(ctx context.Context, handler PaidInvoiceHandler) error {
	err := client.declareInvoiceExchange()
	if err != nil {
		return err
	}

	queue, err := client.consumeChannel.QueueDeclare(
		client.sweepConsumerQueueName,
		// Durable and Non-Auto-Deleted queues will survive server restarts and remain
		// declared when there are no remaining bindings.
		true,
		false,
		// Non-Exclusive means other consumers can consume from this queue.
		// Messages from queues are spread out and load balanced between consumers.
		false,
		// Nowait: We set this to false as we want to wait for a server response
		// to check whether the queue was created successfully
		false,
		nil,
	)
	if err != nil {
		return err
	}

	err = client.consumeChannel.QueueBind(
		queue.Name,
		paidInvoiceRoutingKey,
		client.invoiceExchange,
		// Nowait: We set this to false as we want to wait for a server response
		// to check whether the queue was created successfully
		false,
		nil,
	)
	if err != nil {
		return err
	}

	deliveryChan, err := client.consumeChannel.Consume(
		queue.Name,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	client.logger.Info("Starting RabbitMQ sweep consumer loop")
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case delivery, ok := <-deliveryChan:
			if !ok {
				return fmt.Errorf("Disconnected from RabbitMQ")
			}
			var invoice models.Invoice

			err := json.Unmarshal(delivery.Body, &invoice)
			if err != nil {
				captureErr(client.logger, err)

				// If we can't even Unmarshall the message we are dealing with
				// badly formatted events. In that case we simply Nack the message
				// and explicitly do not requeue it.
				err = delivery.Nack(false, false)
				if err != nil {
					captureErr(client.logger, err)
				}

				continue
			}

			err = handler(ctx, &invoice)
			if err != nil {
				captureErr(client.logger, err)

				// The invoice record stays paid, so requeueing is safe:
				// the handler re-checks chain state on every delivery.
				err := delivery.Nack(false, true)
				if err != nil {
					captureErr(client.logger, err)
				}

				continue
			}

			err = delivery.Ack(false)
			if err != nil {
				captureErr(client.logger, err)
			}
		}
	}
}

func (client *DefaultClient) StartPublishInvoices(ctx context.Context, invoicesSubscribeFunc SubscribeToInvoicesFunc, payloadFunc EncodeInvoiceFunc) error {
	err := client.declareInvoiceExchange()
	if err != nil {
		return err
	}

	client.logger.Info("Starting rabbitmq publisher")

	updates, err := invoicesSubscribeFunc()
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case invoice := <-updates:
			err = client.publishToInvoiceExchange(ctx, invoice, payloadFunc)
			if err != nil {
				captureErr(client.logger, err)
			}
		}
	}
}

func (client *DefaultClient) declareInvoiceExchange() error {
	return client.publishChannel.ExchangeDeclare(
		client.invoiceExchange,
		// topic is a type of exchange that allows routing messages to different queue's bases on a routing key
		"topic",
		// Durable and Non-Auto-Deleted exchanges will survive server restarts and remain
		// declared when there are no remaining bindings.
		true,
		false,
		// Non-Internal exchange's accept direct publishing
		false,
		// Nowait: We set this to false as we want to wait for a server response
		// to check whether the exchange was created succesfully
		false,
		nil,
	)
}

func (client *DefaultClient) publishToInvoiceExchange(ctx context.Context, invoice models.Invoice, payloadFunc EncodeInvoiceFunc) error {
	payload := bufPool.Get().(*bytes.Buffer)
	payload.Reset()
	defer bufPool.Put(payload)

	err := payloadFunc(ctx, payload, invoice)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("invoice.%s", invoice.State)

	err = client.publishChannel.PublishWithContext(ctx,
		client.invoiceExchange,
		key,
		false,
		false,
		amqp.Publishing{
			ContentType: contentTypeJSON,
			Body:        payload.Bytes(),
		},
	)
	if err != nil {
		captureErr(client.logger, err)
		return err
	}

	client.logger.Debugf("Successfully published invoice to rabbitmq invoice_id:%s state:%s", invoice.ID, invoice.State)

	return nil
}

func captureErr(logger *lecho.Logger, err error) {
	logger.Error(err)
	sentry.CaptureException(err)
}
