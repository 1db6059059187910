// Package queue carries photo indexing work over NATS JetStream.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

const (
	UploadsStreamName  = "PHOTO_UPLOADS"
	UploadsSubjectBase = "photos.uploaded"
	IndexedStreamName  = "PHOTO_INDEXED"
	IndexedSubjectBase = "photos.indexed"
)

// PhotoUploaded asks a worker to compute a photo's descriptor.
type PhotoUploaded struct {
	EventID string `json:"eventId"`
	PhotoID string `json:"photoId"`
}

// PhotoIndexed announces a stored descriptor to every serving process.
type PhotoIndexed struct {
	EventID    string    `json:"eventId"`
	PhotoID    string    `json:"photoId"`
	Descriptor []float32 `json:"descriptor"`
	Model      string    `json:"model"`
}

// Client publishes and consumes indexing messages.
type Client struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *zap.Logger
}

// Connect dials NATS with unlimited reconnects.
func Connect(natsURL string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(natsURL,
		nats.Name("event-photos"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Client{nc: nc, js: js, logger: logger}, nil
}

func streamConfigs() []jetstream.StreamConfig {
	return []jetstream.StreamConfig{
		{
			Name:        UploadsStreamName,
			Subjects:    []string{UploadsSubjectBase + ".>"},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      7 * 24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Duplicates:  2 * time.Minute,
			Description: "Photos waiting for descriptor extraction",
		},
		{
			Name:        IndexedStreamName,
			Subjects:    []string{IndexedSubjectBase + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      time.Hour,
			Storage:     jetstream.FileStorage,
			Description: "Descriptors ready to be inserted into resident indexes",
		},
	}
}

// EnsureStreams creates the streams, retrying while NATS starts up.
func (c *Client) EnsureStreams(ctx context.Context) error {
	const maxAttempts = 30
	for _, cfg := range streamConfigs() {
		for attempt := 1; ; attempt++ {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := c.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err == nil {
				c.logger.Info("ensured NATS stream", zap.String("name", cfg.Name))
				break
			}
			if attempt == maxAttempts {
				return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
			}
			c.logger.Warn("ensure NATS stream (retrying...)",
				zap.String("name", cfg.Name),
				zap.Int("attempt", attempt),
				zap.Error(err))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
	return nil
}

// UploadedSubject returns the subject for an event's uploads.
func UploadedSubject(eventID string) string {
	return UploadsSubjectBase + "." + eventID
}

// IndexedSubject returns the subject for an event's indexed photos.
func IndexedSubject(eventID string) string {
	return IndexedSubjectBase + "." + eventID
}

// PublishUploaded queues a photo for indexing. The photo id deduplicates retries.
func (c *Client) PublishUploaded(ctx context.Context, msg PhotoUploaded) error {
	return c.publish(ctx, UploadedSubject(msg.EventID), msg, msg.PhotoID)
}

// PublishIndexed announces a photo's descriptor.
func (c *Client) PublishIndexed(ctx context.Context, msg PhotoIndexed) error {
	return c.publish(ctx, IndexedSubject(msg.EventID), msg, "")
}

func (c *Client) publish(ctx context.Context, subject string, data any, msgID string) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}

	var opts []jetstream.PublishOpt
	if msgID != "" {
		opts = append(opts, jetstream.WithMsgID(msgID))
	}
	if _, err := c.js.Publish(ctx, subject, payload, opts...); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// ErrPermanent marks handler errors that must not be redelivered.
var ErrPermanent = errors.New("permanent failure")

// ConsumeUploads processes upload messages with a shared durable consumer, so
// each photo is handled by one worker. It blocks until ctx is done.
func (c *Client) ConsumeUploads(ctx context.Context, consumerName string, workers int, handler func(context.Context, PhotoUploaded) error) error {
	cons, err := c.js.CreateOrUpdateConsumer(ctx, UploadsStreamName, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       2 * time.Minute,
		MaxDeliver:    uploadMaxDeliver,
		FilterSubject: UploadsSubjectBase + ".>",
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	workers = max(workers, 1)
	msgCh := make(chan jetstream.Msg, workers*2)
	done := make(chan struct{})

	for i := range workers {
		go func() {
			for msg := range msgCh {
				c.handle(ctx, msg, func(ctx context.Context, data []byte) error {
					var m PhotoUploaded
					if err := decode(data, &m); err != nil {
						return err
					}
					return handler(ctx, m)
				}, zap.Int("worker", i))
			}
			done <- struct{}{}
		}()
	}

	c.logger.Info("upload consumer started", zap.String("consumer", consumerName), zap.Int("workers", workers))
	c.fetchLoop(ctx, cons, workers, msgCh)
	close(msgCh)
	for range workers {
		<-done
	}
	return nil
}

// ConsumeIndexed delivers every indexed message published from now on to this
// process. It blocks until ctx is done.
func (c *Client) ConsumeIndexed(ctx context.Context, handler func(context.Context, PhotoIndexed) error) error {
	cons, err := c.js.OrderedConsumer(ctx, IndexedStreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{IndexedSubjectBase + ".>"},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create ordered consumer: %w", err)
	}

	msgCh := make(chan jetstream.Msg, 64)
	go func() {
		c.fetchLoop(ctx, cons, 32, msgCh)
		close(msgCh)
	}()

	c.logger.Info("indexed consumer started")
	for msg := range msgCh {
		c.handle(ctx, msg, func(ctx context.Context, data []byte) error {
			var m PhotoIndexed
			if err := decode(data, &m); err != nil {
				return err
			}
			return handler(ctx, m)
		})
	}
	return nil
}

func (c *Client) fetchLoop(ctx context.Context, cons jetstream.Consumer, batchSize int, out chan<- jetstream.Msg) {
	for {
		if ctx.Err() != nil {
			return
		}

		batch, err := cons.Fetch(batchSize, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("fetch messages failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for msg := range batch.Messages() {
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *Client) handle(ctx context.Context, msg jetstream.Msg, fn func(context.Context, []byte) error, fields ...zap.Field) {
	err := fn(ctx, msg.Data())
	switch {
	case err == nil:
		_ = msg.Ack()
	case errors.Is(err, ErrPermanent):
		c.logger.Warn("dropping message", append(fields, zap.String("subject", msg.Subject()), zap.Error(err))...)
		_ = msg.Term()
	default:
		delivered := uint64(1)
		if meta, metaErr := msg.Metadata(); metaErr == nil {
			delivered = meta.NumDelivered
		}
		c.logger.Error("process message failed", append(fields,
			zap.String("subject", msg.Subject()),
			zap.Uint64("delivered", delivered),
			zap.Error(err))...)
		_ = msg.NakWithDelay(redeliveryDelay(delivered))
	}
}

// Redelivery backs off exponentially so that uploads survive an extractor
// outage of about an hour before MaxDeliver is reached.
const (
	uploadMaxDeliver     = 20
	redeliveryBaseDelay  = 5 * time.Second
	redeliveryMaxBackoff = 5 * time.Minute
)

// redeliveryDelay returns the wait before the next attempt of a message that
// has been delivered n times.
func redeliveryDelay(n uint64) time.Duration {
	d := redeliveryBaseDelay
	for i := uint64(1); i < n && d < redeliveryMaxBackoff; i++ {
		d *= 2
	}
	return min(d, redeliveryMaxBackoff)
}

func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: decode message: %w", ErrPermanent, err)
	}
	return nil
}

// EventIDFromSubject returns the last token of a subject.
func EventIDFromSubject(subject string) string {
	if i := strings.LastIndexByte(subject, '.'); i >= 0 {
		return subject[i+1:]
	}
	return subject
}

// Ping reports whether the connection is up.
func (c *Client) Ping() error {
	if !c.nc.IsConnected() {
		return errors.New("nats not connected")
	}
	return nil
}

// Close drains and closes the connection.
func (c *Client) Close() {
	_ = c.nc.Drain()
}
