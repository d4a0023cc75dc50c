package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ErrMalformed marks a message that can never be processed. It is
// terminated instead of redelivered.
var ErrMalformed = errors.New("malformed message")

type Handler func(ctx context.Context, subject string, data []byte) error

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// Consume feeds every score and match event to handler on workers
// goroutines. It returns once the durable consumers exist; processing
// stops when ctx is cancelled, and Wait blocks until it has.
func (c *Consumer) Consume(ctx context.Context, name string, handler Handler, workers int) (*Run, error) {
	if workers < 1 {
		workers = 1
	}
	run := &Run{}
	msgCh := make(chan jetstream.Msg, workers*2)

	var fetchers sync.WaitGroup
	for _, stream := range Streams() {
		cons, err := c.js.CreateOrUpdateConsumer(ctx, stream.Name, jetstream.ConsumerConfig{
			Name:          name + "-" + stream.Name,
			Durable:       name + "-" + stream.Name,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			FilterSubject: stream.Subjects[0],
		})
		if err != nil {
			return nil, fmt.Errorf("create consumer on %s: %w", stream.Name, err)
		}
		fetchers.Add(1)
		go func() {
			defer fetchers.Done()
			fetchLoop(ctx, cons, msgCh, workers)
		}()
	}
	go func() {
		fetchers.Wait()
		close(msgCh)
	}()

	for i := 0; i < workers; i++ {
		run.wg.Add(1)
		go func(workerID int) {
			defer run.wg.Done()
			for msg := range msgCh {
				dispatch(ctx, handler, msg, workerID)
			}
		}(i)
	}

	slog.Info("event consumer started", "consumer", name, "workers", workers)
	return run, nil
}

// Run tracks the workers started by Consume.
type Run struct {
	wg sync.WaitGroup
}

func (r *Run) Wait() {
	r.wg.Wait()
}

func fetchLoop(ctx context.Context, cons jetstream.Consumer, out chan<- jetstream.Msg, batch int) {
	for ctx.Err() == nil {
		msgs, err := cons.Fetch(batch, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("fetch events", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if !drainBatch(ctx, msgs, out) {
			return
		}
	}
}

// drainBatch forwards a fetched batch and logs an error that cut it short.
// It reports false once ctx is done.
func drainBatch(ctx context.Context, batch jetstream.MessageBatch, out chan<- jetstream.Msg) bool {
	for msg := range batch.Messages() {
		select {
		case out <- msg:
		case <-ctx.Done():
			return false
		}
	}
	if err := batch.Error(); err != nil && ctx.Err() == nil && !errors.Is(err, nats.ErrTimeout) {
		slog.Warn("fetch batch ended early", "error", err)
	}
	return ctx.Err() == nil
}

// dispatch acks on success, terminates malformed messages and naks the
// rest for redelivery.
func dispatch(ctx context.Context, handler Handler, msg jetstream.Msg, workerID int) {
	err := handler(ctx, msg.Subject(), msg.Data())
	switch {
	case err == nil:
		_ = msg.Ack()
	case errors.Is(err, ErrMalformed):
		slog.Error("drop malformed event", "worker", workerID, "subject", msg.Subject(), "error", err)
		_ = msg.Term()
	default:
		slog.Error("process event", "worker", workerID, "subject", msg.Subject(), "error", err)
		_ = msg.Nak()
	}
}

// Pending sums the messages still waiting for the named durable consumers.
func (c *Consumer) Pending(ctx context.Context, name string) (uint64, error) {
	var total uint64
	for _, stream := range Streams() {
		cons, err := c.js.Consumer(ctx, stream.Name, name+"-"+stream.Name)
		if err != nil {
			return 0, fmt.Errorf("get consumer on %s: %w", stream.Name, err)
		}
		info, err := cons.Info(ctx)
		if err != nil {
			return 0, fmt.Errorf("consumer info on %s: %w", stream.Name, err)
		}
		total += info.NumPending
	}
	return total, nil
}

func (c *Consumer) Ping(ctx context.Context) error {
	if !c.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
