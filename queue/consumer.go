package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/isdmx/testbot/master"
)

const drainPollInterval = 50 * time.Millisecond

// Handler runs jobs of the kinds it reports.
type Handler interface {
	Handle(ctx context.Context, kind master.Kind, ref master.JobRef) (master.Outcome, error)
	Kinds() []master.Kind
}

// Config holds the queue connection settings
type Config struct {
	URL           string
	SubjectPrefix string
	Group         string
	Concurrency   int
}

// Consumer subscribes to the job subjects and runs dispatched jobs.
type Consumer struct {
	config  Config
	handler Handler
	logger  *zap.Logger

	mu     sync.Mutex
	nc     *nats.Conn
	subs   []*nats.Subscription
	pool   *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// NewConsumer creates a new Consumer. A non-positive concurrency means one
// job per CPU.
func NewConsumer(config Config, handler Handler, logger *zap.Logger) *Consumer {
	if config.Concurrency <= 0 {
		config.Concurrency = runtime.NumCPU()
	}
	pool := &errgroup.Group{}
	pool.SetLimit(config.Concurrency)
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		config:  config,
		handler: handler,
		logger:  logger,
		pool:    pool,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start connects to NATS and subscribes to every kind of the handler.
func (c *Consumer) Start(context.Context) error {
	nc, err := nats.Connect(c.config.URL,
		nats.Name("testbot"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn("queue disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("queue reconnected", zap.String("url", nc.ConnectedUrl()))
		}))
	if err != nil {
		return fmt.Errorf("failed to connect to queue: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.nc = nc

	for _, kind := range c.handler.Kinds() {
		subject := Subject(c.config.SubjectPrefix, kind)
		sub, err := nc.QueueSubscribe(subject, c.config.Group, c.onMessage(kind))
		if err != nil {
			nc.Close()
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		c.subs = append(c.subs, sub)
		c.logger.Info("subscribed",
			zap.String("subject", subject),
			zap.String("group", c.config.Group))
	}
	c.logger.Info("queue consumer started", zap.Int("concurrency", c.config.Concurrency))
	return nil
}

func (c *Consumer) onMessage(kind master.Kind) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var respond func([]byte) error
		if msg.Reply != "" {
			respond = msg.Respond
		}
		c.dispatch(kind, msg.Data, respond)
	}
}

// dispatch queues one job on the pool. It blocks while the pool is full.
func (c *Consumer) dispatch(kind master.Kind, data []byte, respond func([]byte) error) {
	ref, err := Decode(data)
	if err != nil {
		c.logger.Warn("dropping job message", zap.String("kind", string(kind)), zap.Error(err))
		return
	}

	c.pool.Go(func() error {
		outcome, err := c.handler.Handle(c.ctx, kind, ref)
		if err != nil {
			c.logger.Error("job outcome not delivered", zap.String("work_id", ref.WorkID), zap.Error(err))
		}
		if respond == nil {
			return nil
		}
		body, err := json.Marshal(outcome)
		if err != nil {
			c.logger.Error("failed to encode outcome", zap.String("work_id", ref.WorkID), zap.Error(err))
			return nil
		}
		if err := respond(body); err != nil {
			c.logger.Warn("failed to reply with outcome", zap.String("work_id", ref.WorkID), zap.Error(err))
		}
		return nil
	})
}

// Stop drains the subscriptions and waits for running jobs. Jobs still
// running when ctx ends are cancelled.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	subs := c.subs
	nc := c.nc
	c.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Drain(); err != nil {
			c.logger.Warn("failed to drain subscription", zap.String("subject", sub.Subject), zap.Error(err))
		}
	}
	c.waitDrained(ctx, subs)
	if ctx.Err() != nil {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
	}

	done := make(chan struct{})
	go func() {
		_ = c.pool.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		c.cancel()
		<-done
		err = fmt.Errorf("jobs interrupted: %w", ctx.Err())
	}
	c.cancel()

	if nc != nil {
		nc.Close()
	}
	c.logger.Info("queue consumer stopped")
	return err
}

func (c *Consumer) waitDrained(ctx context.Context, subs []*nats.Subscription) {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for {
		pending := false
		for _, sub := range subs {
			if sub.IsValid() {
				pending = true
				break
			}
		}
		if !pending {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
