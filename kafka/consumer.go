package kafka

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Option customizes a Consumer at construction time.
type Option func(*options)

type options struct {
	registerer     prometheus.Registerer
	logger         *zerolog.Logger
	pollBurstRate  float64
	pollBurstBurst int
}

// WithPrometheusRegisterer registers the consumer's metrics (metrics.go)
// with reg instead of leaving them unregistered.
func WithPrometheusRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithLogger overrides the logger derived from Config.LogLevel/LogFormat.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = &logger }
}

// WithPollBurstLimit caps the poll scheduler's enqueue rate on top of
// Config.PollInterval, generalizing the teacher's ResourceGuard Kafka-rate
// limiter (internal/shared/limits/resource_guard.go) from an app-level CPU
// brake into a library-level guard against a misconfigured (too-short)
// poll interval overwhelming a slow client.
func WithPollBurstLimit(ratePerSecond float64, burst int) Option {
	return func(o *options) { o.pollBurstRate = ratePerSecond; o.pollBurstBurst = burst }
}

// New constructs a Consumer, its supporting actor and poll scheduler, and
// starts both. The returned Fiber is the combined lifecycle handle
// described in spec.md §6; cancelling it (or the actor/poller failing)
// tears both down and then closes client in LIFO order (spec.md §3
// "Lifecycles").
func New[K, V any](
	client Client,
	cfg Config,
	keyDeser Deserializer[K],
	valDeser Deserializer[V],
	opts ...Option,
) (*Consumer[K, V], *Fiber, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	logger := NewLogger(LoggerConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if o.logger != nil {
		logger = *o.logger
	}
	metrics := NewMetrics(o.registerer)

	fiber, ctx := newFiber()
	sc := newSyncClient(client)
	requests := newUnboundedQueue[*request[K, V]]()

	var limiter *pollBurstLimiter
	if o.pollBurstRate > 0 {
		limiter = newPollBurstLimiter(o.pollBurstRate, o.pollBurstBurst)
	}
	poller := newPollScheduler(cfg.PollInterval, limiter.rateLimiter(), logger)
	act := newActor[K, V](requests, poller.pollCh, sc, keyDeser, valDeser, cfg.PollTimeout, cfg.ConsumerGroup, logger, metrics)

	pollerDone := make(chan struct{})
	actorDone := make(chan struct{})

	go func() {
		defer close(pollerDone)
		poller.run(ctx, fiber.fail)
	}()
	go func() {
		defer close(actorDone)
		act.run(ctx, fiber.fail)
	}()

	// Teardown in LIFO order: poll scheduler first, then the actor, then
	// the client (on E_c), then the execution context itself is stopped
	// so its queues are dropped (spec.md §3).
	go func() {
		<-ctx.Done()
		<-pollerDone
		<-actorDone
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.CloseTimeout)
		defer cancel()
		_, _ = withClient(sc, func(c Client) (struct{}, error) {
			return struct{}{}, c.Close(closeCtx, cfg.CloseTimeout)
		})
		sc.close()
		fiber.markDone()
	}()

	c := &Consumer[K, V]{
		requests:          requests,
		fiber:             fiber,
		defaultAPITimeout: cfg.DefaultAPITimeout,
		requestTimeout:    cfg.RequestTimeout,
		fetchTimeout:      cfg.FetchTimeout,
	}
	return c, fiber, nil
}

// Consumer is the KafkaConsumer facade of spec.md §4.4/§6: every operation
// allocates a fresh completion slot, builds the matching Request variant,
// enqueues it, and races the slot against the fiber's lifecycle signal
// (spec.md §4.4 steps 1-6).
type Consumer[K, V any] struct {
	requests *unboundedQueue[*request[K, V]]
	fiber    *Fiber

	defaultAPITimeout time.Duration
	requestTimeout    time.Duration
	fetchTimeout      time.Duration

	mu         sync.Mutex
	subscribed bool
}

// Fiber returns the lifecycle handle for this consumer.
func (c *Consumer[K, V]) Fiber() *Fiber { return c.fiber }

// SubscribeTo is sugar for Subscribe([]string{first, rest...}).
func (c *Consumer[K, V]) SubscribeTo(ctx context.Context, first string, rest ...string) error {
	return c.Subscribe(ctx, append([]string{first}, rest...))
}

// Subscribe subscribes to topics, which must be nonempty (spec.md §4.4).
func (c *Consumer[K, V]) Subscribe(ctx context.Context, topics []string) error {
	if len(topics) == 0 {
		return ErrEmptyTopics()
	}
	slot := newPromise[struct{}]()
	c.requests.push(&request[K, V]{kind: reqSubscribeTopics, subscribeTopics: topics, subscribeSlot: slot})
	_, err := slot.wait(ctx, c.fiber)
	if err == nil {
		c.markSubscribed()
	}
	return err
}

// SubscribePattern subscribes by regular expression.
func (c *Consumer[K, V]) SubscribePattern(ctx context.Context, pattern *regexp.Regexp) error {
	slot := newPromise[struct{}]()
	c.requests.push(&request[K, V]{kind: reqSubscribePattern, subscribePattern: pattern, subscribeSlot: slot})
	_, err := slot.wait(ctx, c.fiber)
	if err == nil {
		c.markSubscribed()
	}
	return err
}

func (c *Consumer[K, V]) markSubscribed() {
	c.mu.Lock()
	c.subscribed = true
	c.mu.Unlock()
}

func (c *Consumer[K, V]) isSubscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed
}

// Seek repositions tp to offset.
func (c *Consumer[K, V]) Seek(ctx context.Context, tp TopicPartition, offset int64) error {
	slot := newPromise[struct{}]()
	c.requests.push(&request[K, V]{kind: reqSeek, seekTP: tp, seekOffset: offset, seekSlot: slot})
	_, err := slot.wait(ctx, c.fiber)
	return err
}

// BeginningOffsets returns the earliest available offset for each
// partition. If timeout is omitted, Config.DefaultAPITimeout is used.
func (c *Consumer[K, V]) BeginningOffsets(ctx context.Context, partitions []TopicPartition, timeout ...time.Duration) (map[TopicPartition]int64, error) {
	t := c.defaultAPITimeout
	if len(timeout) > 0 {
		t = timeout[0]
	}
	slot := newPromise[map[TopicPartition]int64]()
	c.requests.push(&request[K, V]{kind: reqBeginningOffsets, offsetsPartitions: partitions, offsetsTimeout: t, offsetsSlot: slot})
	return slot.wait(ctx, c.fiber)
}

// EndOffsets returns the next offset to be produced for each partition. If
// timeout is omitted, Config.RequestTimeout is used.
func (c *Consumer[K, V]) EndOffsets(ctx context.Context, partitions []TopicPartition, timeout ...time.Duration) (map[TopicPartition]int64, error) {
	t := c.requestTimeout
	if len(timeout) > 0 {
		t = timeout[0]
	}
	slot := newPromise[map[TopicPartition]int64]()
	c.requests.push(&request[K, V]{kind: reqEndOffsets, offsetsPartitions: partitions, offsetsTimeout: t, offsetsSlot: slot})
	return slot.wait(ctx, c.fiber)
}

// assignment requests the current assignment, optionally installing
// onRebalance to receive future onAssigned/onRevoked callbacks.
func (c *Consumer[K, V]) assignment(ctx context.Context, onRebalance *OnRebalance) (map[TopicPartition]struct{}, error) {
	slot := newPromise[map[TopicPartition]struct{}]()
	c.requests.push(&request[K, V]{kind: reqAssignment, assignmentSlot: slot, onRebalance: onRebalance})
	return slot.wait(ctx, c.fiber)
}

// fetch issues a non-expiring Fetch for tp.
func (c *Consumer[K, V]) fetch(ctx context.Context, tp TopicPartition) (fetchResult[K, V], error) {
	slot := newPromise[fetchResult[K, V]]()
	c.requests.push(&request[K, V]{kind: reqFetch, fetch: &fetchRequest[K, V]{tp: tp, slot: slot}})
	return slot.wait(ctx, c.fiber)
}

// expiringFetch issues an ExpiringFetch for tp with the consumer's
// configured fetch timeout.
func (c *Consumer[K, V]) expiringFetch(ctx context.Context, tp TopicPartition) (fetchResult[K, V], error) {
	slot := newPromise[fetchResult[K, V]]()
	c.requests.push(&request[K, V]{kind: reqFetch, fetch: &fetchRequest[K, V]{tp: tp, slot: slot, expiring: true, fetchTimeout: c.fetchTimeout}})
	return slot.wait(ctx, c.fiber)
}
