package kafka

import (
	"context"
	"regexp"
	"sync"
	"time"
)

// Client is the external collaborator the core delegates all Kafka
// protocol handling to (spec.md §6). It is not safe for concurrent use:
// every call the actor makes to it is serialized through syncClient below.
type Client interface {
	SubscribeTopics(ctx context.Context, topics []string) error
	SubscribePattern(ctx context.Context, pattern *regexp.Regexp) error
	Assignment(ctx context.Context) (map[TopicPartition]struct{}, error)
	Seek(ctx context.Context, tp TopicPartition, offset int64) error
	Poll(ctx context.Context, timeout time.Duration) ([]RawRecord, error)
	BeginningOffsets(ctx context.Context, partitions []TopicPartition, timeout time.Duration) (map[TopicPartition]int64, error)
	EndOffsets(ctx context.Context, partitions []TopicPartition, timeout time.Duration) (map[TopicPartition]int64, error)
	Close(ctx context.Context, timeout time.Duration) error
}

// syncClient wraps a Client so that at most one goroutine invokes its
// methods at a time, and every invocation runs on a dedicated
// single-goroutine execution context E_c (spec.md §4.1). The actor and any
// short-lived helper it spawns (e.g. a BeginningOffsets lookup that should
// not block the actor's mailbox) both go through withClient.
type syncClient struct {
	client Client
	mu     sync.Mutex
	ec     *executionContext
}

func newSyncClient(client Client) *syncClient {
	return &syncClient{client: client, ec: newExecutionContext()}
}

// withClient takes the exclusive lease on the client for the duration of
// action, running action on E_c. Leases are FIFO-fair: they are granted in
// the order withClient is called, because dispatch into E_c is itself a
// single channel send per call (see executionContext.run).
func withClient[A any](sc *syncClient, action func(Client) (A, error)) (A, error) {
	return submit(sc.ec, func() (A, error) {
		sc.mu.Lock()
		defer sc.mu.Unlock()
		return action(sc.client)
	})
}

func (sc *syncClient) close() {
	sc.ec.stop()
}

// executionContext is a dedicated goroutine (E_c) that runs every
// submitted closure to completion before picking up the next one. Modeled
// as a channel of thunks rather than a runtime-provided single-thread
// executor, since the spec leaves the concrete mechanism to the
// implementer (spec.md §9: "the spec does not mandate a specific
// runtime").
type executionContext struct {
	tasks chan func()
	done  chan struct{}
	once  sync.Once
}

func newExecutionContext() *executionContext {
	ec := &executionContext{
		tasks: make(chan func()),
		done:  make(chan struct{}),
	}
	go ec.run()
	return ec
}

func (ec *executionContext) run() {
	for {
		select {
		case fn := <-ec.tasks:
			fn()
		case <-ec.done:
			return
		}
	}
}

func (ec *executionContext) stop() {
	ec.once.Do(func() { close(ec.done) })
}

// submit runs action on ec and returns its result, blocking the caller
// until it completes. If ec has already stopped, submit fails immediately
// rather than leaking a goroutine waiting on a dead executor.
func submit[A any](ec *executionContext, action func() (A, error)) (A, error) {
	resultCh := make(chan promiseResult[A], 1)
	thunk := func() {
		v, err := action()
		resultCh <- promiseResult[A]{val: v, err: err}
	}

	select {
	case ec.tasks <- thunk:
	case <-ec.done:
		var zero A
		return zero, ErrConsumerShutdown(nil)
	}

	select {
	case r := <-resultCh:
		return r.val, r.err
	case <-ec.done:
		var zero A
		return zero, ErrConsumerShutdown(nil)
	}
}
