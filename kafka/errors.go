package kafka

import "fmt"

// NotSubscribedError is returned by Stream/PartitionedStream when no
// SubscribeTopics/SubscribePattern call has succeeded yet (spec.md §7.1).
type NotSubscribedError struct{}

func (e *NotSubscribedError) Error() string {
	return "kafka: consumer is not subscribed to any topic"
}

// ErrNotSubscribed is returned (wrapped in a fresh *NotSubscribedError) by
// stream operations attempted before a successful subscribe.
func ErrNotSubscribed() error { return &NotSubscribedError{} }

// ConsumerShutdownError is returned when a request is posted to, or a
// pending request loses its race against, a consumer that has already
// torn down (spec.md §7.3, §7.4).
type ConsumerShutdownError struct {
	// Cause is the fatal error that triggered shutdown, if any. Nil for a
	// clean, caller-initiated cancellation.
	Cause error
}

func (e *ConsumerShutdownError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("kafka: consumer shut down: %v", e.Cause)
	}
	return "kafka: consumer shut down"
}

func (e *ConsumerShutdownError) Unwrap() error { return e.Cause }

// ErrConsumerShutdown builds a fresh *ConsumerShutdownError wrapping cause
// (which may be nil for a clean shutdown). Every caller gets its own
// instance: callers may compare or enrich errors per spec.md §7.
func ErrConsumerShutdown(cause error) error {
	return &ConsumerShutdownError{Cause: cause}
}

// EmptyTopicsError is a deterministic user error: Subscribe was called with
// a nil or empty topic collection (spec.md §4.4).
type EmptyTopicsError struct{}

func (e *EmptyTopicsError) Error() string {
	return "kafka: subscribe requires at least one topic"
}

// ErrEmptyTopics builds a fresh *EmptyTopicsError.
func ErrEmptyTopics() error { return &EmptyTopicsError{} }

// ClientError wraps an error returned by the underlying Client, preserving
// the operation name for a stable textual representation without
// translating the underlying cause (spec.md §6, §7.2).
type ClientError struct {
	Op    string
	Cause error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("kafka: %s: %v", e.Op, e.Cause)
}

func (e *ClientError) Unwrap() error { return e.Cause }

// wrapClientErr returns nil if cause is nil, else a fresh *ClientError.
func wrapClientErr(op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &ClientError{Op: op, Cause: cause}
}
