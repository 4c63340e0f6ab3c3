package kafka

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// FranzClient adapts a *kgo.Client to the Client interface (spec.md §6),
// grounded on the teacher's franz-go wiring in
// internal/shared/kafka/consumer.go (NewClient options, OnPartitionsAssigned
// / OnPartitionsRevoked, PollFetches, EachRecord) generalized from a
// single hard-coded topic set into the pluggable core described here.
//
// FranzClient is the only place in this module that imports kgo directly;
// the actor, syncClient, and facade all depend on the Client interface so
// a caller can substitute a fake (see fake_client_test.go) or a different
// client library entirely.
type FranzClient struct {
	cl  *kgo.Client
	adm *kadm.Client

	mu       sync.Mutex
	assigned map[TopicPartition]struct{}
}

// FranzClientConfig mirrors the subset of kgo options the core cares
// about; a caller who needs more control can construct *kgo.Client
// themselves and wrap it with NewFranzClientFromClient.
type FranzClientConfig struct {
	Brokers          []string
	ConsumerGroup    string
	SessionTimeout   time.Duration
	RebalanceTimeout time.Duration
	FetchMaxWait     time.Duration
}

// NewFranzClient builds a kgo.Client from cfg and wraps it.
func NewFranzClient(cfg FranzClientConfig) (*FranzClient, error) {
	fc := &FranzClient{assigned: make(map[TopicPartition]struct{})}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.OnPartitionsAssigned(fc.onAssigned),
		kgo.OnPartitionsRevoked(fc.onRevoked),
		kgo.OnPartitionsLost(fc.onRevoked),
	}
	if cfg.SessionTimeout > 0 {
		opts = append(opts, kgo.SessionTimeout(cfg.SessionTimeout))
	}
	if cfg.RebalanceTimeout > 0 {
		opts = append(opts, kgo.RebalanceTimeout(cfg.RebalanceTimeout))
	}
	if cfg.FetchMaxWait > 0 {
		opts = append(opts, kgo.FetchMaxWait(cfg.FetchMaxWait))
	}

	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka: create franz-go client: %w", err)
	}
	fc.cl = cl
	fc.adm = kadm.NewClient(cl)
	return fc, nil
}

// NewFranzClientFromClient wraps an already-constructed *kgo.Client. The
// partition callbacks that keep the tracked assignment current are only
// registered by NewFranzClient (onAssigned/onRevoked are unexported), so
// Assignment() on a client wrapped this way always reports an empty set.
func NewFranzClientFromClient(cl *kgo.Client) *FranzClient {
	fc := &FranzClient{cl: cl, adm: kadm.NewClient(cl), assigned: make(map[TopicPartition]struct{})}
	return fc
}

func (fc *FranzClient) onAssigned(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	for topic, partitions := range assigned {
		for _, p := range partitions {
			fc.assigned[TopicPartition{Topic: topic, Partition: p}] = struct{}{}
		}
	}
}

func (fc *FranzClient) onRevoked(_ context.Context, _ *kgo.Client, revoked map[string][]int32) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	for topic, partitions := range revoked {
		for _, p := range partitions {
			delete(fc.assigned, TopicPartition{Topic: topic, Partition: p})
		}
	}
}

func (fc *FranzClient) SubscribeTopics(_ context.Context, topics []string) error {
	fc.cl.AddConsumeTopics(topics...)
	return nil
}

func (fc *FranzClient) SubscribePattern(_ context.Context, pattern *regexp.Regexp) error {
	fc.cl.AddConsumeTopics(pattern.String())
	return nil
}

func (fc *FranzClient) Assignment(_ context.Context) (map[TopicPartition]struct{}, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return cloneTPSet(fc.assigned), nil
}

func (fc *FranzClient) Seek(_ context.Context, tp TopicPartition, offset int64) error {
	fc.cl.SetOffsets(map[string]map[int32]kgo.EpochOffset{
		tp.Topic: {tp.Partition: {Epoch: -1, Offset: offset}},
	})
	return nil
}

func (fc *FranzClient) Poll(ctx context.Context, timeout time.Duration) ([]RawRecord, error) {
	pollCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		pollCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	fetches := fc.cl.PollFetches(pollCtx)
	if errs := fetches.Errors(); len(errs) > 0 {
		fe := errs[0]
		return nil, fmt.Errorf("kafka: fetch error on %s[%d]: %w", fe.Topic, fe.Partition, fe.Err)
	}

	var records []RawRecord
	fetches.EachRecord(func(rec *kgo.Record) {
		headers := make([]Header, 0, len(rec.Headers))
		for _, h := range rec.Headers {
			headers = append(headers, Header{Key: h.Key, Value: h.Value})
		}
		records = append(records, RawRecord{
			Topic:     rec.Topic,
			Partition: rec.Partition,
			Offset:    rec.Offset,
			Key:       rec.Key,
			Value:     rec.Value,
			Timestamp: rec.Timestamp,
			Headers:   headers,
		})
	})
	return records, nil
}

func (fc *FranzClient) BeginningOffsets(ctx context.Context, partitions []TopicPartition, timeout time.Duration) (map[TopicPartition]int64, error) {
	return fc.listOffsets(ctx, partitions, timeout, fc.adm.ListStartOffsets)
}

func (fc *FranzClient) EndOffsets(ctx context.Context, partitions []TopicPartition, timeout time.Duration) (map[TopicPartition]int64, error) {
	return fc.listOffsets(ctx, partitions, timeout, fc.adm.ListEndOffsets)
}

func (fc *FranzClient) listOffsets(
	ctx context.Context,
	partitions []TopicPartition,
	timeout time.Duration,
	list func(context.Context, ...string) (kadm.ListedOffsets, error),
) (map[TopicPartition]int64, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	topicSet := make(map[string]struct{}, len(partitions))
	for _, tp := range partitions {
		topicSet[tp.Topic] = struct{}{}
	}
	topics := make([]string, 0, len(topicSet))
	for t := range topicSet {
		topics = append(topics, t)
	}

	listed, err := list(ctx, topics...)
	if err != nil {
		return nil, err
	}

	out := make(map[TopicPartition]int64, len(partitions))
	for _, tp := range partitions {
		lo, ok := listed.Lookup(tp.Topic, tp.Partition)
		if !ok {
			continue
		}
		if lo.Err != nil {
			return nil, lo.Err
		}
		out[tp] = lo.Offset
	}
	return out, nil
}

func (fc *FranzClient) Close(_ context.Context, _ time.Duration) error {
	fc.cl.Close()
	return nil
}
