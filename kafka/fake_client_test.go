package kafka

import (
	"context"
	"regexp"
	"sync"
	"time"
)

// fakeClient is a minimal in-memory Client used across this package's
// tests: each TopicPartition is an append-only log, Poll returns every
// record newer than what it has already returned for each assigned
// partition, and assign/revoke let a test drive rebalances directly
// without a real broker.
type fakeClient struct {
	mu sync.Mutex

	assigned map[TopicPartition]struct{}
	logs     map[TopicPartition][][2][]byte // [key, value] pairs, in append order
	cursor   map[TopicPartition]int64

	beginning map[TopicPartition]int64
	end       map[TopicPartition]int64

	pollErr error
	closed  bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		assigned:  make(map[TopicPartition]struct{}),
		logs:      make(map[TopicPartition][][2][]byte),
		cursor:    make(map[TopicPartition]int64),
		beginning: make(map[TopicPartition]int64),
		end:       make(map[TopicPartition]int64),
	}
}

func (f *fakeClient) produce(tp TopicPartition, key, value []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs[tp] = append(f.logs[tp], [2][]byte{key, value})
	f.end[tp] = int64(len(f.logs[tp]))
}

func (f *fakeClient) assign(tp TopicPartition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assigned[tp] = struct{}{}
}

func (f *fakeClient) revoke(tp TopicPartition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.assigned, tp)
}

func (f *fakeClient) setPollErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollErr = err
}

func (f *fakeClient) SubscribeTopics(_ context.Context, _ []string) error { return nil }

func (f *fakeClient) SubscribePattern(_ context.Context, _ *regexp.Regexp) error { return nil }

func (f *fakeClient) Assignment(_ context.Context) (map[TopicPartition]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneTPSet(f.assigned), nil
}

func (f *fakeClient) Seek(_ context.Context, tp TopicPartition, offset int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursor[tp] = offset
	return nil
}

func (f *fakeClient) Poll(_ context.Context, _ time.Duration) ([]RawRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pollErr != nil {
		return nil, f.pollErr
	}

	var out []RawRecord
	for tp := range f.assigned {
		log := f.logs[tp]
		next := f.cursor[tp]
		for int(next) < len(log) {
			kv := log[next]
			out = append(out, RawRecord{
				Topic:     tp.Topic,
				Partition: tp.Partition,
				Offset:    next,
				Key:       kv[0],
				Value:     kv[1],
				Timestamp: time.Now(),
			})
			next++
		}
		f.cursor[tp] = next
	}
	return out, nil
}

func (f *fakeClient) BeginningOffsets(_ context.Context, partitions []TopicPartition, _ time.Duration) (map[TopicPartition]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[TopicPartition]int64, len(partitions))
	for _, tp := range partitions {
		out[tp] = f.beginning[tp]
	}
	return out, nil
}

func (f *fakeClient) EndOffsets(_ context.Context, partitions []TopicPartition, _ time.Duration) (map[TopicPartition]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[TopicPartition]int64, len(partitions))
	for _, tp := range partitions {
		out[tp] = f.end[tp]
	}
	return out, nil
}

func (f *fakeClient) Close(_ context.Context, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
