package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPartitionedStreamTwoPartitions(t *testing.T) {
	fc := newFakeClient()
	tp0 := TopicPartition{Topic: "t", Partition: 0}
	tp1 := TopicPartition{Topic: "t", Partition: 1}
	fc.assign(tp0)
	fc.assign(tp1)
	fc.produce(tp0, []byte("a"), []byte("A"))
	fc.produce(tp0, []byte("b"), []byte("B"))
	fc.produce(tp1, []byte("x"), []byte("X"))
	fc.produce(tp1, []byte("y"), []byte("Y"))

	consumer, fiber, err := New[string, string](fc, testConfig(), stringDeser, stringDeser)
	require.NoError(t, err)
	defer fiber.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, consumer.Subscribe(ctx, []string{"t"}))

	partitions, err := consumer.PartitionedStream(ctx)
	require.NoError(t, err)

	var mu sync.Mutex
	collected := make(map[string]bool)
	perPartitionOrder := make(map[TopicPartition][]string)
	count := 0

	var wg sync.WaitGroup
	done := make(chan struct{})
	go func() {
		for ps := range partitions {
			ps := ps
			wg.Add(1)
			go func() {
				defer wg.Done()
				for msg := range ps.Messages {
					mu.Lock()
					perPartitionOrder[ps.TopicPartition] = append(perPartitionOrder[ps.TopicPartition], msg.Record.Key)
					collected[msg.Record.Key] = true
					count++
					if count >= 4 {
						cancel()
					}
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, collected, 4)
	require.True(t, collected["a"] && collected["b"] && collected["x"] && collected["y"])

	if order, ok := perPartitionOrder[tp0]; ok {
		require.Equal(t, []string{"a", "b"}, order)
	}
	if order, ok := perPartitionOrder[tp1]; ok {
		require.Equal(t, []string{"x", "y"}, order)
	}
}

func TestPartitionedStreamClosesSubSequenceOnRevocation(t *testing.T) {
	fc := newFakeClient()
	tp0 := TopicPartition{Topic: "t", Partition: 0}
	tp1 := TopicPartition{Topic: "t", Partition: 1}
	fc.assign(tp0)
	fc.assign(tp1)

	consumer, fiber, err := New[string, string](fc, testConfig(), stringDeser, stringDeser)
	require.NoError(t, err)
	defer fiber.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, consumer.Subscribe(ctx, []string{"t"}))

	partitions, err := consumer.PartitionedStream(ctx)
	require.NoError(t, err)

	seen := make(chan TopicPartition, 2)
	closed := make(chan TopicPartition, 2)
	go func() {
		for ps := range partitions {
			ps := ps
			seen <- ps.TopicPartition
			go func() {
				for range ps.Messages {
				}
				closed <- ps.TopicPartition
			}()
		}
	}()

	first := firstOf(t, seen, tp0, tp1)
	second := firstOf(t, seen, tp0, tp1)
	require.ElementsMatch(t, []TopicPartition{tp0, tp1}, []TopicPartition{first, second})

	fc.revoke(tp1)

	select {
	case tp := <-closed:
		require.Equal(t, tp1, tp)
	case <-time.After(2 * time.Second):
		t.Fatal("expected the revoked partition's inner stream to close")
	}

	cancel()
}

func firstOf(t *testing.T, ch <-chan TopicPartition, candidates ...TopicPartition) TopicPartition {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for one of %v", candidates)
		return TopicPartition{}
	}
}
