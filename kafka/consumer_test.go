package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		KafkaBrokers:      "localhost:9092",
		ConsumerGroup:     "test-group",
		PollInterval:      10 * time.Millisecond,
		PollTimeout:       50 * time.Millisecond,
		FetchTimeout:      150 * time.Millisecond,
		CloseTimeout:      time.Second,
		DefaultAPITimeout: time.Second,
		RequestTimeout:    time.Second,
		LogLevel:          LogLevelError,
		LogFormat:         LogFormatJSON,
	}
}

func stringDeser(_ string, data []byte) (string, error) { return string(data), nil }

func TestSubscribeAndConsumeThreeRecords(t *testing.T) {
	fc := newFakeClient()
	tp := TopicPartition{Topic: "t", Partition: 0}
	fc.assign(tp)
	fc.produce(tp, []byte("k1"), []byte("v1"))
	fc.produce(tp, []byte("k2"), []byte("v2"))
	fc.produce(tp, []byte("k3"), []byte("v3"))

	consumer, fiber, err := New[string, string](fc, testConfig(), stringDeser, stringDeser)
	require.NoError(t, err)
	defer fiber.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, consumer.Subscribe(ctx, []string{"t"}))

	messages, err := consumer.Stream(ctx)
	require.NoError(t, err)

	var offsets []int64
	var keys []string
	for msg := range messages {
		offsets = append(offsets, msg.Record.Offset)
		keys = append(keys, msg.Record.Key)
		if len(offsets) == 3 {
			cancel()
		}
	}

	require.Equal(t, []int64{0, 1, 2}, offsets)
	require.Equal(t, []string{"k1", "k2", "k3"}, keys)
}

func TestSeekAndReRead(t *testing.T) {
	fc := newFakeClient()
	tp := TopicPartition{Topic: "t", Partition: 0}
	fc.assign(tp)
	fc.produce(tp, []byte("k1"), []byte("v1"))
	fc.produce(tp, []byte("k2"), []byte("v2"))
	fc.produce(tp, []byte("k3"), []byte("v3"))

	consumer, fiber, err := New[string, string](fc, testConfig(), stringDeser, stringDeser)
	require.NoError(t, err)
	defer fiber.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.NoError(t, consumer.Subscribe(ctx, []string{"t"}))

	messages, err := consumer.Stream(ctx)
	require.NoError(t, err)

	var firstRound []int64
	for msg := range messages {
		firstRound = append(firstRound, msg.Record.Offset)
		if len(firstRound) == 3 {
			break
		}
	}
	require.Equal(t, []int64{0, 1, 2}, firstRound)

	require.NoError(t, consumer.Seek(ctx, tp, 0))

	messages2, err := consumer.Stream(ctx)
	require.NoError(t, err)

	var secondRound []int64
	for msg := range messages2 {
		secondRound = append(secondRound, msg.Record.Offset)
		if len(secondRound) == 3 {
			cancel()
			break
		}
	}
	require.Equal(t, []int64{0, 1, 2}, secondRound)
}

func TestStreamFailsWhenNotSubscribed(t *testing.T) {
	fc := newFakeClient()
	consumer, fiber, err := New[string, string](fc, testConfig(), stringDeser, stringDeser)
	require.NoError(t, err)
	defer fiber.Cancel()

	_, err = consumer.Stream(context.Background())
	var target *NotSubscribedError
	require.ErrorAs(t, err, &target)
}

func TestSubscribeRejectsEmptyTopics(t *testing.T) {
	fc := newFakeClient()
	consumer, fiber, err := New[string, string](fc, testConfig(), stringDeser, stringDeser)
	require.NoError(t, err)
	defer fiber.Cancel()

	err = consumer.Subscribe(context.Background(), nil)
	var target *EmptyTopicsError
	require.ErrorAs(t, err, &target)
}

func TestShutdownMidStreamFailsSubsequentCalls(t *testing.T) {
	fc := newFakeClient()
	tp := TopicPartition{Topic: "t", Partition: 0}
	fc.assign(tp)

	consumer, fiber, err := New[string, string](fc, testConfig(), stringDeser, stringDeser)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, consumer.Subscribe(ctx, []string{"t"}))

	messages, err := consumer.Stream(ctx)
	require.NoError(t, err)

	fiber.Cancel()

	// The stream must terminate (channel closes) on shutdown.
	for range messages {
	}

	err = consumer.Seek(ctx, tp, 0)
	var shutdown *ConsumerShutdownError
	require.ErrorAs(t, err, &shutdown)
}

func TestExpiringFetchExpiresWithoutStarvingOtherPartitions(t *testing.T) {
	fc := newFakeClient()
	tp0 := TopicPartition{Topic: "t", Partition: 0}
	tp1 := TopicPartition{Topic: "t", Partition: 1}
	fc.assign(tp0)
	fc.assign(tp1)
	fc.produce(tp0, []byte("k1"), []byte("v1"))
	// tp1 never receives a record.

	cfg := testConfig()
	cfg.FetchTimeout = 100 * time.Millisecond

	consumer, fiber, err := New[string, string](fc, cfg, stringDeser, stringDeser)
	require.NoError(t, err)
	defer fiber.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, consumer.Subscribe(ctx, []string{"t"}))

	messages, err := consumer.Stream(ctx)
	require.NoError(t, err)

	select {
	case msg, ok := <-messages:
		require.True(t, ok)
		require.Equal(t, tp0.Topic, msg.Record.Topic)
		cancel()
	case <-time.After(1500 * time.Millisecond):
		t.Fatal("expected a record from the lively partition well within one expiry + poll interval")
	}
}
