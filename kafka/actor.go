package kafka

import (
	"context"
	"runtime"
	"time"

	"github.com/rs/zerolog"
)

// expiry[K,V] is the actor's own notification that an ExpiringFetch timer
// fired. The timer itself (scheduleExpiry) already completes the slot —
// this message only lets the actor drop the stale entry out of
// state.fetches so pendingFetchCount and subsequent poll deliveries stay
// accurate. Losing one of these (buffer full) is harmless: the entry is
// cleared lazily the next time a poll or revocation visits that
// partition, and the slot's write-once promise still enforces that only
// the first resolution (the timer's) is observed by the awaiter.
type expiry[K, V any] struct {
	tp  TopicPartition
	req *fetchRequest[K, V]
}

// actor[K,V] is the single task described in spec.md §4.3: it is the only
// goroutine that ever reads or writes state[K,V], and the only caller of
// syncClient while it runs (every client call here is made directly,
// keeping the single-writer property trivially true). Once the actor has
// exited, New's teardown goroutine closes the client through syncClient.
type actor[K, V any] struct {
	requests *unboundedQueue[*request[K, V]]
	pollCh   <-chan struct{}
	client   *syncClient
	state    *state[K, V]

	keyDeser Deserializer[K]
	valDeser Deserializer[V]

	pollTimeout time.Duration
	groupID     string

	logger  zerolog.Logger
	metrics *Metrics

	expiredCh chan expiry[K, V]
}

func newActor[K, V any](
	requests *unboundedQueue[*request[K, V]],
	pollCh <-chan struct{},
	client *syncClient,
	keyDeser Deserializer[K],
	valDeser Deserializer[V],
	pollTimeout time.Duration,
	groupID string,
	logger zerolog.Logger,
	metrics *Metrics,
) *actor[K, V] {
	return &actor[K, V]{
		requests:    requests,
		pollCh:      pollCh,
		client:      client,
		state:       newState[K, V](),
		keyDeser:    keyDeser,
		valDeser:    valDeser,
		pollTimeout: pollTimeout,
		groupID:     groupID,
		logger:      logger.With().Str("subcomponent", "actor").Logger(),
		metrics:     metrics,
		expiredCh:   make(chan expiry[K, V], 64),
	}
}

// run is the actor's priority loop: the request queue (user work) is
// drained with tryPop before the actor ever waits on the poll channel
// (spec.md §4.3, §5). A cooperative yield after each handled request keeps
// a flood of user requests from starving the rest of the process.
func (a *actor[K, V]) run(ctx context.Context, onFatal func(error)) {
	defer recoverPanic(a.logger, "actor", onFatal)

	for {
		if req, ok := a.requests.tryPop(); ok {
			a.metrics.requestQueueDepth.Set(float64(a.requests.len()))
			a.handle(ctx, req)
			runtime.Gosched()
			continue
		}

		select {
		case <-a.requests.notify():
			continue
		case e := <-a.expiredCh:
			a.handleExpiry(e)
		case <-a.pollCh:
			a.handlePoll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (a *actor[K, V]) handle(ctx context.Context, req *request[K, V]) {
	switch req.kind {
	case reqSubscribeTopics:
		a.handleSubscribeTopics(ctx, req)
	case reqSubscribePattern:
		a.handleSubscribePattern(ctx, req)
	case reqSeek:
		a.handleSeek(ctx, req)
	case reqBeginningOffsets:
		a.handleBeginningOffsets(ctx, req)
	case reqEndOffsets:
		a.handleEndOffsets(ctx, req)
	case reqAssignment:
		a.handleAssignment(ctx, req)
	case reqFetch:
		a.handleFetch(req.fetch)
	}
}

func (a *actor[K, V]) handleSubscribeTopics(ctx context.Context, req *request[K, V]) {
	_, err := withClient(a.client, func(c Client) (struct{}, error) {
		return struct{}{}, c.SubscribeTopics(ctx, req.subscribeTopics)
	})
	if err == nil {
		a.state.subscribed = true
		a.logger.Info().Strs("topics", req.subscribeTopics).Msg("subscribed")
	}
	req.subscribeSlot.complete(struct{}{}, wrapClientErr("subscribeTopics", err))
}

func (a *actor[K, V]) handleSubscribePattern(ctx context.Context, req *request[K, V]) {
	_, err := withClient(a.client, func(c Client) (struct{}, error) {
		return struct{}{}, c.SubscribePattern(ctx, req.subscribePattern)
	})
	if err == nil {
		a.state.subscribed = true
		a.logger.Info().Str("pattern", req.subscribePattern.String()).Msg("subscribed")
	}
	req.subscribeSlot.complete(struct{}{}, wrapClientErr("subscribePattern", err))
}

func (a *actor[K, V]) handleSeek(ctx context.Context, req *request[K, V]) {
	_, err := withClient(a.client, func(c Client) (struct{}, error) {
		return struct{}{}, c.Seek(ctx, req.seekTP, req.seekOffset)
	})
	req.seekSlot.complete(struct{}{}, wrapClientErr("seek", err))
}

func (a *actor[K, V]) handleBeginningOffsets(ctx context.Context, req *request[K, V]) {
	result, err := withClient(a.client, func(c Client) (map[TopicPartition]int64, error) {
		return c.BeginningOffsets(ctx, req.offsetsPartitions, req.offsetsTimeout)
	})
	req.offsetsSlot.complete(result, wrapClientErr("beginningOffsets", err))
}

func (a *actor[K, V]) handleEndOffsets(ctx context.Context, req *request[K, V]) {
	result, err := withClient(a.client, func(c Client) (map[TopicPartition]int64, error) {
		return c.EndOffsets(ctx, req.offsetsPartitions, req.offsetsTimeout)
	})
	req.offsetsSlot.complete(result, wrapClientErr("endOffsets", err))
}

func (a *actor[K, V]) handleAssignment(ctx context.Context, req *request[K, V]) {
	assigned, err := withClient(a.client, func(c Client) (map[TopicPartition]struct{}, error) {
		return c.Assignment(ctx)
	})
	if err != nil {
		req.assignmentSlot.complete(nil, wrapClientErr("assignment", err))
		return
	}
	if req.onRebalance != nil {
		a.state.rebalanceListeners = append(a.state.rebalanceListeners, *req.onRebalance)
	}
	req.assignmentSlot.complete(assigned, nil)
}

// handleFetch implements spec.md §4.3's Fetch/ExpiringFetch rule: a
// buffered chunk for tp is handed off immediately; otherwise the slot is
// registered and, for ExpiringFetch, a timer is armed.
func (a *actor[K, V]) handleFetch(req *fetchRequest[K, V]) {
	a.state.streaming = true
	tp := req.tp

	if chunk, ok := a.state.records[tp]; ok {
		delete(a.state.records, tp)
		req.slot.complete(fetchResult[K, V]{chunk: chunk, reason: FetchReasonRecords}, nil)
		return
	}

	a.state.fetches[tp] = append(a.state.fetches[tp], req)
	a.metrics.fetchesPending.Set(float64(a.state.pendingFetchCount()))

	if req.expiring {
		a.scheduleExpiry(tp, req)
	}
}

func (a *actor[K, V]) scheduleExpiry(tp TopicPartition, req *fetchRequest[K, V]) {
	time.AfterFunc(req.fetchTimeout, func() {
		req.slot.complete(fetchResult[K, V]{chunk: nil, reason: FetchReasonExpired}, nil)
		select {
		case a.expiredCh <- expiry[K, V]{tp: tp, req: req}:
		default:
		}
	})
}

func (a *actor[K, V]) handleExpiry(e expiry[K, V]) {
	slots := a.state.fetches[e.tp]
	for i, s := range slots {
		if s == e.req {
			a.state.fetches[e.tp] = append(slots[:i:i], slots[i+1:]...)
			a.metrics.fetchesExpiredTotal.Inc()
			break
		}
	}
	if len(a.state.fetches[e.tp]) == 0 {
		delete(a.state.fetches, e.tp)
	}
	a.metrics.fetchesPending.Set(float64(a.state.pendingFetchCount()))
}

// handlePoll is the Poll step of spec.md §4.3: invoke client.Poll,
// partition and deserialize the results, deliver or buffer per
// topic-partition, then diff the assignment snapshot taken before the
// poll against the assignment read after it to drive onRevoked (inside
// this handler) and onAssigned (after it, once revocation bookkeeping is
// done) — preserving the "inside the poll" ordering spec.md §9's Open
// Questions calls out as worth keeping.
func (a *actor[K, V]) handlePoll(ctx context.Context) {
	if !a.state.subscribed {
		return
	}

	records, err := withClient(a.client, func(c Client) ([]RawRecord, error) {
		return c.Poll(ctx, a.pollTimeout)
	})
	a.metrics.pollsTotal.Inc()
	if err != nil {
		a.metrics.pollErrorsTotal.Inc()
		a.logger.Error().Err(err).Msg("poll failed")
		return
	}

	a.deliverRecords(records)
	a.reconcileAssignment(ctx)
}

func (a *actor[K, V]) deliverRecords(records []RawRecord) {
	if len(records) == 0 {
		return
	}

	byTP := make(map[TopicPartition][]CommittableMessage[K, V])
	for _, r := range records {
		key, kerr := a.keyDeser(r.Topic, r.Key)
		if kerr != nil {
			a.logger.Warn().Err(kerr).Str("topic", r.Topic).Int32("partition", r.Partition).Msg("key deserialization failed, dropping record")
			continue
		}
		val, verr := a.valDeser(r.Topic, r.Value)
		if verr != nil {
			a.logger.Warn().Err(verr).Str("topic", r.Topic).Int32("partition", r.Partition).Msg("value deserialization failed, dropping record")
			continue
		}

		tp := TopicPartition{Topic: r.Topic, Partition: r.Partition}
		byTP[tp] = append(byTP[tp], CommittableMessage[K, V]{
			Record: Record[K, V]{
				Topic:     r.Topic,
				Partition: r.Partition,
				Offset:    r.Offset,
				Key:       key,
				Value:     val,
				Timestamp: r.Timestamp,
				Headers:   r.Headers,
			},
			Offset: CommittableOffset{
				Topic:           r.Topic,
				Partition:       r.Partition,
				Offset:          r.Offset + 1,
				ConsumerGroupID: a.groupID,
			},
		})
	}

	for tp, msgs := range byTP {
		chunk := Chunk[CommittableMessage[K, V]](msgs)
		if slots, ok := a.state.fetches[tp]; ok && len(slots) > 0 {
			for _, slot := range slots {
				slot.slot.complete(fetchResult[K, V]{chunk: chunk, reason: FetchReasonRecords}, nil)
			}
			delete(a.state.fetches, tp)
		} else {
			a.state.records[tp] = append(a.state.records[tp], chunk...)
		}
		a.metrics.recordsConsumedTotal.Add(float64(len(msgs)))
	}
	a.metrics.fetchesPending.Set(float64(a.state.pendingFetchCount()))
}

func (a *actor[K, V]) reconcileAssignment(ctx context.Context) {
	prevAssignment := a.state.assignment

	newAssignment, err := withClient(a.client, func(c Client) (map[TopicPartition]struct{}, error) {
		return c.Assignment(ctx)
	})
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to read assignment after poll")
		return
	}

	revoked := make(map[TopicPartition]struct{})
	for tp := range prevAssignment {
		if _, ok := newAssignment[tp]; !ok {
			revoked[tp] = struct{}{}
		}
	}
	assignedNew := make(map[TopicPartition]struct{})
	for tp := range newAssignment {
		if _, ok := prevAssignment[tp]; !ok {
			assignedNew[tp] = struct{}{}
		}
	}

	if len(revoked) > 0 {
		a.metrics.rebalancesTotal.Inc()
		for tp := range revoked {
			if slots, ok := a.state.fetches[tp]; ok {
				for _, slot := range slots {
					slot.slot.complete(fetchResult[K, V]{chunk: nil, reason: FetchReasonRevoked}, nil)
				}
				delete(a.state.fetches, tp)
				a.metrics.fetchesRevokedTotal.Add(float64(len(slots)))
			}
			delete(a.state.records, tp)
		}
		for _, l := range a.state.rebalanceListeners {
			if l.OnRevoked != nil {
				l.OnRevoked(revoked)
			}
		}
		a.logger.Info().Int("count", len(revoked)).Msg("partitions revoked")
	}

	a.state.assignment = newAssignment
	a.metrics.fetchesPending.Set(float64(a.state.pendingFetchCount()))

	if len(assignedNew) > 0 {
		for _, l := range a.state.rebalanceListeners {
			if l.OnAssigned != nil {
				l.OnAssigned(assignedNew)
			}
		}
		a.logger.Info().Int("count", len(assignedNew)).Msg("partitions assigned")
	}
}
