package kafka

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/ava-labs/avalanche-msgbus/pkg/metrics"
)

const (
	// Default suggested Offset Manager parameters
	OffsetManagerCommitInterval  = 5 * time.Second
	OffsetManagerAutoOffsetReset = "latest"

	WindowLengthWarningThreshold = 10000

	brokerQueryTimeoutMs = 5000
)

type offsetState struct {
	window        []kafka.TopicPartition
	lastCommitted kafka.Offset
}

// partitionKey identifies one partition of one subscribed topic. Partition
// numbers repeat across topics, so a window is never keyed by number alone.
type partitionKey struct {
	topic     string
	partition int32
}

func keyOf(tp kafka.TopicPartition) partitionKey {
	return partitionKey{topic: topicOf(tp), partition: tp.Partition}
}

func (k partitionKey) String() string {
	return fmt.Sprintf("%s[%d]", k.topic, k.partition)
}

/*
OffsetManager is a thread-safe, in-memory sliding window committer. It keeps
the acknowledged offsets of each assigned topic partition and ensures "at
least once" processing when messages of one partition are acknowledged out of
order. A single OffsetManager supports only one consumer subscription at a
time, which may cover several topics.

At every commit interval, the OffsetManager scans each partition's window from
lastCommitted and commits the highest offset reachable without a gap.

The window length is unbounded: a message that is never acknowledged stops
commits for its partition and the window keeps growing. Above
WindowLengthWarningThreshold entries a warning is logged.
*/
type OffsetManager struct {
	client          consumerClient
	autoOffsetReset string                        // auto.offset.reset config: "earliest" or "latest"
	partitionStates map[partitionKey]*offsetState // offset states for each assigned topic partition
	mutex           sync.Mutex
	log             *zap.SugaredLogger
	metrics         *metrics.Metrics

	cancel    context.CancelFunc
	loopDone  chan struct{}
	closeOnce sync.Once
}

var (
	_ Committer       = (*OffsetManager)(nil)
	_ deliveryTracker = (*OffsetManager)(nil)
)

// NewOffsetManager creates an OffsetManager and starts its commit loop. The
// loop stops when ctx is done or Close is called.
func NewOffsetManager(
	ctx context.Context,
	client consumerClient,
	interval time.Duration,
	autoOffsetReset string,
	log *zap.SugaredLogger,
	m *metrics.Metrics,
) *OffsetManager {
	ctx, cancel := context.WithCancel(ctx)
	om := &OffsetManager{
		client:          client,
		autoOffsetReset: autoOffsetReset,
		partitionStates: make(map[partitionKey]*offsetState),
		log:             log,
		metrics:         m,
		cancel:          cancel,
		loopDone:        make(chan struct{}),
	}
	go om.managerLoop(ctx, interval)
	return om
}

func (om *OffsetManager) managerLoop(ctx context.Context, interval time.Duration) {
	defer close(om.loopDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			om.commitLatestValidOffsets()
		case <-ctx.Done():
			return
		}
	}
}

// Commit inserts the offset following msg into its partition's window.
func (om *OffsetManager) Commit(ctx context.Context, msg *kafka.Message) error {
	return om.InsertOffset(ctx, nextOffset(msg))
}

// Close stops the commit loop and commits whatever is contiguous one last
// time. It must run before the consumer is closed.
func (om *OffsetManager) Close() error {
	om.closeOnce.Do(func() {
		om.cancel()
		<-om.loopDone
		om.commitLatestValidOffsets()
	})
	return nil
}

// For each assigned partition, scan for a contiguous set of offsets in the
// current window starting from lastCommitted to find the latest valid offset to
// commit to Kafka brokers. After successful commits, truncate the window
// accordingly.
func (om *OffsetManager) commitLatestValidOffsets() {
	om.mutex.Lock()
	defer om.mutex.Unlock()

	for key, state := range om.partitionStates {
		window := state.window
		lastCommitted := state.lastCommitted
		if len(window) == 0 {
			continue
		}

		if window[0].Offset <= lastCommitted+1 {
			end := 0
			for i := 1; i < len(window); i++ {
				// Commit any dangling offsets. This happens when a new
				// consumer group is formed with auto.offset.reset="latest"
				// while a producer is writing, so there is no strict consensus
				// on what the "latest" offset is. See InsertOffset().
				if window[i].Offset <= lastCommitted {
					end = i
					continue
				}

				if window[i].Offset != window[i-1].Offset+1 {
					break
				}
				end = i
			}

			_, err := om.client.CommitOffsets([]kafka.TopicPartition{window[end]})
			om.metrics.OffsetCommitted(key.topic, key.partition, int64(window[end].Offset), err)
			if err != nil {
				om.log.Errorf("failed to commit offsets: %v", err)
				return
			}

			om.log.Debugf("committed offset %d for %s", window[end].Offset, key)
			if end == len(window)-1 {
				om.partitionStates[key] = &offsetState{
					[]kafka.TopicPartition{},
					window[end].Offset,
				}
			} else {
				om.partitionStates[key] = &offsetState{window[end+1:], window[end].Offset}
			}
		}

		windowLen := len(om.partitionStates[key].window)
		om.metrics.SetOffsetWindowSize(key.topic, key.partition, windowLen)
		if windowLen > WindowLengthWarningThreshold {
			om.log.Warnf("%s window length is high: %d", key, windowLen)
		}
	}
}

// Delivered records that the message at tp was handed to the application.
// The first delivery of a partition without a usable stored offset sets its
// lastCommitted, so a later message acknowledged first cannot be committed
// past an earlier one still in flight.
func (om *OffsetManager) Delivered(tp kafka.TopicPartition) {
	om.mutex.Lock()
	defer om.mutex.Unlock()

	key := keyOf(tp)
	state := om.partitionStates[key]
	if state == nil || state.lastCommitted >= 0 {
		return
	}
	state.lastCommitted = tp.Offset
	om.log.Infof("init %s lastCommitted to %d on first delivery", key, state.lastCommitted)
}

// InsertOffset inserts an offset to commit into the sliding window for
// partition `offset.Partition` of topic `offset.Topic`. `offset.Offset` must
// be one higher than the offset of the processed message, i.e.
// `message.TopicPartition.Offset+1`.
// See https://github.com/confluentinc/confluent-kafka-go/issues/350
//
// Topic, Partition, and Offset fields are required.
func (om *OffsetManager) InsertOffset(ctx context.Context, offset kafka.TopicPartition) error {
	om.mutex.Lock()
	defer om.mutex.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	key := keyOf(offset)
	state := om.partitionStates[key]
	if state == nil {
		om.log.Warnf("%s not found in partition states, ignoring", key)
		return nil
	}

	// If the lastCommitted offset is not initialized, we set it to the offset
	// of the actual message that has been processed to generate this offset
	// commit (offset.Offset-1). This first picked offset does not need to be
	// the absolute first one fetched from the broker. Consumers normally
	// initialize it earlier through Delivered.
	if state.lastCommitted < 0 {
		state.lastCommitted = offset.Offset - 1
		om.log.Infof("init %s lastCommitted to %d", key, state.lastCommitted)
	}

	window := state.window
	i := sort.Search(
		len(window),
		func(j int) bool { return window[j].Offset >= offset.Offset },
	)
	if i < len(window) && window[i].Offset == offset.Offset {
		return nil // already inserted
	}
	state.window = slices.Insert(window, i, offset)
	return nil
}

// RebalanceCb resets or initializes partition states. It is installed as
// (part of) the rebalance callback passed to SubscribeTopics.
func (om *OffsetManager) RebalanceCb(_ *kafka.Consumer, event kafka.Event) error {
	om.mutex.Lock()
	defer om.mutex.Unlock()
	switch ev := event.(type) {
	case kafka.AssignedPartitions:
		// Rebalance events may provide offsets, but offsets seem to be
		// kafka.InvalidOffset (-1001) when a consumer is joining an idle, but
		// already existing, group. So we explicitly get the committed offsets
		// from the broker.
		committedOffsets, err := om.client.Committed(ev.Partitions, brokerQueryTimeoutMs)
		if err != nil {
			return fmt.Errorf("failed to get committed offsets: %w", err)
		}

		logStr := make([]string, len(committedOffsets))
		for i, co := range committedOffsets {
			key := keyOf(co)
			state := &offsetState{
				window:        []kafka.TopicPartition{},
				lastCommitted: co.Offset,
			}
			om.partitionStates[key] = state

			// If the group's stored offset is lower than the earliest offset of
			// the topic due to its retention policy, librdkafka will
			// immediately start fetching based off auto.offset.reset. We
			// invalidate any stored offset here and will have the OffsetManager
			// pick any first offset to initialize the window.
			low, high, err := om.client.QueryWatermarkOffsets(key.topic, key.partition, brokerQueryTimeoutMs)
			if err != nil {
				om.log.Errorf("QueryWatermarkOffsets failed: %v", err)
				return fmt.Errorf("QueryWatermarkOffsets failed: %w", err)
			}

			om.log.Infof(
				"QueryWatermarkOffsets for %s: (low: %d, high: %d), auto.offset.reset: %s",
				key,
				low,
				high,
				om.autoOffsetReset,
			)

			if co.Offset < 0 || co.Offset < kafka.Offset(low) {
				// Reset the offset to kafka.OffsetInvalid (-1001) to
				// indicate a stored offset does not exist or is now out of
				// range
				state.lastCommitted = kafka.OffsetInvalid
			}

			logStr[i] = fmt.Sprintf("(%s, lastCommitted: %d)", key, state.lastCommitted)
		}

		om.log.Infof("rebalance event, adding partition states: %s", strings.Join(logStr, ","))
	case kafka.RevokedPartitions:
		logStr := make([]string, len(ev.Partitions))
		for i, partition := range ev.Partitions {
			key := keyOf(partition)
			logStr[i] = key.String()
			delete(om.partitionStates, key)
		}
		om.log.Infof("rebalance event, removing state for partitions: %s", strings.Join(logStr, ","))
	default:
		om.log.Warnf("unknown rebalance event: %v", event)
	}
	return nil
}
