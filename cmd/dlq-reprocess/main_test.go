package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/messaging/kafka"
)

const consumerDLQValue = `{"original_topic":"lifecycle.notifications","original_key":"customer-1","original_value":"{\"id\":\"evt-1\"}"}`

func TestParseBrokers(t *testing.T) {
	brokers := parseBrokers(" broker-1:9092, ,broker-2:9092 ")
	if len(brokers) != 2 {
		t.Fatalf("unexpected brokers count: got=%d want=2", len(brokers))
	}
	if brokers[0] != "broker-1:9092" || brokers[1] != "broker-2:9092" {
		t.Fatalf("unexpected brokers: %+v", brokers)
	}
}

func TestExtractReplayMessage_ConsumerDLQPayload(t *testing.T) {
	message := &sarama.ConsumerMessage{Value: []byte(consumerDLQValue)}

	got, ok, err := extractReplayMessage(message, "")
	if err != nil {
		t.Fatalf("extractReplayMessage failed: %v", err)
	}
	if !ok {
		t.Fatal("expected replay candidate")
	}
	if got.topic != kafka.TopicNotifications {
		t.Fatalf("unexpected topic: %s", got.topic)
	}
	if got.key != "customer-1" {
		t.Fatalf("unexpected key: %s", got.key)
	}
	if string(got.value) != `{"id":"evt-1"}` {
		t.Fatalf("unexpected replay value: %s", string(got.value))
	}

	overridden, _, err := extractReplayMessage(message, "lifecycle.replay")
	if err != nil {
		t.Fatalf("extractReplayMessage with override failed: %v", err)
	}
	if overridden.topic != "lifecycle.replay" {
		t.Fatalf("override must win over original topic, got %s", overridden.topic)
	}
}

func outboxDLQMessage(t *testing.T, aggregateType string, nested map[string]any) *sarama.ConsumerMessage {
	t.Helper()

	envelope := map[string]any{
		"id":             "outbox-1",
		"aggregate_type": "outbox_dlq",
		"aggregate_id":   "customer-1",
		"event_type":     "order_cancelled",
		"payload": map[string]any{
			"outbox_id":      "outbox-1",
			"aggregate_type": aggregateType,
			"aggregate_id":   "customer-1",
			"event_type":     "order_cancelled",
			"publish_error":  "timeout",
			"attempts":       3,
		},
	}
	if nested != nil {
		envelope["payload"].(map[string]any)["payload"] = nested
	}

	raw, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope failed: %v", err)
	}
	return &sarama.ConsumerMessage{Value: raw}
}

func TestExtractReplayMessage_OutboxDLQPayloadRoutesByAggregate(t *testing.T) {
	testCases := []struct {
		name          string
		aggregateType string
		override      string
		wantTopic     string
	}{
		{name: "notification", aggregateType: kafka.AggregateNotification, wantTopic: kafka.TopicNotifications},
		{name: "channel", aggregateType: kafka.AggregateChannel, wantTopic: kafka.DefaultRoutes()[kafka.AggregateChannel]},
		{name: "unknown falls back to operations", aggregateType: "refund", wantTopic: kafka.TopicOperations},
		{name: "override", aggregateType: kafka.AggregateNotification, override: "lifecycle.replay", wantTopic: "lifecycle.replay"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			message := outboxDLQMessage(t, tc.aggregateType, map[string]any{"order_id": "order-1"})

			got, ok, err := extractReplayMessage(message, tc.override)
			if err != nil {
				t.Fatalf("extractReplayMessage failed: %v", err)
			}
			if !ok {
				t.Fatal("expected replay candidate")
			}
			if got.topic != tc.wantTopic {
				t.Fatalf("unexpected topic: got=%s want=%s", got.topic, tc.wantTopic)
			}
			if got.key != "customer-1" {
				t.Fatalf("unexpected key: %s", got.key)
			}
			if got.eventType != "order_cancelled" {
				t.Fatalf("unexpected event type: %s", got.eventType)
			}

			var replayed kafka.Envelope
			if err := json.Unmarshal(got.value, &replayed); err != nil {
				t.Fatalf("replay value must be an envelope: %v", err)
			}
			if replayed.AggregateType != tc.aggregateType || replayed.ID != "outbox-1" {
				t.Fatalf("unexpected replay envelope: %+v", replayed)
			}
			if string(replayed.Payload) != `{"order_id":"order-1"}` {
				t.Fatalf("original payload must be restored, got %s", replayed.Payload)
			}
		})
	}
}

func TestExtractReplayMessage_OutboxMissingNestedPayload(t *testing.T) {
	_, ok, err := extractReplayMessage(outboxDLQMessage(t, kafka.AggregateNotification, nil), "")
	if err == nil {
		t.Fatal("expected error for missing nested payload")
	}
	if ok {
		t.Fatal("expected no replay candidate")
	}
}

func TestExtractReplayMessage_UnknownPayload(t *testing.T) {
	for _, value := range []string{`{"foo":"bar"}`, `not-json`} {
		_, ok, err := extractReplayMessage(&sarama.ConsumerMessage{Value: []byte(value)}, "")
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", value, err)
		}
		if ok {
			t.Fatalf("expected %s to be skipped", value)
		}
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", "x", "y"); got != "x" {
		t.Fatalf("unexpected first non-empty value: %q", got)
	}
	if got := firstNonEmpty("", " "); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}
}

func TestReadConfig_FromFlags(t *testing.T) {
	cfg, err := readConfig([]string{
		"-brokers=broker-1:9092,broker-2:9092",
		"-target-topic=lifecycle.replay",
		"-limit=10",
		"-execute=true",
		"-from-newest=true",
		"-idle-timeout=3s",
	}, lookupFrom(nil))
	if err != nil {
		t.Fatalf("readConfig failed: %v", err)
	}
	if len(cfg.brokers) != 2 {
		t.Fatalf("unexpected brokers count: %d", len(cfg.brokers))
	}
	if cfg.sourceTopic != kafka.TopicDeadLetterQueue {
		t.Fatalf("source topic must default to dlq, got %s", cfg.sourceTopic)
	}
	if cfg.targetTopic != "lifecycle.replay" {
		t.Fatalf("unexpected target topic: %s", cfg.targetTopic)
	}
	if cfg.limit != 10 || !cfg.execute || !cfg.fromNewest {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.idleTimeout != 3*time.Second {
		t.Fatalf("unexpected idle-timeout: %s", cfg.idleTimeout)
	}
	if cfg.follow || cfg.groupID != defaultGroupID {
		t.Fatalf("unexpected follow settings: %+v", cfg)
	}
}

func TestReadConfig_BrokersFromEnv(t *testing.T) {
	cfg, err := readConfig([]string{"-follow", "-group=ops"}, lookupFrom(map[string]string{
		envKafkaBrokers: "kafka-1:9092, kafka-2:9092",
	}))
	if err != nil {
		t.Fatalf("readConfig failed: %v", err)
	}
	if len(cfg.brokers) != 2 || cfg.brokers[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers: %+v", cfg.brokers)
	}
	if !cfg.follow || cfg.groupID != "ops" {
		t.Fatalf("unexpected follow settings: %+v", cfg)
	}
	if cfg.targetTopic != "" {
		t.Fatalf("target topic must default to aggregate routing, got %q", cfg.targetTopic)
	}
}

func TestReadConfig_ValidationErrors(t *testing.T) {
	testCases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "no brokers", args: []string{"-brokers="}, wantErr: "kafka brokers are required"},
		{name: "empty source", args: []string{"-brokers=broker:9092", "-source-topic="}, wantErr: "source-topic is required"},
		{name: "loop", args: []string{"-brokers=broker:9092", "-target-topic=" + kafka.TopicDeadLetterQueue}, wantErr: "must differ"},
		{name: "limit", args: []string{"-brokers=broker:9092", "-limit=0"}, wantErr: "limit must be > 0"},
		{name: "idle timeout", args: []string{"-brokers=broker:9092", "-idle-timeout=0s"}, wantErr: "idle-timeout must be > 0"},
		{name: "follow without group", args: []string{"-brokers=broker:9092", "-follow", "-group= "}, wantErr: "group is required"},
		{name: "unknown flag", args: []string{"-brokers=broker:9092", "-bogus"}, wantErr: "bogus"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := readConfig(tc.args, lookupFrom(nil))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestPublishReplay(t *testing.T) {
	if err := publishReplay(nil, replayMessage{}, kafka.TopicDeadLetterQueue); err == nil {
		t.Fatal("expected error for nil producer")
	}

	producer := &stubReplayProducer{}
	err := publishReplay(producer, replayMessage{
		topic:     kafka.TopicNotifications,
		key:       "customer-1",
		value:     []byte(`{"x":1}`),
		eventType: "order_cancelled",
	}, kafka.TopicDeadLetterQueue)
	if err != nil {
		t.Fatalf("publishReplay failed: %v", err)
	}
	if len(producer.published) != 1 {
		t.Fatalf("unexpected producer calls: %d", len(producer.published))
	}
	got := producer.published[0]
	if got.topic != kafka.TopicNotifications || got.key != "customer-1" {
		t.Fatalf("unexpected published message: %+v", got)
	}
	if got.headers[headerReplayedFrom] != kafka.TopicDeadLetterQueue {
		t.Fatalf("replay must be marked with its source, headers=%v", got.headers)
	}
	if got.headers[kafka.HeaderEventType] != "order_cancelled" {
		t.Fatalf("event type header missing, headers=%v", got.headers)
	}

	producer.sendErr = errors.New("send failed")
	if err := publishReplay(producer, replayMessage{topic: "topic", value: []byte(`{}`)}, "src"); err == nil {
		t.Fatal("expected publishReplay error")
	}
}

func TestReplayHandler(t *testing.T) {
	producer := &stubReplayProducer{}
	handler := replayHandler(config{execute: true}, producer)

	msg := &sarama.ConsumerMessage{Topic: kafka.TopicDeadLetterQueue, Value: []byte(consumerDLQValue)}
	if err := handler(context.Background(), msg); err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if len(producer.published) != 1 || producer.published[0].topic != kafka.TopicNotifications {
		t.Fatalf("unexpected published messages: %+v", producer.published)
	}

	if err := handler(context.Background(), &sarama.ConsumerMessage{Value: []byte(`{"foo":"bar"}`)}); err != nil {
		t.Fatalf("unsupported messages must be acknowledged, got %v", err)
	}
	if len(producer.published) != 1 {
		t.Fatal("unsupported message must not be published")
	}

	producer.sendErr = errors.New("broker down")
	if err := handler(context.Background(), msg); err == nil {
		t.Fatal("publish failure must be returned for consumer retry")
	}

	dryRun := replayHandler(config{}, nil)
	if err := dryRun(context.Background(), msg); err != nil {
		t.Fatalf("dry-run handler failed: %v", err)
	}
}

func TestRunFollow(t *testing.T) {
	oldFollower := newFollower
	defer func() { newFollower = oldFollower }()

	stub := &stubFollower{}
	var gotCfg config
	newFollower = func(cfg config, handler kafka.MessageHandler) (follower, error) {
		gotCfg = cfg
		if handler == nil {
			t.Fatal("handler must be provided")
		}
		return stub, nil
	}

	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, groupID: defaultGroupID, follow: true}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if err := runFollow(ctx, cfg); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !stub.started || !stub.stopped {
		t.Fatalf("follower must be started and stopped: %+v", stub)
	}
	if gotCfg.groupID != defaultGroupID {
		t.Fatalf("unexpected follower config: %+v", gotCfg)
	}

	newFollower = func(config, kafka.MessageHandler) (follower, error) {
		return nil, errors.New("no brokers")
	}
	if err := runFollow(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "no brokers") {
		t.Fatalf("expected follower construction error, got %v", err)
	}

	newFollower = func(config, kafka.MessageHandler) (follower, error) {
		return &stubFollower{startErr: errors.New("group join failed")}, nil
	}
	if err := runFollow(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "group join failed") {
		t.Fatalf("expected start error, got %v", err)
	}
}

func TestProcessPartition_DryRun(t *testing.T) {
	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 2},
		},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 0, Offset: 0, Value: []byte(consumerDLQValue)}}),
		},
	}

	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, idleTimeout: 20 * time.Millisecond}

	stats, err := processPartition(context.Background(), consumer, client, nil, cfg, 0, 10)
	if err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if stats.processed != 1 || stats.replayed != 1 || stats.skipped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(consumer.calls) != 1 || consumer.calls[0].offset != 0 {
		t.Fatalf("unexpected consume calls: %+v", consumer.calls)
	}
}

func TestProcessPartition_FromNewestStartsAtWindow(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 3, newest: 10}}}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer(nil),
		},
	}
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, fromNewest: true, idleTimeout: 20 * time.Millisecond}

	if _, err := processPartition(context.Background(), consumer, client, nil, cfg, 0, 2); err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if len(consumer.calls) != 1 || consumer.calls[0].offset != 8 {
		t.Fatalf("expected scan from offset 8, got %+v", consumer.calls)
	}
}

func TestProcessPartition_Execute(t *testing.T) {
	client := &stubOffsetClient{
		offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 0, Offset: 0, Value: []byte(consumerDLQValue)}}),
		},
	}
	producer := &stubReplayProducer{}

	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, execute: true, idleTimeout: 20 * time.Millisecond}

	stats, err := processPartition(context.Background(), consumer, client, producer, cfg, 0, 10)
	if err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if stats.replayed != 1 {
		t.Fatalf("expected replayed=1, got %+v", stats)
	}
	if len(producer.published) != 1 {
		t.Fatalf("expected one producer call, got %d", len(producer.published))
	}
}

func TestProcessPartition_ErrorBranches(t *testing.T) {
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, execute: true, idleTimeout: 20 * time.Millisecond}

	clientOffsetErr := &stubOffsetClient{offsetErr: map[int32]error{0: errors.New("offset")}}
	if _, err := processPartition(context.Background(), &stubPartitionConsumerSource{}, clientOffsetErr, &stubReplayProducer{}, cfg, 0, 1); err == nil {
		t.Fatal("expected offset error")
	}

	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	consumerErr := &stubPartitionConsumerSource{consumeErr: errors.New("consume")}
	if _, err := processPartition(context.Background(), consumerErr, client, &stubReplayProducer{}, cfg, 0, 1); err == nil {
		t.Fatal("expected consume error")
	}

	pcWithErr := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError, 1),
	}
	pcWithErr.errors <- &sarama.ConsumerError{Err: errors.New("consumer boom")}
	close(pcWithErr.errors)
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pcWithErr}}
	if _, err := processPartition(context.Background(), consumer, client, &stubReplayProducer{}, cfg, 0, 1); err == nil {
		t.Fatal("expected consumer error branch")
	}
	close(pcWithErr.messages)

	pcBadPayload := closedPartitionConsumer([]*sarama.ConsumerMessage{{
		Partition: 0,
		Offset:    0,
		Value:     []byte(`{"id":"x","payload":"not-an-object"}`),
	}})
	consumer = &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pcBadPayload}}
	stats, err := processPartition(context.Background(), consumer, client, &stubReplayProducer{}, cfg, 0, 1)
	if err != nil {
		t.Fatalf("unexpected bad-payload error: %v", err)
	}
	if stats.skipped != 1 {
		t.Fatalf("expected skipped=1, got %+v", stats)
	}

	pcOK := closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 0, Offset: 0, Value: []byte(consumerDLQValue)}})
	consumer = &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pcOK}}
	producer := &stubReplayProducer{sendErr: errors.New("send fail")}
	if _, err := processPartition(context.Background(), consumer, client, producer, cfg, 0, 1); err == nil {
		t.Fatal("expected producer send error")
	}
}

func TestProcessPartition_IdleTimeoutAndContext(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}

	idleConsumer := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: idleConsumer}}
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, idleTimeout: 10 * time.Millisecond}

	stats, err := processPartition(context.Background(), consumer, client, nil, cfg, 0, 1)
	if err != nil {
		t.Fatalf("unexpected idle-timeout error: %v", err)
	}
	if stats.processed != 0 {
		t.Fatalf("expected processed=0, got %+v", stats)
	}
	close(idleConsumer.messages)
	close(idleConsumer.errors)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	canceledPC := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	canceledConsumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: canceledPC}}
	if _, err := processPartition(ctx, canceledConsumer, client, nil, cfg, 0, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	close(canceledPC.messages)
	close(canceledPC.errors)
}

func TestRunReplay(t *testing.T) {
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, limit: 1, idleTimeout: 20 * time.Millisecond}

	if err := runReplay(context.Background(), cfg, nil, nil, nil); err == nil {
		t.Fatal("expected missing deps error")
	}

	client := &stubOffsetClient{
		partitions: []int32{2, 0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 2},
			2: {oldest: 0, newest: 2},
		},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 0, Offset: 0, Value: []byte(consumerDLQValue)}}),
			2: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 2, Offset: 0, Value: []byte(consumerDLQValue)}}),
		},
	}

	if err := runReplay(context.Background(), cfg, client, consumer, nil); err != nil {
		t.Fatalf("runReplay failed: %v", err)
	}
	if len(consumer.calls) != 1 {
		t.Fatalf("expected one partition due limit=1, got calls=%d", len(consumer.calls))
	}
	if consumer.calls[0].partition != 0 {
		t.Fatalf("expected first sorted partition=0, got %d", consumer.calls[0].partition)
	}

	executeCfg := cfg
	executeCfg.execute = true
	if err := runReplay(context.Background(), executeCfg, client, consumer, nil); err == nil {
		t.Fatal("expected execute mode to require producer")
	}

	emptyClient := &stubOffsetClient{partitions: nil}
	if err := runReplay(context.Background(), cfg, emptyClient, consumer, nil); err != nil {
		t.Fatalf("expected nil error for empty partitions, got %v", err)
	}
}

func TestRun_UsesDependencies(t *testing.T) {
	oldDeps := newReplayDependencies
	defer func() { newReplayDependencies = oldDeps }()

	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, limit: 1, idleTimeout: 20 * time.Millisecond}

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return nil, nil, nil, errors.New("deps failed")
	}
	if err := run(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "deps failed") {
		t.Fatalf("expected deps error, got %v", err)
	}

	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 2},
		},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 0, Offset: 0, Value: []byte(consumerDLQValue)}}),
		},
	}
	producer := &stubReplayProducer{}

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return client, consumer, producer, nil
	}
	if err := run(context.Background(), cfg); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !client.closed || !consumer.closed || !producer.closed {
		t.Fatalf("expected all deps to be closed: client=%v consumer=%v producer=%v", client.closed, consumer.closed, producer.closed)
	}
}

func TestMain_SuccessWithStubbedDeps(t *testing.T) {
	oldDeps := newReplayDependencies
	oldArgs := os.Args
	defer func() {
		newReplayDependencies = oldDeps
		os.Args = oldArgs
	}()

	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 2},
		},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 0, Offset: 0, Value: []byte(consumerDLQValue)}}),
		},
	}
	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return client, consumer, nil, nil
	}

	os.Args = []string{"dlq-reprocess", "-brokers=broker:9092", "-limit=1", "-idle-timeout=50ms"}

	main()
}

func TestFailExits(t *testing.T) {
	if os.Getenv("DLQ_TEST_FAIL_EXIT") == "1" {
		fail("boom")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "DLQ_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with error")
	}
	if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}

type offsetRange struct {
	oldest int64
	newest int64
}

type stubOffsetClient struct {
	partitions    []int32
	partitionsErr error
	offsets       map[int32]offsetRange
	offsetErr     map[int32]error
	closed        bool
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if err, ok := s.offsetErr[partition]; ok {
		return 0, err
	}

	r := s.offsets[partition]
	switch marker {
	case sarama.OffsetOldest:
		return r.oldest, nil
	case sarama.OffsetNewest:
		return r.newest, nil
	default:
		return 0, fmt.Errorf("unsupported marker %d", marker)
	}
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	if s.partitionsErr != nil {
		return nil, s.partitionsErr
	}
	return append([]int32(nil), s.partitions...), nil
}

func (s *stubOffsetClient) Close() error {
	s.closed = true
	return nil
}

type consumeCall struct {
	partition int32
	offset    int64
}

type stubPartitionConsumerSource struct {
	consumers  map[int32]partitionConsumer
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (s *stubPartitionConsumerSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	s.calls = append(s.calls, consumeCall{partition: partition, offset: offset})
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	pc, ok := s.consumers[partition]
	if !ok {
		return nil, fmt.Errorf("partition %d not configured", partition)
	}
	return pc, nil
}

func (s *stubPartitionConsumerSource) Close() error {
	s.closed = true
	return nil
}

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
	closed   bool
}

func (s *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubPartitionConsumer) Close() error {
	s.closed = true
	return nil
}

func closedPartitionConsumer(messages []*sarama.ConsumerMessage) *stubPartitionConsumer {
	msgCh := make(chan *sarama.ConsumerMessage, len(messages))
	errCh := make(chan *sarama.ConsumerError)
	for _, msg := range messages {
		msgCh <- msg
	}
	close(msgCh)
	close(errCh)
	return &stubPartitionConsumer{messages: msgCh, errors: errCh}
}

type publishedMessage struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

type stubReplayProducer struct {
	sendErr   error
	published []publishedMessage
	closed    bool
}

func (s *stubReplayProducer) Publish(topic, key string, value []byte, headers ...sarama.RecordHeader) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	h := make(map[string]string, len(headers))
	for _, header := range headers {
		h[string(header.Key)] = string(header.Value)
	}
	s.published = append(s.published, publishedMessage{topic: topic, key: key, value: value, headers: h})
	return nil
}

func (s *stubReplayProducer) Close() error {
	s.closed = true
	return nil
}

type stubFollower struct {
	startErr error
	started  bool
	stopped  bool
}

func (s *stubFollower) Start(context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	return nil
}

func (s *stubFollower) Stop() error {
	s.stopped = true
	return nil
}
