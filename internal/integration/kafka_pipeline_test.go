//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/geoposition-service/internal/adapter/kafka"
	"github.com/couchcryptid/geoposition-service/internal/config"
	"github.com/couchcryptid/geoposition-service/internal/domain"
	"github.com/couchcryptid/geoposition-service/internal/geo"
	"github.com/couchcryptid/geoposition-service/internal/geocode"
	"github.com/couchcryptid/geoposition-service/internal/observability"
	"github.com/couchcryptid/geoposition-service/internal/pipeline"
)

const (
	testSourceTopic = "test-position-requests"
	testSinkTopic   = "test-enriched-positions"
)

// cityResolver answers every resolvable position with Austin.
type cityResolver struct{}

func (cityResolver) Resolve(_ context.Context, pos *domain.Position, _ ...geocode.Option) (geo.Resolution, error) {
	role := pos.GeocodeRole()
	if role == domain.RoleNone {
		return geo.Resolution{}, geo.ErrNothingToResolve
	}
	data := domain.Payload{"city": "Austin", "region_code": "TX", "country_code": "US"}
	pos.Merge(data)
	return geo.Resolution{Role: role, Data: data}, nil
}

// enrichedMessage holds a deserialized message read from the sink topic.
type enrichedMessage struct {
	Position domain.Position
	Key      string
	Headers  map[string]string
}

func discardLogger() *slog.Logger {
	return observability.DiscardLogger()
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	ctr, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("geoposition-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() {
		if err := ctr.Terminate(context.Background()); err != nil {
			t.Logf("terminate kafka container: %v", err)
		}
	})

	brokers, err := ctr.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

func testConfig(broker, group string) *config.Config {
	return &config.Config{
		KafkaBrokers:       []string{broker},
		KafkaSourceTopic:   testSourceTopic,
		KafkaSinkTopic:     testSinkTopic,
		KafkaGroupID:       fmt.Sprintf("%s-%d", group, time.Now().UnixNano()),
		BatchFlushInterval: 5 * time.Second,
	}
}

func sinkConsumer(t *testing.T, broker string) *kafkago.Reader {
	t.Helper()
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSinkTopic,
		GroupID:     fmt.Sprintf("test-sink-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })
	return consumer
}

// readEnriched reads a single message from the sink consumer and deserializes it.
func readEnriched(ctx context.Context, t *testing.T, consumer *kafkago.Reader) enrichedMessage {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from sink topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var pos domain.Position
	require.NoError(t, json.Unmarshal(msg.Value, &pos), "unmarshal sink message")

	return enrichedMessage{Position: pos, Key: string(msg.Key), Headers: headers}
}

func publish(ctx context.Context, t *testing.T, broker string, msgs ...kafkago.Message) {
	t.Helper()
	producer := &kafkago.Writer{Addr: kafkago.TCP(broker), Topic: testSourceTopic}
	t.Cleanup(func() { _ = producer.Close() })
	require.NoError(t, producer.WriteMessages(ctx, msgs...))
}

func runPipeline(ctx context.Context, t *testing.T, cfg *config.Config, r pipeline.Resolver) func() {
	t.Helper()
	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	p := pipeline.New(reader, pipeline.NewTransformer(r, discardLogger()), writer,
		discardLogger(), observability.NewMetricsForTesting(), pipeline.Options{BatchSize: 50, Concurrency: 4})

	pipelineCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(pipelineCtx) }()

	return func() {
		cancel()
		require.NoError(t, <-errCh)
	}
}

// TestKafkaReaderWriter round-trips a position request through kafka.Reader
// and kafka.Writer.
func TestKafkaReaderWriter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)
	cfg := testConfig(broker, "test-reader")

	payload := []byte(`{"latitude":30.2672,"longitude":-97.7431}`)
	publish(ctx, t, broker, kafkago.Message{
		Key:     []byte("device-1"),
		Value:   payload,
		Headers: []kafkago.Header{{Key: "source", Value: []byte("fleet")}},
	})

	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	// The consumer group may need time to rebalance before partitions are
	// assigned.
	var batch []domain.RawMessage
	for len(batch) == 0 {
		var err error
		batch, err = reader.ExtractBatch(ctx, 1)
		require.NoError(t, err)
		if ctx.Err() != nil {
			t.Fatal("timed out waiting for message from source topic")
		}
	}
	require.Len(t, batch, 1)
	raw := batch[0]
	assert.Equal(t, []byte("device-1"), raw.Key)
	assert.JSONEq(t, string(payload), string(raw.Value))
	assert.Equal(t, testSourceTopic, raw.Topic)
	assert.Equal(t, "fleet", raw.Headers["source"])
	require.NotNil(t, raw.Commit)
	require.NoError(t, raw.Commit(ctx))

	out, err := pipeline.NewTransformer(cityResolver{}, discardLogger()).Transform(ctx, raw)
	require.NoError(t, err)

	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })
	require.NoError(t, writer.LoadBatch(ctx, []domain.OutputMessage{out}))

	msg := readEnriched(ctx, t, sinkConsumer(t, broker))
	assert.Equal(t, "device-1", msg.Key)
	assert.Equal(t, "reverse", msg.Headers[pipeline.HeaderRole])
	assert.Equal(t, pipeline.OutcomeSuccess, msg.Headers[pipeline.HeaderOutcome])
	assert.Equal(t, "fleet", msg.Headers["source"])
	assert.Equal(t, "Austin", msg.Position.Address.City)
	require.NotNil(t, msg.Position.Coords.Latitude)
	assert.InDelta(t, 30.2672, *msg.Position.Coords.Latitude, 1e-9)
}

// TestPipelineEndToEnd runs Reader, Transformer and Writer against real Kafka
// with one request per geocoding role.
func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)
	cfg := testConfig(broker, "test-pipeline")

	requests := map[string]string{
		"reverse": `{"latitude":30.2672,"longitude":-97.7431}`,
		"forward": `{"formatted":"Congress Avenue, Austin"}`,
		"ip":      `{"ip":"8.8.8.8"}`,
		"none":    `{"accuracy":10}`,
	}
	msgs := make([]kafkago.Message, 0, len(requests))
	for key, value := range requests {
		msgs = append(msgs, kafkago.Message{Key: []byte(key), Value: []byte(value)})
	}
	publish(ctx, t, broker, msgs...)

	stop := runPipeline(ctx, t, cfg, cityResolver{})
	consumer := sinkConsumer(t, broker)

	received := make(map[string]enrichedMessage, len(requests))
	for len(received) < len(requests) {
		msg := readEnriched(ctx, t, consumer)
		received[msg.Key] = msg
	}
	stop()

	for _, role := range []string{"reverse", "forward", "ip"} {
		msg := received[role]
		assert.Equal(t, role, msg.Headers[pipeline.HeaderRole], role)
		assert.Equal(t, pipeline.OutcomeSuccess, msg.Headers[pipeline.HeaderOutcome], role)
		assert.Equal(t, "Austin", msg.Position.Address.City, role)
	}

	none := received["none"]
	assert.Empty(t, none.Headers[pipeline.HeaderRole])
	assert.Equal(t, pipeline.OutcomeSkipped, none.Headers[pipeline.HeaderOutcome])
	assert.Empty(t, none.Position.Address.City)
}

// TestPipelineTransformError verifies that a poison pill is skipped and the
// pipeline keeps processing valid messages.
func TestPipelineTransformError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)
	cfg := testConfig(broker, "test-poison")

	publish(ctx, t, broker,
		kafkago.Message{Key: []byte("bad"), Value: []byte("not-json{{{")},
		kafkago.Message{Key: []byte("good"), Value: []byte(`{"ip":"8.8.8.8"}`)},
	)

	stop := runPipeline(ctx, t, cfg, cityResolver{})
	consumer := sinkConsumer(t, broker)

	msg := readEnriched(ctx, t, consumer)
	assert.Equal(t, "good", msg.Key)
	assert.Equal(t, "8.8.8.8", msg.Position.IP)

	readCtx, readCancel := context.WithTimeout(ctx, 5*time.Second)
	_, err := consumer.ReadMessage(readCtx)
	readCancel()
	assert.Error(t, err, "expected no second message on sink topic")

	stop()
}
