package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, ParseBrokers(" a:9092, ,b:9092 "))
	assert.Empty(t, ParseBrokers(""))
}

func TestProducer_Publish(t *testing.T) {
	t.Run("writes key, value and headers", func(t *testing.T) {
		writer := &fakeWriter{}
		producer := NewProducerWithWriter(writer, "workspace-user-merges", getTestLogger())

		err := producer.Publish(context.Background(), "target-1", []byte(`{"ok":true}`), map[string]string{"event_type": "workspace_user.merged"})

		require.NoError(t, err)
		require.Len(t, writer.messages, 1)
		msg := writer.messages[0]
		assert.Equal(t, "target-1", string(msg.Key))
		assert.JSONEq(t, `{"ok":true}`, string(msg.Value))
		assert.Equal(t, "workspace_user.merged", headerValue(msg, "event_type"))
		assert.Equal(t, "workspace-user-merges", producer.Topic())
	})

	t.Run("returns write errors", func(t *testing.T) {
		writer := &fakeWriter{err: errors.New("leader not available")}
		producer := NewProducerWithWriter(writer, "workspace-user-merges", getTestLogger())

		err := producer.Publish(context.Background(), "k", nil, nil)

		assert.EqualError(t, err, "leader not available")
	})

	t.Run("close closes the writer", func(t *testing.T) {
		writer := &fakeWriter{}
		require.NoError(t, NewProducerWithWriter(writer, "t", getTestLogger()).Close())
		assert.True(t, writer.closed)
	})
}

func TestPing_NoBrokers(t *testing.T) {
	assert.Error(t, Ping(context.Background(), nil))
}
