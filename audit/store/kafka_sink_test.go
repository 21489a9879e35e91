package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/root-sector-ltd-and-co-kg/framesync/types"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSinkPublishesKeyedRecord(t *testing.T) {
	w := &recordingWriter{}
	sink := &KafkaSink{writer: w}

	rec := &types.ExecutionRecord{ID: "r-1", Sequence: 7, ActionID: "a1", Status: types.StatusExecuted}
	require.NoError(t, sink.Append(context.Background(), rec))
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "a1", string(msg.Key))

	var decoded types.ExecutionRecord
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, uint64(7), decoded.Sequence)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "executed", headers["status"])
	assert.Equal(t, "7", headers["sequence"])

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestKafkaSinkWrapsWriterError(t *testing.T) {
	sink := &KafkaSink{writer: &recordingWriter{err: errors.New("leader not available")}}

	err := sink.Append(context.Background(), &types.ExecutionRecord{Sequence: 2, ActionID: "a1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leader not available")
}

func TestNewKafkaSinkConfiguresWriter(t *testing.T) {
	sink := NewKafkaSink([]string{"localhost:9092"}, "framesync.executions")
	w, ok := sink.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "framesync.executions", w.Topic)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
}
