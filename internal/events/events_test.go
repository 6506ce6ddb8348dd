package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"parlay-pool/internal/model"
)

func TestFanoutPreservesOrder(t *testing.T) {
	var got []string
	rec := func(name string) Publisher {
		return Func(func(_ context.Context, ev model.Event) { got = append(got, name+":"+ev.Type) })
	}
	f := Fanout{rec("a"), nil, rec("b")}
	f.Publish(context.Background(), model.Event{Type: model.EvBetPlaced})
	f.Publish(context.Background(), model.Event{Type: model.EvRoundLocked})

	assert.Equal(t, []string{
		"a:" + model.EvBetPlaced, "b:" + model.EvBetPlaced,
		"a:" + model.EvRoundLocked, "b:" + model.EvRoundLocked,
	}, got)
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) snapshot() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func TestKafkaKeysByRound(t *testing.T) {
	w := &fakeWriter{}
	k := NewKafka(w, 4, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { k.Run(ctx); close(done) }()

	round := int64(9)
	k.Publish(ctx, model.Event{Seq: 1, Type: model.EvRoundCreated, RoundID: &round})
	k.Publish(ctx, model.Event{Seq: 2, Type: model.EvReserveFunded})

	require.Eventually(t, func() bool { return len(w.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	msgs := w.snapshot()
	assert.Equal(t, "round:9", string(msgs[0].Key))
	assert.Equal(t, "global", string(msgs[1].Key))
	assert.Contains(t, string(msgs[0].Value), `"type":"`+model.EvRoundCreated+`"`)
	assert.True(t, w.closed)
}

func TestKafkaDropsWhenFull(t *testing.T) {
	k := NewKafka(&fakeWriter{}, 1, zap.NewNop())
	k.Publish(context.Background(), model.Event{Seq: 1})
	k.Publish(context.Background(), model.Event{Seq: 2})
	assert.Len(t, k.queue, 1)
}
