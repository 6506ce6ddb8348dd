package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"parlay-pool/internal/model"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter builds the topic writer used by Kafka.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

// Kafka queues events and writes them from its own goroutine, so a slow
// broker never stalls the engine. Messages are keyed by round id to keep a
// round's events on one partition, in order.
type Kafka struct {
	w     messageWriter
	queue chan model.Event
	log   *zap.Logger
}

func NewKafka(w messageWriter, buffer int, log *zap.Logger) *Kafka {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Kafka{w: w, queue: make(chan model.Event, buffer), log: log.Named("kafka")}
}

// Publish drops the event with a warning when the queue is full.
func (k *Kafka) Publish(_ context.Context, ev model.Event) {
	select {
	case k.queue <- ev:
	default:
		k.log.Warn("event queue full, dropping", zap.Int64("seq", ev.Seq), zap.String("type", ev.Type))
	}
}

// Run drains the queue until ctx is done, then closes the writer.
func (k *Kafka) Run(ctx context.Context) {
	defer k.w.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-k.queue:
			k.write(ctx, ev)
		}
	}
}

func (k *Kafka) write(ctx context.Context, ev model.Event) {
	value, err := json.Marshal(ev)
	if err != nil {
		k.log.Error("marshal event", zap.Int64("seq", ev.Seq), zap.Error(err))
		return
	}
	key := "global"
	if ev.RoundID != nil {
		key = model.RoomKey(*ev.RoundID)
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  ev.CreatedAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
			{Key: "seq", Value: []byte(strconv.FormatInt(ev.Seq, 10))},
		},
	}
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := k.w.WriteMessages(wctx, msg); err != nil {
		k.log.Error("write event", zap.Int64("seq", ev.Seq), zap.String("type", ev.Type), zap.Error(err))
	}
}
