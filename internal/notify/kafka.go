package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"drowsyguard/internal/config"
	"drowsyguard/internal/model"
)

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes alert transitions. Notify never blocks: events are
// queued and written by one goroutine; a full queue drops the event.
type KafkaNotifier struct {
	writer  MessageWriter
	logger  *slog.Logger
	queue   chan model.AlertEvent
	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
	wg      sync.WaitGroup
	once    sync.Once
}

func NewKafkaNotifier(cfg config.KafkaConfig, logger *slog.Logger) *KafkaNotifier {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}
	if logger != nil {
		logger.Info("kafka notify enabled", "brokers", cfg.Brokers, "topic", cfg.Topic)
	}
	return NewKafkaNotifierWithWriter(w, cfg.QueueSize, logger)
}

func NewKafkaNotifierWithWriter(w MessageWriter, queueSize int, logger *slog.Logger) *KafkaNotifier {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &KafkaNotifier{
		writer: w,
		logger: logger,
		queue:  make(chan model.AlertEvent, queueSize),
	}
}

func (n *KafkaNotifier) Start(ctx context.Context) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			select {
			case ev := <-n.queue:
				n.write(ctx, ev)
			case <-ctx.Done():
				n.drain()
				return
			}
		}
	}()
}

func (n *KafkaNotifier) Notify(ev model.AlertEvent) bool {
	select {
	case n.queue <- ev:
		return true
	default:
		n.dropped.Add(1)
		if n.logger != nil {
			n.logger.Warn("alert notify queue full, dropping event", "event_id", ev.ID, "transition", ev.Transition.String())
		}
		return false
	}
}

// drain flushes what is already queued with a short deadline.
func (n *KafkaNotifier) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-n.queue:
			n.write(ctx, ev)
		default:
			return
		}
	}
}

func (n *KafkaNotifier) write(ctx context.Context, ev model.AlertEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		n.failed.Add(1)
		return
	}
	msg := kafka.Message{
		Key:   []byte(ev.InstanceID),
		Value: payload,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "transition", Value: []byte(ev.Transition.String())},
		},
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		n.failed.Add(1)
		if n.logger != nil && ctx.Err() == nil {
			n.logger.Warn("kafka write error", "err", err, "event_id", ev.ID)
		}
		return
	}
	n.sent.Add(1)
}

func (n *KafkaNotifier) Close() error {
	var err error
	n.once.Do(func() {
		n.wg.Wait()
		err = n.writer.Close()
	})
	return err
}

type Stats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

func (n *KafkaNotifier) Stats() Stats {
	return Stats{Sent: n.sent.Load(), Dropped: n.dropped.Load(), Failed: n.failed.Load()}
}
