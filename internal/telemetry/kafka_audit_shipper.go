package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/helpinghands/auth-service/internal/config"
)

// AuditSink is the publish surface the auth core writes to. Publish must
// never block the caller.
type AuditSink interface {
	Publish(ev any)
}

// NopSink drops everything. Used when kafka is disabled and in tests.
type NopSink struct{}

func (NopSink) Publish(any) {}

// KafkaAuditShipper buffers audit events in a bounded channel and writes
// them to per-type topics from a single background goroutine. Events are
// dropped on backpressure rather than stalling a request.
type KafkaAuditShipper struct {
	cfg     config.KafkaAuditConfig
	wAuth   *kafka.Writer
	wThreat *kafka.Writer
	ch      chan any
	stop    chan struct{}
}

func NewKafkaAuditShipper(cfg config.KafkaAuditConfig) (*KafkaAuditShipper, error) {
	if !cfg.Enabled {
		return &KafkaAuditShipper{cfg: cfg, ch: make(chan any), stop: make(chan struct{})}, nil
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        true,
			BatchSize:    cfg.BatchSize,
			WriteTimeout: cfg.WriteTimeout,
		}
	}

	return &KafkaAuditShipper{
		cfg:     cfg,
		wAuth:   newWriter(cfg.TopicAuth),
		wThreat: newWriter(cfg.TopicThreat),
		ch:      make(chan any, cfg.QueueCapacity),
		stop:    make(chan struct{}),
	}, nil
}

func (s *KafkaAuditShipper) Start() {
	if !s.cfg.Enabled {
		return
	}
	go s.loop()
}

// Stop drains briefly, then closes the writers.
func (s *KafkaAuditShipper) Stop(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}
	close(s.stop)
	drain := time.After(500 * time.Millisecond)
	for {
		select {
		case ev := <-s.ch:
			s.dispatch(ev)
		case <-drain:
			_ = s.wAuth.Close()
			_ = s.wThreat.Close()
			return
		case <-ctx.Done():
			_ = s.wAuth.Close()
			_ = s.wThreat.Close()
			return
		}
	}
}

func (s *KafkaAuditShipper) Publish(ev any) {
	if !s.cfg.Enabled {
		return
	}
	select {
	case s.ch <- ev:
	default:
		// drop on backpressure
	}
}

func (s *KafkaAuditShipper) loop() {
	for {
		select {
		case ev := <-s.ch:
			s.dispatch(ev)
		case <-s.stop:
			for {
				select {
				case ev := <-s.ch:
					s.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *KafkaAuditShipper) dispatch(ev any) {
	now := time.Now().UTC()

	var w *kafka.Writer
	var key []byte
	switch e := ev.(type) {
	case AuthAuditEvent:
		if e.Timestamp.IsZero() {
			e.Timestamp = now
		}
		w, key, ev = s.wAuth, []byte(e.IdentityHash), e
	case ThreatAuditEvent:
		if e.Timestamp.IsZero() {
			e.Timestamp = now
		}
		w, key, ev = s.wThreat, []byte(e.Actor), e
	default:
		w = s.wAuth
	}
	if w == nil {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if len(key) == 0 {
		key = nil
	}
	_ = w.WriteMessages(context.Background(), kafka.Message{
		Key:   key,
		Value: payload,
		Time:  now,
	})
}
