package kafka

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// DeskEventProducer — интерфейс для отправки событий desk в Kafka (для подмены
// моком в тестах).
type DeskEventProducer interface {
	ProduceDeskEvent(ctx context.Context, event string, payload map[string]interface{})
}

// Producer пишет события тикетов/сообщений в топик Kafka (best-effort, не
// блокирует reconciler и не влияет на локальное состояние).
type Producer struct {
	writer *kafka.Writer
	topic  string
}

// NewProducer создаёт продюсер. Если brokers или topic пустые — методы no-op.
func NewProducer(brokers []string, topic string) *Producer {
	if len(brokers) == 0 || topic == "" {
		return &Producer{}
	}
	return &Producer{
		topic: topic,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// ProduceDeskEvent отправляет событие в топик. event: ticket.created,
// ticket.updated, message.created. Key — ticket_id из payload, чтобы события
// одного тикета попадали в одну партицию и сохраняли порядок.
func (p *Producer) ProduceDeskEvent(ctx context.Context, event string, payload map[string]interface{}) {
	if p.writer == nil {
		return
	}
	msg := map[string]interface{}{"event": event}
	for k, v := range payload {
		msg[k] = v
	}
	body, err := json.Marshal(msg)
	if err != nil {
		log.Printf("kafka: marshal desk event: %v", err)
		return
	}
	var key []byte
	if id, ok := payload["ticket_id"].(string); ok {
		key = []byte(id)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: body}); err != nil {
		log.Printf("kafka: write desk event: %v", err)
	}
}

// Close закрывает writer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// ParseBrokers разбивает строку брокеров "host1:9092,host2:9092" на слайс.
func ParseBrokers(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
