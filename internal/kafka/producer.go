package kafka

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

type Producer struct {
	w     *kafka.Writer
	inbox chan kafka.Message
	quit  chan struct{} // closed by Close; the loop flushes the backlog and exits
	done  chan struct{} // closed when the loop exited
	once  sync.Once
}

func NewProducer(brokers []string, topic string, buf int) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        true,
		},
		inbox: make(chan kafka.Message, buf),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer func() {
			_ = p.w.Close()
			close(p.done)
		}()
		for {
			select {
			case <-ctx.Done():
				p.drain()
				return
			case <-p.quit:
				p.drain()
				return
			case m := <-p.inbox:
				p.write(m)
			}
		}
	}()
}

// drain flushes whatever is already queued. The inbox is never closed, so a
// Publish racing shutdown cannot panic; at worst its message is dropped.
func (p *Producer) drain() {
	for {
		select {
		case m := <-p.inbox:
			p.write(m)
		default:
			return
		}
	}
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		log.Printf("kafka write %s: %v", p.w.Topic, err)
	}
}

func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) {
	m := kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
	select {
	case <-p.done:
		log.Printf("kafka publish %s: producer stopped, message dropped", p.w.Topic)
		return
	default:
	}
	select {
	case p.inbox <- m:
	case <-p.done:
		log.Printf("kafka publish %s: producer stopped, message dropped", p.w.Topic)
	}
}

// Close stops accepting messages; the loop flushes the remainder and exits.
// Safe to call more than once and alongside context cancellation.
func (p *Producer) Close() { p.once.Do(func() { close(p.quit) }) }

// WaitClosed blocks until the flush loop finished.
func (p *Producer) WaitClosed() { <-p.done }
