// Package notify publishes run-completed events to Kafka.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/timecampetl/internal/logging"
	"github.com/dmitrijs2005/timecampetl/internal/models"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Event is the payload published when a run finishes.
type Event struct {
	RunID       string    `json:"run_id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Destination string    `json:"destination"`
	Status      string    `json:"status"`
	Stage       string    `json:"stage,omitempty"`
	Records     int64     `json:"records"`
	Merged      int64     `json:"merged"`
	Error       string    `json:"error,omitempty"`
	FinishedAt  time.Time `json:"finished_at"`
}

// EventFromRun maps a finished run to its event.
func EventFromRun(r models.Run) Event {
	return Event{
		RunID:       r.ID.String(),
		From:        r.From,
		To:          r.To,
		Destination: r.Destination,
		Status:      r.Status,
		Stage:       r.Stage,
		Records:     r.Records,
		Merged:      r.Merged,
		Error:       r.Error,
		FinishedAt:  r.FinishedAt.UTC(),
	}
}

// Notifier sends events. A nil *Notifier is valid and sends nothing.
type Notifier struct {
	writer messageWriter
	log    logging.Logger
}

// New returns a notifier writing to topic on brokers. No brokers yields nil.
func New(brokers []string, topic string, log logging.Logger) *Notifier {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}
	return newWithWriter(w, log)
}

func newWithWriter(w messageWriter, log logging.Logger) *Notifier {
	return &Notifier{writer: w, log: log}
}

// RunCompleted publishes the event for r keyed by run id.
func (n *Notifier) RunCompleted(ctx context.Context, r models.Run) error {
	if n == nil {
		return nil
	}
	ev := EventFromRun(r)
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := kafka.Message{Key: []byte(ev.RunID), Value: b, Time: time.Now().UTC()}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish run event: %w", err)
	}
	n.log.Debug(ctx, "published run event", "run_id", ev.RunID, "status", ev.Status)
	return nil
}

// Close flushes pending writes.
func (n *Notifier) Close() error {
	if n == nil {
		return nil
	}
	return n.writer.Close()
}
