// Package events publishes settlement outcomes to Kafka for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diewo77/go-pos/internal/models"
	"github.com/segmentio/kafka-go"
)

const (
	TopicSaleSettled      = "sale.settled"
	TopicRestockRequested = "restock.requested"
)

// Publisher is what the checkout flow notifies after a commit.
type Publisher interface {
	SaleSettled(ctx context.Context, sale *models.SaleTransaction) error
	RestockRequested(ctx context.Context, r models.RestockRequest) error
	Close() error
}

// Writer settings. Checkout publishes inline after commit, so a write must not
// wait for a batch to fill and must give up quickly on an unreachable broker.
const (
	batchTimeout = 5 * time.Millisecond
	writeTimeout = 2 * time.Second
	maxAttempts  = 3
)

// ParseBrokers splits a comma separated broker list, dropping blanks.
func ParseBrokers(csv string) []string {
	var brokers []string
	for _, b := range strings.Split(csv, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    1,
		BatchTimeout: batchTimeout,
		WriteTimeout: writeTimeout,
		MaxAttempts:  maxAttempts,
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one JSON message per event, keyed so that events of
// the same sale or variant land on the same partition.
type KafkaPublisher struct {
	sales   messageWriter
	restock messageWriter
}

// NewPublisher returns a Kafka backed publisher, or a no-op one when brokers is empty.
func NewPublisher(brokers []string) Publisher {
	if len(brokers) == 0 {
		return Noop{}
	}
	return &KafkaPublisher{
		sales:   newWriter(brokers, TopicSaleSettled),
		restock: newWriter(brokers, TopicRestockRequested),
	}
}

// SaleSettledEvent is the payload on sale.settled.
type SaleSettledEvent struct {
	SaleID     string            `json:"saleId"`
	SettledAt  time.Time         `json:"settledAt"`
	TerminalID string            `json:"terminalId,omitempty"`
	CashierID  string            `json:"cashierId"`
	Total      string            `json:"total"`
	Lines      []models.SaleLine `json:"lines"`
}

func (p *KafkaPublisher) SaleSettled(ctx context.Context, sale *models.SaleTransaction) error {
	ev := SaleSettledEvent{
		SaleID:     sale.ID,
		SettledAt:  sale.Timestamp,
		TerminalID: sale.TerminalID,
		CashierID:  sale.CashierID,
		Total:      sale.Total.StringFixed(2),
		Lines:      sale.Lines,
	}
	return publish(ctx, p.sales, sale.ID, ev)
}

func (p *KafkaPublisher) RestockRequested(ctx context.Context, r models.RestockRequest) error {
	return publish(ctx, p.restock, r.ProductID+"/"+r.VariantID, r)
}

func (p *KafkaPublisher) Close() error {
	return errors.Join(p.sales.Close(), p.restock.Close())
}

func publish(ctx context.Context, w messageWriter, key string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", key, err)
	}
	return w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value, Time: time.Now().UTC()})
}

// Noop drops every event.
type Noop struct{}

func (Noop) SaleSettled(context.Context, *models.SaleTransaction) error  { return nil }
func (Noop) RestockRequested(context.Context, models.RestockRequest) error { return nil }
func (Noop) Close() error                                                  { return nil }
