// Package ingest consumes driver location fixes from Kafka and feeds them to
// the evaluation engine. HTTP and WebSocket ingest live in the api package;
// this path serves fleets that already publish telemetry to a broker.
package ingest

import (
    "context"
    "encoding/json"
    "errors"
    "log"
    "time"

    "github.com/segmentio/kafka-go"

    "zonewatch/internal/engine"
    "zonewatch/internal/metrics"
    "zonewatch/internal/model"
)

// FixSink is the slice of the engine the consumer needs.
type FixSink interface {
    Submit(fix model.DriverFix) error
}

type Consumer struct {
    reader *kafka.Reader
    sink   FixSink
}

func NewConsumer(brokers []string, topic, groupID string, sink FixSink) *Consumer {
    if topic == "" {
        topic = "driver-fixes"
    }
    if groupID == "" {
        groupID = "zonewatch"
    }
    r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: groupID, MinBytes: 10e3, MaxBytes: 10e6})
    return &Consumer{reader: r, sink: sink}
}

// Run reads until ctx is cancelled. Read errors back off exponentially so a
// broker outage does not spin the loop.
func (c *Consumer) Run(ctx context.Context) {
    defer func() { _ = c.reader.Close() }()

    backoff := time.Second
    const maxBackoff = 30 * time.Second

    for {
        m, err := c.reader.ReadMessage(ctx)
        if err != nil {
            if ctx.Err() != nil {
                log.Println("shutting down kafka consumer")
                return
            }
            log.Printf("kafka read error: %v; backing off %s", err, backoff)
            time.Sleep(backoff)
            backoff *= 2
            if backoff > maxBackoff {
                backoff = maxBackoff
            }
            continue
        }
        backoff = time.Second
        c.handle(m.Value)
    }
}

func (c *Consumer) handle(value []byte) {
    fix, err := decodeFix(value)
    if err != nil {
        metrics.KafkaMessages.WithLabelValues("invalid").Inc()
        log.Printf("invalid location message: %v", err)
        return
    }
    if err := c.sink.Submit(fix); err != nil {
        metrics.KafkaMessages.WithLabelValues("rejected").Inc()
        if !errors.Is(err, engine.ErrBusy) {
            log.Printf("fix rejected for driver=%s: %v", fix.DriverID, err)
        }
        return
    }
    metrics.KafkaMessages.WithLabelValues("ok").Inc()
}

func decodeFix(value []byte) (model.DriverFix, error) {
    var fix model.DriverFix
    if err := json.Unmarshal(value, &fix); err != nil {
        return model.DriverFix{}, err
    }
    if fix.TenantID == "" {
        return model.DriverFix{}, errors.New("missing tenantId")
    }
    return fix, nil
}
