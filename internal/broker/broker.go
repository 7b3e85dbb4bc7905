// Package broker implements the job office's only connection to the
// outside world: a NATS-backed publish/subscribe client speaking the
// StatusEvent/CommandEvent envelope over named topics, with content-based
// selector filtering approximated client-side (core NATS subjects carry no
// server-side selector language, so RUNID/STATUS/DESTINATIONID constraints
// are applied to each delivered message before it reaches a subscriber's
// channel). Uses a connect-once *nats.Conn with header-carried metadata
// and internal/breaker for publish gating.
package broker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/lsst-dm/ctrl-joboffice/internal/breaker"
	"github.com/lsst-dm/ctrl-joboffice/internal/dataset"
	"github.com/lsst-dm/ctrl-joboffice/internal/event"
	"github.com/lsst-dm/ctrl-joboffice/internal/obs"
)

const (
	headerRunID         = "Runid"
	headerStatus        = "Status"
	headerDestinationID = "Destinationid"
)

// wireEvent is the JSON payload shape published/consumed on the wire; the
// selector-relevant fields are duplicated into NATS message headers.
// Subscribe filters on the decoded body, not on those headers.
type wireEvent struct {
	RunID         string            `json:"runId"`
	OriginatorID  string            `json:"originatorId"`
	Status        event.Status      `json:"status"`
	DestinationID string            `json:"destinationId,omitempty"`
	Properties    map[string]string `json:"properties"`
	Datasets      []string          `json:"datasets,omitempty"`
}

// Broker is a connected NATS client scoped to one job office process.
type Broker struct {
	conn    *nats.Conn
	logger  *zap.Logger
	publish *breaker.CircuitBreaker
}

// Connect dials url and returns a ready Broker. The publish-side circuit
// breaker opens after a burst of publish failures (e.g. the NATS server is
// unreachable) so the main loop backs off instead of hammering a down
// broker every iteration.
func Connect(url string, logger *zap.Logger) (*Broker, error) {
	conn, err := nats.Connect(url, nats.Name("ctrl-joboffice"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect to broker %s: %w", url, err)
	}
	return &Broker{
		conn:    conn,
		logger:  logger,
		publish: breaker.New(30*time.Second, 10*time.Second, 0.5, 5),
	}, nil
}

// Close drains and closes the underlying connection.
func (b *Broker) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

func toWire(e event.StatusEvent, destinationID string) wireEvent {
	ds := make([]string, len(e.Datasets))
	for i, d := range e.Datasets {
		ds[i] = d.Encode()
	}
	return wireEvent{
		RunID:         e.RunID,
		OriginatorID:  e.OriginatorID,
		Status:        e.Status,
		DestinationID: destinationID,
		Properties:    e.Properties,
		Datasets:      ds,
	}
}

// PublishStatus publishes a StatusEvent on topic.
func (b *Broker) PublishStatus(topic string, e event.StatusEvent) error {
	return b.publishWire(topic, toWire(e, ""))
}

// PublishCommand publishes a CommandEvent on topic, carrying its
// destination id in both the payload and the DESTINATIONID header.
func (b *Broker) PublishCommand(topic string, c event.CommandEvent) error {
	return b.publishWire(topic, toWire(c.StatusEvent, c.DestinationID))
}

func (b *Broker) publishWire(topic string, w wireEvent) error {
	obs.CircuitBreakerState.Set(float64(b.publish.State()))
	if !b.publish.Allow() {
		return fmt.Errorf("broker publish circuit open for topic %s", topic)
	}
	payload, err := json.Marshal(w)
	if err != nil {
		b.publish.Record(false)
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := &nats.Msg{Subject: topic, Data: payload, Header: make(nats.Header)}
	msg.Header.Set(headerRunID, w.RunID)
	msg.Header.Set(headerStatus, string(w.Status))
	if w.DestinationID != "" {
		msg.Header.Set(headerDestinationID, w.DestinationID)
	}
	if err := b.conn.PublishMsg(msg); err != nil {
		b.publish.Record(false)
		if b.publish.State() == breaker.Open {
			obs.CircuitBreakerTrips.Inc()
		}
		b.logger.Warn("broker publish failed", zap.String("topic", topic), zap.Error(err))
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	b.publish.Record(true)
	return nil
}

// Subscription delivers StatusEvents matching a Selector on one topic.
type Subscription struct {
	sub *nats.Subscription
	ch  chan event.StatusEvent
}

// Events returns the channel of matching events. Closed when Unsubscribe
// is called.
func (s *Subscription) Events() <-chan event.StatusEvent { return s.ch }

// Unsubscribe cancels delivery and closes the Events channel.
func (s *Subscription) Unsubscribe() error {
	defer close(s.ch)
	return s.sub.Unsubscribe()
}

// Subscribe opens a subscription to topic, delivering only messages whose
// decoded run id, status and destination id satisfy sel. The returned Subscription's channel is buffered so
// a slow consumer does not stall the NATS client's dispatch goroutine;
// messages beyond the buffer are dropped and logged.
func (b *Broker) Subscribe(topic string, sel event.Selector) (*Subscription, error) {
	out := make(chan event.StatusEvent, 256)
	natsSub, err := b.conn.Subscribe(topic, func(msg *nats.Msg) {
		var w wireEvent
		if err := json.Unmarshal(msg.Data, &w); err != nil {
			b.logger.Warn("broker received unparseable message", zap.String("topic", topic), zap.Error(err))
			return
		}
		ds := make([]dataset.Dataset, len(w.Datasets))
		for i, s := range w.Datasets {
			ds[i] = dataset.Decode(s)
		}
		e := event.StatusEvent{RunID: w.RunID, OriginatorID: w.OriginatorID, Status: w.Status, Properties: w.Properties, Datasets: ds}
		if !sel.Matches(e) {
			return
		}
		if sel.DestinationID != "" && sel.DestinationID != w.DestinationID {
			return
		}
		select {
		case out <- e:
		default:
			b.logger.Warn("broker subscriber channel full, dropping event", zap.String("topic", topic), zap.String("status", string(w.Status)))
		}
	})
	if err != nil {
		close(out)
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	return &Subscription{sub: natsSub, ch: out}, nil
}

// WaitForOne blocks for up to timeout for a single event on sub, returning
// (zero-value, false) on timeout. Used by the main loop's initial wait and
// the stop listener's wait time.
func WaitForOne(sub *Subscription, timeout time.Duration) (event.StatusEvent, bool) {
	select {
	case e, ok := <-sub.Events():
		return e, ok
	case <-time.After(timeout):
		return event.StatusEvent{}, false
	}
}

// DrainUpTo returns up to max already-buffered events from sub without
// blocking, used for emptyWait-style drains once the first message of an
// iteration has arrived.
func DrainUpTo(sub *Subscription, max int) []event.StatusEvent {
	var out []event.StatusEvent
	for len(out) < max {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
	return out
}
