package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/benjaminclauss/stationboard/metrics"
	"github.com/benjaminclauss/stationboard/registry"
	"github.com/nats-io/nats.go"
)

const (
	DefaultSubject = "stations.update"

	// VersionHeader carries the snapshot version so consumers can discard stale messages.
	VersionHeader = "Snapshot-Version"
)

type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSPublisher publishes every snapshot as JSON on a subject.
// Failures are logged and counted; they never fail the mutation that produced the snapshot.
type NATSPublisher struct {
	conn    msgPublisher
	subject string
	metrics *metrics.Metrics
}

func NewNATSPublisher(conn *nats.Conn, subject string, m *metrics.Metrics) *NATSPublisher {
	return newNATSPublisher(conn, subject, m)
}

func newNATSPublisher(conn msgPublisher, subject string, m *metrics.Metrics) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{conn: conn, subject: subject, metrics: m}
}

// ConnectNATS dials the server at url and keeps reconnecting for the life of the process.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Publish satisfies registry.Publisher.
func (p *NATSPublisher) Publish(s registry.Snapshot) {
	data, err := json.Marshal(s)
	if err != nil {
		slog.Error("error encoding snapshot for nats", "version", s.Version, "err", err)
		p.metrics.NATSPublishFailed()
		return
	}

	msg := nats.NewMsg(p.subject)
	msg.Data = data
	msg.Header.Set(VersionHeader, strconv.FormatUint(s.Version, 10))
	if err := p.conn.PublishMsg(msg); err != nil {
		slog.Error("error publishing snapshot", "subject", p.subject, "version", s.Version, "err", err)
		p.metrics.NATSPublishFailed()
	}
}
