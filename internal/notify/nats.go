package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"pivotscope/internal/analysis/pivots"
	"pivotscope/internal/errors"
	"pivotscope/internal/security"
)

// NATSConfig configures the NATS notifier.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnect  int
	ReconnectWait time.Duration
}

// publisher is the subset of *nats.Conn the notifier needs.
type publisher interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
}

// NATSNotifier publishes JSON events to NATS subjects
// <prefix>.pivots.<symbol>.<timeframe> and <prefix>.live.<symbol>.<timeframe>.
type NATSNotifier struct {
	conn   *nats.Conn
	pub    publisher
	prefix string
	logger zerolog.Logger
	now    func() time.Time
}

// NewNATSNotifier connects to the configured NATS server.
func NewNATSNotifier(cfg NATSConfig, logger zerolog.Logger) (*NATSNotifier, error) {
	logger = logger.With().Str("component", "nats").Logger()
	if cfg.MaxReconnect == 0 {
		cfg.MaxReconnect = 10
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	opts := []nats.Option{
		nats.Name("pivotscope"),
		nats.MaxReconnects(cfg.MaxReconnect),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrProviderUnavailable, "connect to NATS at %s: %v", security.MaskURL(cfg.URL), err)
	}
	n := newNATSNotifier(conn, cfg.SubjectPrefix, logger)
	n.conn = conn
	return n, nil
}

func newNATSNotifier(pub publisher, prefix string, logger zerolog.Logger) *NATSNotifier {
	if prefix == "" {
		prefix = "pivotscope"
	}
	return &NATSNotifier{
		pub:    pub,
		prefix: strings.TrimSuffix(prefix, "."),
		logger: logger,
		now:    time.Now,
	}
}

// Subject builds the subject for kind ("pivots" or "live").
func (n *NATSNotifier) Subject(kind, symbol, timeframe string) string {
	return fmt.Sprintf("%s.%s.%s.%s", n.prefix, kind, subjectToken(symbol), subjectToken(timeframe))
}

// subjectToken strips characters NATS treats as separators or wildcards.
func subjectToken(s string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}

func (n *NATSNotifier) publish(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := n.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	n.logger.Debug().Str("subject", subject).Int("bytes", len(data)).Msg("Published event")
	return nil
}

// PublishTable publishes a refreshed table.
func (n *NATSNotifier) PublishTable(_ context.Context, symbol, timeframe string, table pivots.Table) error {
	return n.publish(n.Subject("pivots", symbol, timeframe), TableEvent{
		Type:        EventTable,
		Symbol:      symbol,
		Timeframe:   timeframe,
		Table:       table,
		PublishedAt: n.now().UTC(),
	})
}

// PublishLive publishes a live pivot snapshot.
func (n *NATSNotifier) PublishLive(_ context.Context, symbol, timeframe string, live pivots.LivePivots, a pivots.Assessment) error {
	return n.publish(n.Subject("live", symbol, timeframe), LiveEvent{
		Type:        EventLive,
		Symbol:      symbol,
		Timeframe:   timeframe,
		Live:        live,
		Assessment:  a,
		PublishedAt: n.now().UTC(),
	})
}

// Close flushes pending messages and closes the connection.
func (n *NATSNotifier) Close() error {
	if n.conn == nil {
		return nil
	}
	if err := n.pub.FlushTimeout(2 * time.Second); err != nil {
		n.logger.Warn().Err(err).Msg("NATS flush failed")
	}
	n.conn.Close()
	return nil
}
