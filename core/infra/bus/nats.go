package bus

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/refereehq/referee/core/infra/logging"
)

// NatsBus is a thin wrapper over a NATS connection that speaks JSON editor
// events.
type NatsBus struct {
	nc        *nats.Conn
	js        nats.JetStreamContext
	jsEnabled bool
	ackWait   time.Duration
}

const (
	envUseJetStream = "NATS_USE_JETSTREAM"
	envJSAckWait    = "NATS_JS_ACK_WAIT"
	envJSMaxAge     = "NATS_JS_MAX_AGE"

	defaultAckWait = time.Minute
	defaultMaxAge  = 24 * time.Hour

	streamEditor  = "REFEREE_EDITOR"
	durablePrefix = "referee."
)

var (
	errNilBus     = errors.New("nats bus not initialized")
	errNilEvent   = errors.New("nil editor event")
	errEmptyTopic = errors.New("empty subject")
)

// NewNatsBus dials NATS at the provided URL.
func NewNatsBus(url string) (*NatsBus, error) {
	opts := []nats.Option{
		nats.Name("referee-bus"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.Warn("bus", "disconnected from nats", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("bus", "reconnected to nats", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logging.Info("bus", "connection closed")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	b := &NatsBus{nc: nc, ackWait: defaultAckWait}
	b.initJetStreamFromEnv()
	return b, nil
}

// Close shuts down the underlying NATS connection.
func (b *NatsBus) Close() {
	if b != nil && b.nc != nil {
		b.nc.Close()
	}
}

// Publish sends a JSON encoded event on subject. Durable subjects go through
// JetStream with the event id as the dedup key when JetStream is enabled.
func (b *NatsBus) Publish(subject string, ev *EditorEvent) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if subject == "" {
		return errEmptyTopic
	}
	if ev == nil {
		return errNilEvent
	}
	data, err := ev.Encode()
	if err != nil {
		return err
	}
	if b.jsEnabled && isDurableSubject(subject) {
		if id := msgID(subject, ev); id != "" {
			_, err = b.js.Publish(subject, data, nats.MsgId(id))
		} else {
			_, err = b.js.Publish(subject, data)
		}
		return err
	}
	return b.nc.Publish(subject, data)
}

// Subscribe decodes events on subject and invokes handler. Under JetStream a
// RetryableError from handler naks the message; any other outcome acks it.
func (b *NatsBus) Subscribe(subject, queue string, handler func(*EditorEvent) error) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if subject == "" {
		return errEmptyTopic
	}
	if handler == nil {
		return errors.New("nil handler")
	}
	if b.jsEnabled && isDurableSubject(subject) {
		cb := func(msg *nats.Msg) {
			ev, err := DecodeEvent(msg.Data)
			if err != nil {
				logging.Error("bus", "drop undecodable event", "subject", msg.Subject, "error", err)
				_ = msg.Ack()
				return
			}
			if err := handler(ev); err != nil {
				if delay, ok := RetryDelay(err); ok {
					_ = msg.NakWithDelay(delay)
					return
				}
				logging.Error("bus", "handler error", "subject", msg.Subject, "error", err)
			}
			_ = msg.Ack()
		}
		opts := []nats.SubOpt{
			nats.ManualAck(),
			nats.AckExplicit(),
			nats.AckWait(b.ackWait),
			nats.MaxAckPending(1024),
		}
		if durable := durableName(subject, queue); durable != "" {
			opts = append(opts, nats.Durable(durable))
		}
		var err error
		if queue == "" {
			_, err = b.js.Subscribe(subject, cb, opts...)
		} else {
			_, err = b.js.QueueSubscribe(subject, queue, cb, opts...)
		}
		return err
	}

	cb := func(msg *nats.Msg) {
		ev, err := DecodeEvent(msg.Data)
		if err != nil {
			logging.Error("bus", "drop undecodable event", "subject", msg.Subject, "error", err)
			return
		}
		if err := handler(ev); err != nil {
			logging.Error("bus", "handler error", "subject", msg.Subject, "error", err)
		}
	}
	if queue == "" {
		_, err := b.nc.Subscribe(subject, cb)
		return err
	}
	_, err := b.nc.QueueSubscribe(subject, queue, cb)
	return err
}

func (b *NatsBus) IsConnected() bool {
	return b != nil && b.nc != nil && b.nc.IsConnected()
}

func (b *NatsBus) Status() string {
	if b == nil || b.nc == nil {
		return "UNKNOWN"
	}
	return b.nc.Status().String()
}

func (b *NatsBus) ConnectedURL() string {
	if b == nil || b.nc == nil {
		return ""
	}
	return b.nc.ConnectedUrl()
}

func jetStreamEnabled() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(envUseJetStream))) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func (b *NatsBus) initJetStreamFromEnv() {
	if b == nil || b.nc == nil || !jetStreamEnabled() {
		return
	}
	ackWait := envDuration(envJSAckWait, defaultAckWait)
	maxAge := envDuration(envJSMaxAge, defaultMaxAge)

	js, err := b.nc.JetStream()
	if err != nil {
		logging.Warn("bus", "jetstream init failed", "error", err)
		return
	}
	if _, err := js.AccountInfo(); err != nil {
		logging.Warn("bus", "jetstream not available", "error", err)
		return
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:       streamEditor,
		Subjects:   []string{durablePrefix + ">"},
		Retention:  nats.LimitsPolicy,
		Storage:    nats.FileStorage,
		MaxAge:     maxAge,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		if _, infoErr := js.StreamInfo(streamEditor); infoErr != nil {
			logging.Warn("bus", "jetstream ensure stream failed", "stream", streamEditor, "error", err)
			return
		}
	}
	b.js = js
	b.jsEnabled = true
	b.ackWait = ackWait
	logging.Info("bus", "jetstream enabled", "stream", streamEditor, "ack_wait", ackWait, "max_age", maxAge)
}

func isDurableSubject(subject string) bool {
	return strings.HasPrefix(subject, durablePrefix) && !strings.HasSuffix(subject, ".ephemeral")
}

func durableName(subject, queue string) string {
	name := sanitizeToken(subject)
	if name == "" {
		return ""
	}
	if q := sanitizeToken(queue); q != "" {
		return "dur_" + q + "__" + name
	}
	return "dur_" + name
}

func sanitizeToken(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ".", "_")
	s = strings.ReplaceAll(s, "*", "STAR")
	return strings.ReplaceAll(s, ">", "GT")
}

func msgID(subject string, ev *EditorEvent) string {
	if ev == nil {
		return ""
	}
	id := strings.TrimSpace(ev.ID)
	if id == "" {
		return ""
	}
	return subject + ":" + id
}
