package ingest

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/celltwin/celltwin/monitor/internal/config"
	"github.com/celltwin/celltwin/monitor/internal/metrics"
	"github.com/celltwin/celltwin/pkg/types"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	connectTimeout    = 10 * time.Second
	keepAliveSeconds  = 30
)

// Submitter accepts validated samples for processing. Implemented by the
// pipeline; Submit must not block indefinitely.
type Submitter interface {
	Submit(s types.TelemetrySample)
}

// Listener subscribes to the telemetry topic and forwards validated samples
// to the pipeline. It reconnects with exponential backoff when the broker
// connection is lost. Malformed payloads are dropped and counted; they never
// interrupt the subscription.
type Listener struct {
	cfg  config.MQTTConfig
	sink Submitter

	received  *metrics.Counter
	malformed *metrics.Counter
}

// NewListener creates a Listener that forwards samples to sink.
func NewListener(cfg config.MQTTConfig, sink Submitter, reg *metrics.Registry) *Listener {
	return &Listener{
		cfg:       cfg,
		sink:      sink,
		received:  reg.Counter("samples_received_total", "Telemetry payloads received from the broker."),
		malformed: reg.Counter("samples_malformed_total", "Telemetry payloads dropped by validation."),
	}
}

// Run connects, subscribes, and consumes until ctx is cancelled,
// reconnecting with backoff on connection loss.
func (l *Listener) Run(ctx context.Context) {
	bo := newBackoff()

	for {
		if ctx.Err() != nil {
			return
		}

		lost, err := l.connectAndSubscribe(ctx)
		if err != nil {
			wait := bo.next()
			slog.Error("mqtt: connect failed, will retry",
				"broker", l.cfg.Broker,
				"err", err,
				"retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
				continue
			}
		}

		slog.Info("mqtt: subscribed",
			"broker", l.cfg.Broker, "topic", l.cfg.Topic, "qos", l.cfg.QoS)
		bo.reset()

		select {
		case <-ctx.Done():
			return
		case err := <-lost:
			wait := bo.next()
			slog.Warn("mqtt: connection lost, will reconnect",
				"broker", l.cfg.Broker,
				"err", err,
				"retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}
}

// connectAndSubscribe dials the broker, performs the MQTT connect handshake,
// and subscribes to the telemetry topic. On success it returns a channel
// that receives exactly one error when the connection is lost.
func (l *Listener) connectAndSubscribe(ctx context.Context) (<-chan error, error) {
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", l.cfg.Broker)
	if err != nil {
		return nil, err
	}

	lost := make(chan error, 2)
	cli := paho.NewClient(paho.ClientConfig{
		Conn:     conn,
		ClientID: l.cfg.ClientID,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				l.handle(pr.Packet.Payload)
				return true, nil
			},
		},
		OnClientError: func(err error) {
			select {
			case lost <- err:
			default:
			}
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			select {
			case lost <- errors.New("server disconnect"):
			default:
			}
		},
	})

	connect := &paho.Connect{
		ClientID:   l.cfg.ClientID,
		CleanStart: true,
		KeepAlive:  keepAliveSeconds,
	}
	if l.cfg.Username != "" {
		connect.Username = l.cfg.Username
		connect.UsernameFlag = true
		if pw := l.cfg.Password(); pw != "" {
			connect.Password = []byte(pw)
			connect.PasswordFlag = true
		}
	}

	if _, err := cli.Connect(dialCtx, connect); err != nil {
		conn.Close()
		return nil, err
	}

	if _, err := cli.Subscribe(dialCtx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{
			Topic: l.cfg.Topic,
			QoS:   l.cfg.QoS,
		}},
	}); err != nil {
		_ = cli.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return nil, err
	}

	// Tear the connection down when ctx ends so Run can exit promptly.
	go func() {
		<-ctx.Done()
		_ = cli.Disconnect(&paho.Disconnect{ReasonCode: 0})
	}()

	return lost, nil
}

// handle validates one payload and forwards it to the pipeline.
func (l *Listener) handle(payload []byte) {
	l.received.Inc()

	s, err := Decode(payload)
	if err != nil {
		l.malformed.Inc()
		slog.Warn("mqtt: dropping malformed sample", "err", err)
		return
	}

	l.sink.Submit(s)
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// Apply ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	// Advance for next call.
	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
