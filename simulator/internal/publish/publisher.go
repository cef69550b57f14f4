package publish

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/celltwin/celltwin/pkg/types"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	keepAliveSeconds  = 30
)

// Options configures a Publisher.
type Options struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
}

// Publisher sends telemetry samples to the broker. Publish fails fast while
// the connection is down; the Run loop re-establishes it in the background.
type Publisher struct {
	opts Options

	mu  sync.RWMutex
	cli *paho.Client
}

// New creates a Publisher. Call Run to establish and maintain the connection.
func New(opts Options) *Publisher {
	return &Publisher{opts: opts}
}

// Run connects to the broker and keeps the connection alive until ctx is
// cancelled, reconnecting with backoff on loss.
func (p *Publisher) Run(ctx context.Context) {
	bo := &backoff{current: backoffInitial}

	for {
		if ctx.Err() != nil {
			return
		}

		lost, err := p.connect(ctx)
		if err != nil {
			wait := bo.next()
			slog.Error("mqtt: connect failed, will retry",
				"broker", p.opts.Broker, "err", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
				continue
			}
		}

		slog.Info("mqtt: connected", "broker", p.opts.Broker, "topic", p.opts.Topic)
		bo.reset()

		select {
		case <-ctx.Done():
			p.setClient(nil)
			return
		case err := <-lost:
			p.setClient(nil)
			wait := bo.next()
			slog.Warn("mqtt: connection lost, will reconnect",
				"broker", p.opts.Broker, "err", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}
}

// Publish encodes one sample as JSON and sends it to the telemetry topic.
// Returns an error when the connection is down or the publish fails; callers
// decide whether to drop or retry.
func (p *Publisher) Publish(ctx context.Context, s types.TelemetrySample) error {
	cli := p.client()
	if cli == nil {
		return errors.New("not connected")
	}

	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	_, err = cli.Publish(pubCtx, &paho.Publish{
		Topic:   p.opts.Topic,
		QoS:     p.opts.QoS,
		Payload: payload,
	})
	return err
}

func (p *Publisher) connect(ctx context.Context) (<-chan error, error) {
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", p.opts.Broker)
	if err != nil {
		return nil, err
	}

	lost := make(chan error, 2)
	cli := paho.NewClient(paho.ClientConfig{
		Conn:     conn,
		ClientID: p.opts.ClientID,
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

	if _, err := cli.Connect(dialCtx, &paho.Connect{
		ClientID:   p.opts.ClientID,
		CleanStart: true,
		KeepAlive:  keepAliveSeconds,
	}); err != nil {
		conn.Close()
		return nil, err
	}

	// Tear the connection down when ctx ends.
	go func() {
		<-ctx.Done()
		_ = cli.Disconnect(&paho.Disconnect{ReasonCode: 0})
	}()

	p.setClient(cli)
	return lost, nil
}

func (p *Publisher) client() *paho.Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cli
}

func (p *Publisher) setClient(cli *paho.Client) {
	p.mu.Lock()
	p.cli = cli
	p.mu.Unlock()
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func (b *backoff) next() time.Duration {
	d := b.current
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
