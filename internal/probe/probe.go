// Package probe checks that the other processes of the deployment are up before the protocol starts.
package probe

import (
	"context"
	"distbank/internal/dispatcher"
	"distbank/internal/logging"
	"distbank/internal/wire"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnreachable is returned when some peers never acknowledged a HELLO.
var ErrUnreachable = errors.New("probe: peers unreachable")

// Prober answers HELLO messages and sends its own until every peer acknowledged one.
type Prober struct {
	logger *logging.Logger
	disp   dispatcher.Dispatcher
	nonce  uint32

	mu      sync.Mutex
	acked   map[uint16]struct{}
	changed chan struct{}
}

// New creates a prober and registers its handlers on the dispatcher. Each prober draws a random nonce so acknowledgements of an earlier incarnation are not counted.
func New(logger *logging.Logger, d dispatcher.Dispatcher) *Prober {
	p := &Prober{
		logger:  logger,
		disp:    d,
		nonce:   uuid.New().ID(),
		acked:   make(map[uint16]struct{}),
		changed: make(chan struct{}, 1),
	}

	d.Register(wire.Hello, p.handleHello)
	d.Register(wire.HelloAck, p.handleHelloAck)

	return p
}

func (p *Prober) handleHello(msg wire.Message) {
	p.logger.Info("HELLO from ", msg.Sender)
	_ = p.disp.Send(wire.Message{Command: wire.HelloAck, Payload: msg.Payload}, msg.Sender)
}

func (p *Prober) handleHelloAck(msg wire.Message) {
	if msg.Payload != p.nonce {
		p.logger.Info("Ignoring HELLO_ACK from ", msg.Sender, " with foreign nonce ", msg.Payload)
		return
	}

	p.mu.Lock()
	_, known := p.acked[msg.Sender]
	p.acked[msg.Sender] = struct{}{}
	p.mu.Unlock()

	if !known {
		p.logger.Info("Process ", msg.Sender, " is up")
		select {
		case p.changed <- struct{}{}:
		default:
		}
	}
}

// Missing returns the peers that have not acknowledged a HELLO yet.
func (p *Prober) Missing() []uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()

	missing := []uint16{}
	for _, peer := range p.disp.Peers() {
		if _, ok := p.acked[peer]; !ok {
			missing = append(missing, peer)
		}
	}
	return missing
}

/*
AwaitPeers sends HELLO to every silent peer each interval, until all peers acknowledged one or ctx ends.

When ctx ends first, the returned error wraps [ErrUnreachable] and ctx.Err().
*/
func (p *Prober) AwaitPeers(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	resend := true
	for {
		missing := p.Missing()
		if len(missing) == 0 {
			p.logger.Info("All processes are up")
			return nil
		}

		if resend {
			for _, peer := range missing {
				_ = p.disp.Send(wire.Message{Command: wire.Hello, Payload: p.nonce}, peer)
			}
		}

		select {
		case <-ticker.C:
			resend = true
		case <-p.changed:
			resend = false
		case <-ctx.Done():
			return fmt.Errorf("%w %v: %w", ErrUnreachable, p.Missing(), ctx.Err())
		}
	}
}
