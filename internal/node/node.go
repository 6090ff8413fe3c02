// Package node wires one process of the deployment: its socket, dispatcher, mutex and copy of the shared balance.
package node

import (
	"context"
	"distbank/internal/dispatcher"
	"distbank/internal/lamport"
	"distbank/internal/logging"
	"distbank/internal/mutex"
	"distbank/internal/probe"
	"distbank/internal/resource"
	"distbank/internal/trace"
	"distbank/internal/transport"
	"distbank/internal/utils/ioUtils"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Delay between two HELLO rounds while waiting for peers.
const probeInterval = 500 * time.Millisecond

// Node is the application-facing handle of a process.
type Node struct {
	logger  *logging.Logger
	logFile *logging.LogFile

	self     int
	instance uuid.UUID
	tieBreak uint32

	network     transport.NetworkInterface
	ownsNetwork bool
	recorder    trace.Recorder
	traceFile   *trace.JSONRecorder

	dispatcher   dispatcher.Dispatcher
	replica      *resource.Replica
	mutex        mutex.Mutex
	closeWrapper func()
	prober       *probe.Prober
	probeTimeout time.Duration

	closeOnce sync.Once
}

/*
New starts the process described by config: it binds the UDP socket of config.Self, as listed in the roster, and starts serving the protocol.

Errors are fatal startup errors: unknown process id, unusable log or trace path, or bind failure.
*/
func New(config *Config) (*Node, error) {
	member, ok := config.Roster.Member(config.Self)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownProcess, config.Self)
	}

	var logFile *logging.LogFile
	if config.LogPath != "" {
		var err error
		logFile, err = logging.NewLogFile(filepath.Join(config.LogPath, fmt.Sprintf("bank-%d.log", config.Self)))
		if err != nil {
			return nil, err
		}
	}

	// Outside debug mode, logs only go to the file, if any.
	log := logging.NewLogger(ioutils.NewStdStream(), logFile, fmt.Sprintf("p%d", config.Self), !config.Debug).WithLogLevel(config.LogLevel)

	udp, err := transport.NewUDP(member.Address(), log.WithPostfix("udp").WithLogLevel(logging.WARN))
	if err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, err
	}

	n, err := newNode(config, log, udp)
	if err != nil {
		udp.Close()
		if logFile != nil {
			logFile.Close()
		}
		return nil, err
	}
	n.logFile = logFile
	n.ownsNetwork = true

	return n, nil
}

/*
Constructs a node on an existing network interface. This is intended to be used directly only by the tests.
  - config: The configuration of the process.
  - log: The logger instance to use.
  - network: The network interface bound to the address of config.Self.
*/
func newNode(config *Config, log *logging.Logger, network transport.NetworkInterface) (*Node, error) {
	if !config.Roster.Contains(config.Self) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownProcess, config.Self)
	}

	instance := uuid.New()
	n := &Node{
		logger:       log,
		self:         config.Self,
		instance:     instance,
		tieBreak:     instance.ID(),
		network:      network,
		recorder:     trace.Nop(),
		probeTimeout: config.ProbeTimeout,
	}
	log.Infof("Starting process %d, instance %v, tie-break %d", n.self, instance, n.tieBreak)

	if config.TracePath != "" {
		rec, err := trace.NewFileRecorder(filepath.Join(config.TracePath, fmt.Sprintf("trace-%d.jsonl", config.Self)), instance.String())
		if err != nil {
			return nil, err
		}
		n.traceFile = rec
		n.recorder = rec
	}

	addrs := make([]transport.Address, config.Roster.Size())
	for _, m := range config.Roster.Members {
		addrs[m.ID] = m.Address()
	}
	n.dispatcher = dispatcher.New(log.WithPostfix("disp").WithLogLevel(logging.WARN), n.recorder, uint16(n.self), n.tieBreak, addrs, network)

	n.initMutex(config)
	n.prober = probe.New(log.WithPostfix("probe"), n.dispatcher)

	return n, nil
}

// Initializes the process's mutex and its copy of the shared value.
func (n *Node) initMutex(config *Config) {
	wrapper, closeWrapper := newMutexNetworkWrapper(n.logger.WithPostfix("dmw").WithLogLevel(logging.WARN), n.dispatcher)
	n.closeWrapper = closeWrapper

	peers := make([]mutex.Pid, 0, config.Roster.Size()-1)
	for _, id := range config.Roster.Peers(n.self) {
		peers = append(peers, mutex.Pid(id))
	}

	n.replica = resource.NewReplica(config.InitialBalance)
	n.mutex = mutex.NewRicartAgrawalaMutex(n.logger.WithPostfix("mtx"), wrapper, lamport.NewClock(), n.replica, mutex.Config{
		Self:                  mutex.Pid(n.self),
		TieBreak:              n.tieBreak,
		Peers:                 peers,
		RetransmitInterval:    config.Retransmit,
		MaxRetransmitInterval: config.MaxRetransmit,
	})
}

// Self returns the id of the process.
func (n *Node) Self() int {
	return n.self
}

// TieBreak returns the tie-break of this process instance.
func (n *Node) TieBreak() uint32 {
	return n.tieBreak
}

// Logger returns the root logger of the process.
func (n *Node) Logger() *logging.Logger {
	return n.logger
}

// Acquire blocks until the process holds the lock, or ctx ends. See [mutex.Mutex.Acquire].
func (n *Node) Acquire(ctx context.Context) error {
	return n.mutex.Acquire(ctx)
}

// Release publishes the balance to every peer and lets the next process in.
func (n *Node) Release() {
	n.mutex.Release()
}

// Balance returns the local copy of the balance. It is authoritative only while the lock is held.
func (n *Node) Balance() uint32 {
	return n.replica.Value()
}

// SetBalance changes the balance. Returns [mutex.ErrNotHeld] unless the lock is held.
func (n *Node) SetBalance(v uint32) error {
	return n.mutex.SetValue(v)
}

// State returns the local request state.
func (n *Node) State() mutex.State {
	return n.mutex.State()
}

// AwaitPeers blocks until every other process answered a HELLO, the configured probe timeout elapsed, or ctx ends.
func (n *Node) AwaitPeers(ctx context.Context) error {
	if n.probeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.probeTimeout)
		defer cancel()
	}
	return n.prober.AwaitPeers(ctx, probeInterval)
}

// Close stops the process. Pending acquisitions fail and the socket is released.
func (n *Node) Close() {
	n.closeOnce.Do(func() {
		n.logger.Info("Closing process ", n.self)

		n.mutex.Close()
		n.dispatcher.Close()
		n.closeWrapper()
		if n.ownsNetwork {
			n.network.Close()
		}
		if n.traceFile != nil {
			_ = n.traceFile.Close()
		}
		if n.logFile != nil {
			n.logFile.Close()
		}
	})
}
