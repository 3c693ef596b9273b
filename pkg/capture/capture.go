package capture

import (
	"context"
	"errors"

	"github.com/cesnet/ipfixprobe-go/pkg/logging"
	"github.com/cesnet/ipfixprobe-go/pkg/ring"
)

// ErrorThreshold is the maximum number of consecutive packet-decode
// failures an interface tolerates before the capture gives up.
const ErrorThreshold = 10000

// State enumerates the activity states of a Capture.
type State byte

const (
	StateInitializing State = iota + 1
	StateCapturing
	StateClosing
	StateError
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateCapturing:
		return "capturing"
	case StateClosing:
		return "closing"
	case StateError:
		return "inError"
	default:
		return "unknown"
	}
}

// Status reports the capture's current state and running counters.
type Status struct {
	State           State
	PacketsLogged   uint64
	PacketsReceived uint64
	PacketsDropped  uint64
	LastError       string
}

// Opener opens the packet Source; it's either NewLiveSource or
// NewFileSource bound to their respective arguments, letting Capture stay
// agnostic to which command-line input mode was selected.
type Opener func() (Source, error)

// stateFn is one state of the capture's run loop.
type stateFn func(*Capture) stateFn

// Capture pulls packets from a Source and pushes them onto an output ring
// for the storage worker to drain. It is a small state machine:
// initializing -> capturing -> (inError | closing).
//
// A single Capture is the entire input side of one interface's pipeline;
// there is no rotation or live reconfiguration. One Capture runs per
// configured interface (or one for the replay file).
type Capture struct {
	ctx    context.Context
	cancel context.CancelFunc

	open Opener
	out  *ring.Ring[*Packet]

	source Source
	state  State

	packetsLogged uint64
	errCount      int
	lastErr       error

	statusCh chan chan Status
	done     chan struct{}
}

// New creates a Capture that will open its source lazily when Run starts,
// writing decoded packets to out.
func New(ctx context.Context, open Opener, out *ring.Ring[*Packet]) *Capture {
	cctx, cancel := context.WithCancel(ctx)
	return &Capture{
		ctx:      cctx,
		cancel:   cancel,
		open:     open,
		out:      out,
		statusCh: make(chan chan Status),
		done:     make(chan struct{}),
	}
}

// Run drives the state machine until the capture closes, either because
// ctx was cancelled or the source was exhausted (offline replay reaching
// EOF). It blocks until the machine reaches a terminal state.
func (c *Capture) Run() {
	defer close(c.done)
	for state := initializing; state != nil; {
		state = state(c)
	}
}

// Stop cancels the capture's context, unblocking any in-progress read.
func (c *Capture) Stop() {
	c.cancel()
	<-c.done
}

// Status reports the capture's current state.
func (c *Capture) Status() Status {
	ch := make(chan Status, 1)
	select {
	case c.statusCh <- ch:
		return <-ch
	case <-c.done:
		return Status{State: StateClosing}
	}
}

func initializing(c *Capture) stateFn {
	c.state = StateInitializing
	logger := logging.FromContext(c.ctx)
	logger.Info("opening packet source")

	src, err := c.open()
	if err != nil {
		c.lastErr = err
		logger.Errorf("failed to open packet source: %v", err)
		return inError
	}
	c.source = src
	return capturing
}

func capturing(c *Capture) stateFn {
	c.state = StateCapturing
	logger := logging.FromContext(c.ctx)
	logger.Info("capturing packets")

	for {
		select {
		case <-c.ctx.Done():
			return closing
		case ch := <-c.statusCh:
			ch <- c.status()
			continue
		default:
		}

		pkt := &Packet{}
		err := c.source.NextPacket(pkt)
		if err != nil {
			if errors.Is(err, ErrCaptureStopped) {
				return closing
			}
			c.errCount++
			c.lastErr = err
			if c.errCount > ErrorThreshold {
				logger.Errorf("exceeded error threshold of %d consecutive failures: %v", ErrorThreshold, err)
				return inError
			}
			continue
		}
		c.errCount = 0
		c.packetsLogged++
		c.out.Push(pkt)
	}
}

func inError(c *Capture) stateFn {
	c.state = StateError
	logger := logging.FromContext(c.ctx)
	logger.Error("capture halted after exceeding the error threshold")

	for {
		select {
		case <-c.ctx.Done():
			return closing
		case ch := <-c.statusCh:
			ch <- c.status()
		}
	}
}

func closing(c *Capture) stateFn {
	c.state = StateClosing
	logger := logging.FromContext(c.ctx)

	if c.source != nil {
		if err := c.source.Close(); err != nil {
			logger.Errorf("failed to close packet source: %v", err)
		}
	}
	logger.Info("capture closed")
	return nil
}

func (c *Capture) status() Status {
	st := Status{State: c.state, PacketsLogged: c.packetsLogged}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	if c.source != nil {
		if s, err := c.source.Stats(); err == nil {
			st.PacketsReceived = s.PacketsReceived
			st.PacketsDropped = s.PacketsDropped
		}
	}
	return st
}
