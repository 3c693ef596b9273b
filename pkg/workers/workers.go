// Package workers implements the three blocking pipeline stages
// (capture, storage, export), wired together through the bounded lossy
// rings of pkg/ring and torn down cooperatively through a
// pkg/shutdown.Handle's three independent flags, grounded on
// pkg/capture/capture.go's own stateFn stage-polling idiom.
package workers

import (
	"context"
	"time"

	"github.com/cesnet/ipfixprobe-go/pkg/cache"
	"github.com/cesnet/ipfixprobe-go/pkg/capture"
	"github.com/cesnet/ipfixprobe-go/pkg/flow"
	"github.com/cesnet/ipfixprobe-go/pkg/ipfix"
	"github.com/cesnet/ipfixprobe-go/pkg/logging"
	"github.com/cesnet/ipfixprobe-go/pkg/ring"
	"github.com/cesnet/ipfixprobe-go/pkg/shutdown"
)

// pollInterval is how long a worker sleeps before retrying an empty
// queue: busy loops poll their input queue, sleeping briefly when
// empty rather than blocking, so a shutdown flag flip is noticed
// promptly.
const pollInterval = time.Microsecond

// CaptureWorker drives a *capture.Capture to completion and stops it
// as soon as the shutdown handle's input stage is signalled, since
// Capture's own run loop blocks on a context rather than polling a
// flag; this is the adapter between the two shutdown idioms.
type CaptureWorker struct {
	c *capture.Capture
	h *shutdown.Handle
}

// NewCaptureWorker builds a CaptureWorker over c, observing h.
func NewCaptureWorker(c *capture.Capture, h *shutdown.Handle) *CaptureWorker {
	return &CaptureWorker{c: c, h: h}
}

// Run blocks until the capture stops, either because its source was
// exhausted or because the shutdown handle's input stage was
// signalled.
func (w *CaptureWorker) Run() {
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for !w.h.InputDone() {
			time.Sleep(pollInterval)
		}
		w.c.Stop()
	}()
	w.c.Run()
	<-stopped
}

// StorageWorker drains a packet ring into a flow cache: one goroutine,
// one Cache, one copy of the plugin registry (the Cache itself owns
// that copy via cache.New).
type StorageWorker struct {
	ctx   context.Context
	in    *ring.Ring[*capture.Packet]
	cache *cache.Cache
	h     *shutdown.Handle

	statsCh chan chan cache.Stats
	done    chan struct{}
}

// NewStorageWorker builds a StorageWorker reading from in and feeding c,
// logging through whatever fields ctx carries (typically the owning
// interface's name, tagged by the caller via logging.WithInterface).
func NewStorageWorker(ctx context.Context, in *ring.Ring[*capture.Packet], c *cache.Cache, h *shutdown.Handle) *StorageWorker {
	return &StorageWorker{ctx: ctx, in: in, cache: c, h: h, statsCh: make(chan chan cache.Stats), done: make(chan struct{})}
}

// Stats returns a snapshot of the cache's running counters, requested
// across goroutines the same way pkg/capture.Capture.Status does:
// Cache itself isn't safe for concurrent use (it's exclusively owned
// by this worker's goroutine), so a caller on another goroutine (e.g.
// pkg/api's /cache/stats handler) asks the worker's own loop to read
// it instead of reading cache.Stats directly. Returns the zero Stats
// if the worker has already stopped.
func (w *StorageWorker) Stats() cache.Stats {
	ch := make(chan cache.Stats, 1)
	select {
	case w.statsCh <- ch:
		return <-ch
	case <-w.done:
		return cache.Stats{}
	}
}

// Run drains in until the shutdown handle's storage stage is
// signalled and the queue is empty, then force-exports every
// remaining cached flow.
func (w *StorageWorker) Run() {
	defer close(w.done)
	logger := logging.FromContext(w.ctx)
	for {
		select {
		case ch := <-w.statsCh:
			ch <- w.cache.Stats()
		default:
		}

		pkt, ok := w.in.Pop()
		if !ok {
			if w.h.StorageDone() {
				logger.Info("storage worker draining cache before exit")
				w.cache.Shutdown()
				return
			}
			time.Sleep(pollInterval)
			continue
		}
		w.cache.Put(pkt)
	}
}

// FlowSink receives a copy of every flow the export worker processes,
// alongside the primary IPFIX exporter; satisfied by *framed.Router for
// the optional alternate framed-record output.
type FlowSink interface {
	Write(f *flow.Flow) error
}

// ExportWorker drains a flow ring into an IPFIX exporter, flushing
// periodically on a timer so buffered records don't wait indefinitely
// for a template buffer to fill.
type ExportWorker struct {
	ctx      context.Context
	in       *ring.Ring[*flow.Flow]
	exporter *ipfix.Exporter
	h        *shutdown.Handle

	flushInterval time.Duration
	sinks         []FlowSink

	statsCh chan chan ipfix.Stats
	done    chan struct{}
}

// NewExportWorker builds an ExportWorker reading from in and sending
// through exp, flushing every flushInterval (the caller decides the
// exact value, typically from CLI config). Any sinks passed also
// receive every flow, after the IPFIX export.
func NewExportWorker(ctx context.Context, in *ring.Ring[*flow.Flow], exp *ipfix.Exporter, h *shutdown.Handle, flushInterval time.Duration, sinks ...FlowSink) *ExportWorker {
	return &ExportWorker{
		ctx: ctx, in: in, exporter: exp, h: h, flushInterval: flushInterval, sinks: sinks,
		statsCh: make(chan chan ipfix.Stats), done: make(chan struct{}),
	}
}

// Stats returns a snapshot of the exporter's running counters,
// requested across goroutines the same way StorageWorker.Stats reads
// its Cache: the Exporter is exclusively owned by this worker's
// goroutine. Returns the zero Stats if the worker has already
// stopped.
func (w *ExportWorker) Stats() ipfix.Stats {
	ch := make(chan ipfix.Stats, 1)
	select {
	case w.statsCh <- ch:
		return <-ch
	case <-w.done:
		return ipfix.Stats{}
	}
}

// Run drains in, exporting each flow, until the shutdown handle's
// export stage is signalled and the queue is empty; it flushes on
// every timer tick and once more before returning.
func (w *ExportWorker) Run() {
	defer close(w.done)
	logger := logging.FromContext(w.ctx)
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case ch := <-w.statsCh:
			ch <- w.exporter.Stats()
		case <-ticker.C:
			if err := w.exporter.Flush(); err != nil {
				logger.Errorf("ipfix flush failed: %v", err)
			}
		default:
		}

		f, ok := w.in.Pop()
		if !ok {
			if w.h.ExportDone() {
				if err := w.exporter.Shutdown(); err != nil {
					logger.Errorf("ipfix shutdown flush failed: %v", err)
				}
				return
			}
			time.Sleep(pollInterval)
			continue
		}
		if err := w.exporter.Export(f); err != nil {
			logger.Errorf("ipfix export failed: %v", err)
		}
		for _, sink := range w.sinks {
			if err := sink.Write(f); err != nil {
				logger.Errorf("framed sink write failed: %v", err)
			}
		}
	}
}
