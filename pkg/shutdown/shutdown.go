// Package shutdown implements cooperative three-stage teardown: shutdown
// is driven by three flags observed by the capture, storage, and export
// loops respectively (terminate_input, terminate_storage,
// terminate_export). A signal handler sets a global stop flag; the main
// goroutine transitions workers through the three stages in order, and
// each stage drains its downstream queue before the next is signalled.
package shutdown

import "sync/atomic"

// Handle holds the three independent termination flags and lets the main
// goroutine drive them through capture -> storage -> export in order,
// giving each stage a chance to drain its downstream queue before the
// next is signalled.
type Handle struct {
	input   atomic.Bool
	storage atomic.Bool
	export  atomic.Bool
}

// New returns a Handle with all stages still running.
func New() *Handle {
	return &Handle{}
}

// InputDone reports whether the capture stage has been told to stop.
func (h *Handle) InputDone() bool { return h.input.Load() }

// StorageDone reports whether the storage stage has been told to stop.
func (h *Handle) StorageDone() bool { return h.storage.Load() }

// ExportDone reports whether the export stage has been told to stop.
func (h *Handle) ExportDone() bool { return h.export.Load() }

// StopInput signals the capture stage to stop producing new packets.
func (h *Handle) StopInput() { h.input.Store(true) }

// StopStorage signals the storage stage to stop once its input queue is
// drained.
func (h *Handle) StopStorage() { h.storage.Store(true) }

// StopExport signals the export stage to stop once its queue is drained.
func (h *Handle) StopExport() { h.export.Store(true) }

// StopAll raises all three flags at once, for the signal-handler path in
// original_source where a single interrupt tears the whole pipeline down
// without staged draining.
func (h *Handle) StopAll() {
	h.StopInput()
	h.StopStorage()
	h.StopExport()
}
