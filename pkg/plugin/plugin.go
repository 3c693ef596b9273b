// Package plugin defines the contract flow-cache plugins implement. A
// plugin observes flow lifecycle events and attaches extension records;
// the cache and exporter never know a plugin's payload grammar, only the
// Flags its hooks return and the Tag its extension is filed under.
//
// Rather than one interface with no-op default methods (a FlowCachePlugin
// base class in the original C++), each hook is its own narrow interface
// and a plugin implements whichever subset it needs, the "accept
// interfaces" idiom, kept small and composed rather than centralized in
// one god-interface.
package plugin

import "github.com/cesnet/ipfixprobe-go/pkg/capture"

// Flags are OR-combined across every plugin invoked for a hook.
type Flags uint8

const (
	// FlushFlag exports the current flow immediately.
	FlushFlag Flags = 0x1
	// FlushWithReinsertFlag exports the current flow and immediately
	// starts a new one from the same triggering packet.
	FlushWithReinsertFlag Flags = 0x3
	// ExportPacketFlag, meaningful only from PreCreate, exports the
	// triggering packet as its own single-packet flow.
	ExportPacketFlag Flags = 0x4
)

// Has reports whether f includes all bits of mask.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// Tag identifies an extension type. The registry is closed and bounded
// at 64 entries so an exporter can track "which extensions does this
// flow carry" in a single template-keying bitmask.
type Tag uint8

const maxTags = 64

// Flow is the narrow view of a flow record a plugin hook needs. It is
// satisfied by *flow.Flow; plugin cannot import pkg/flow directly
// without creating an import cycle (pkg/flow needs plugin.Tag for its
// extension chain), so the hook interfaces below take this interface
// instead of a concrete type.
type Flow interface {
	Extension(tag Tag) (Extension, bool)
	SetExtension(ext Extension)
	SourceCounters() Counters
	DestCounters() Counters
}

// Counters is the narrow read-only view of a flow's per-direction
// counters a plugin may need to decide whether to flush.
type Counters struct {
	Packets    uint64
	Bytes      uint64
	TCPControl uint8
}

// Extension is attached to a Flow by a plugin. FillIPFIX and FillFramed
// serialize the extension's fields into the two wire formats the
// exporter supports (IPFIX and the framed-record mirror); each returns
// the number of bytes written, or -1 if buf is too small.
type Extension interface {
	Tag() Tag
	FillIPFIX(buf []byte) int
	FillFramed(buf []byte) int
}

// Initer is implemented by plugins that need one-time setup before
// capture starts.
type Initer interface {
	Init() error
}

// PreCreator runs before a new flow record is created for a packet that
// found no match in the cache.
type PreCreator interface {
	PreCreate(pkt *capture.Packet) Flags
}

// PostCreator runs immediately after a new flow record is created.
type PostCreator interface {
	PostCreate(f Flow, pkt *capture.Packet) Flags
}

// PreUpdater runs before an existing flow record is updated with a
// matching packet.
type PreUpdater interface {
	PreUpdate(f Flow, pkt *capture.Packet) Flags
}

// PostUpdater runs after an existing flow record has been updated.
type PostUpdater interface {
	PostUpdate(f Flow, pkt *capture.Packet) Flags
}

// PreExporter runs once, immediately before a flow is handed off to the
// export queue on eviction, inactive or active timeout, and shutdown.
// Flows closed by a new SYN or flushed at a plugin's request are
// exported without it.
type PreExporter interface {
	PreExport(f Flow)
}

// Finisher runs once when the pipeline shuts down, after every
// in-cache flow has been force-exported.
type Finisher interface {
	Finish()
}

// Copyable lets the cache give each storage worker its own plugin chain
// without forcing every plugin to be safe for concurrent use.
type Copyable interface {
	Copy() Plugin
}

// Plugin is the union of everything a concrete plugin may implement.
// Nothing requires implementing all of it; Registry type-asserts each
// plugin against the narrower interfaces above before invoking a hook.
type Plugin interface {
	Name() string
	Tag() Tag
}
