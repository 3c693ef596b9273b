// Package flow defines the record the cache builds up per conversation
// and hands to the exporter. A Flow starts from the packet that created
// it and accumulates counters and extensions until it is exported; once
// exported it belongs exclusively to the exporter goroutine and the
// cache never touches it again.
package flow

import (
	"net"
	"time"

	"github.com/cesnet/ipfixprobe-go/pkg/capture"
	"github.com/cesnet/ipfixprobe-go/pkg/plugin"
)

// EndReason records why a flow was exported, mirroring the original's
// FLOW_END_* constants (flowifc.h).
type EndReason uint8

const (
	EndReasonActive   EndReason = iota + 1 // active timeout elapsed
	EndReasonInactive                      // inactive timeout elapsed
	EndReasonEOF                           // SYN arrived while FIN/RST already set
	EndReasonForced                        // process shutdown
	EndReasonNoRes                         // evicted for cache space
	EndReasonPacket                        // exported standalone via pre_create's EXPORT_PACKET
)

func (r EndReason) String() string {
	switch r {
	case EndReasonActive:
		return "active"
	case EndReasonInactive:
		return "inactive"
	case EndReasonEOF:
		return "eof"
	case EndReasonForced:
		return "forced"
	case EndReasonNoRes:
		return "no-resource"
	case EndReasonPacket:
		return "packet"
	default:
		return "unknown"
	}
}

// Counters accumulate per-direction packet/byte/flag totals.
type Counters struct {
	Packets    uint64
	Bytes      uint64
	TCPControl uint8
}

func (c Counters) toPlugin() plugin.Counters {
	return plugin.Counters{Packets: c.Packets, Bytes: c.Bytes, TCPControl: c.TCPControl}
}

// Flow is the record the cache populates per conversation. The endpoint
// identity is frozen at creation time from the packet that triggered it;
// direction is always relative to that original source, recorded as a
// single bool on each packet marking whether it travels in the source
// direction.
type Flow struct {
	FirstSeen time.Time
	LastSeen  time.Time

	IPVersion uint8
	IPProto   uint8
	SrcPort   uint16
	DstPort   uint16
	SrcIP     net.IP
	DstIP     net.IP
	SrcMAC    net.HardwareAddr
	DstMAC    net.HardwareAddr

	Src Counters
	Dst Counters

	EndReason EndReason

	exts    [64]plugin.Extension
	extSeen uint64 // bitmask of populated slots in exts
}

// Reset clears a Flow back to its zero value in place, for reuse by the
// cache when a slot is recycled (mirrors the original's
// FlowRecord::erase()).
func (f *Flow) Reset() {
	*f = Flow{}
}

// SoftReset clears counters and extensions but keeps identity, for the
// flush-with-reinsert path (mirrors FlowRecord::soft_clean(): "Clean
// counters, set time first to last").
func (f *Flow) SoftReset() {
	f.FirstSeen = f.LastSeen
	f.Src = Counters{}
	f.Dst = Counters{}
	f.exts = [64]plugin.Extension{}
	f.extSeen = 0
}

// Extension returns the extension filed under tag, if any.
func (f *Flow) Extension(tag plugin.Tag) (plugin.Extension, bool) {
	if f.extSeen&(1<<uint(tag)) == 0 {
		return nil, false
	}
	return f.exts[tag], true
}

// SetExtension files ext under its own Tag, replacing any prior
// extension with the same tag.
func (f *Flow) SetExtension(ext plugin.Extension) {
	tag := ext.Tag()
	f.exts[tag] = ext
	f.extSeen |= 1 << uint(tag)
}

// ExtensionMask returns the bitmask of tags this flow carries
// extensions for; the exporter keys templates on (IPVersion, mask).
func (f *Flow) ExtensionMask() uint64 {
	return f.extSeen
}

// Extensions returns the flow's extensions in Tag order, for
// deterministic field layout when filling a template.
func (f *Flow) Extensions() []plugin.Extension {
	out := make([]plugin.Extension, 0, 4)
	for tag := 0; tag < len(f.exts); tag++ {
		if f.extSeen&(1<<uint(tag)) != 0 {
			out = append(out, f.exts[tag])
		}
	}
	return out
}

// Populate initializes a freshly-claimed slot from the packet that
// created it (mirrors FlowRecord::create). The endpoint identity is
// frozen here and never touched again until the slot is recycled.
func (f *Flow) Populate(pkt *capture.Packet) {
	f.FirstSeen = pkt.Timestamp
	f.LastSeen = pkt.Timestamp

	f.IPVersion = pkt.IPVersion
	f.IPProto = pkt.IPProto
	f.SrcPort = pkt.SrcPort
	f.DstPort = pkt.DstPort
	f.SrcIP = pkt.SrcIP
	f.DstIP = pkt.DstIP
	f.SrcMAC = pkt.SrcMAC
	f.DstMAC = pkt.DstMAC

	f.Src = Counters{Packets: 1, Bytes: uint64(pkt.IPLength), TCPControl: pkt.TCPFlags}
}

// Update folds a matching packet's contribution into the flow's
// per-direction counters (mirrors FlowRecord::update). src selects
// which direction's counters accumulate.
func (f *Flow) Update(pkt *capture.Packet, src bool) {
	f.LastSeen = pkt.Timestamp
	if src {
		f.Src.Packets++
		f.Src.Bytes += uint64(pkt.IPLength)
		f.Src.TCPControl |= pkt.TCPFlags
	} else {
		f.Dst.Packets++
		f.Dst.Bytes += uint64(pkt.IPLength)
		f.Dst.TCPControl |= pkt.TCPFlags
	}
}

// SourceCounters implements plugin.Flow.
func (f *Flow) SourceCounters() plugin.Counters { return f.Src.toPlugin() }

// DestCounters implements plugin.Flow.
func (f *Flow) DestCounters() plugin.Counters { return f.Dst.toPlugin() }

var _ plugin.Flow = (*Flow)(nil)
