// Package pstats implements the per-flow packet-size/inter-arrival
// trace extension, grounded on the original's PSTATSPlugin
// (pstatsplugin.cpp/.h): the first MaxElems packets of a flow have
// their size, TCP flags, arrival time and direction recorded verbatim
// so the exporter can reconstruct a coarse packet-level trace.
package pstats

import (
	"encoding/binary"

	"github.com/cesnet/ipfixprobe-go/pkg/capture"
	"github.com/cesnet/ipfixprobe-go/pkg/plugin"
)

// MaxElems bounds how many packets of a flow are recorded, mirroring
// the original's PSTATS_MAXELEMCOUNT.
const MaxElems = 30

// Options tune the duplicate-suppression and zero-payload handling the
// original exposes as plugin options ("skipdup", "includezeros").
type Options struct {
	SkipDuplicates bool
	IncludeZeros   bool
}

// Extension is the per-flow record pstats attaches, mirroring
// RecordExtPSTATS.
type Extension struct {
	Count int

	Sizes      [MaxElems]uint16
	TCPFlags   [MaxElems]uint8
	Timestamps [MaxElems]int64 // unix nanoseconds
	Dirs       [MaxElems]int8  // +1 source direction, -1 destination direction

	// Per-direction last-seen TCP sequencing, used to recognize
	// retransmissions when Options.SkipDuplicates is set.
	lastSeq [2]uint32
	lastAck [2]uint32
	lastLen [2]uint16
	lastFlg [2]uint8
	seen    [2]bool
}

// Tag implements plugin.Extension.
func (e *Extension) Tag() plugin.Tag { return plugin.TagPstats }

// FillIPFIX serializes the recorded trace: a one-byte count followed
// by, per packet, a 2-byte size, 1-byte TCP flags, 1-byte signed
// direction and an 8-byte timestamp.
func (e *Extension) FillIPFIX(buf []byte) int {
	const perElem = 2 + 1 + 1 + 8
	need := 1 + perElem*e.Count
	if len(buf) < need {
		return -1
	}
	buf[0] = uint8(e.Count)
	off := 1
	for i := 0; i < e.Count; i++ {
		binary.BigEndian.PutUint16(buf[off:], e.Sizes[i])
		buf[off+2] = e.TCPFlags[i]
		buf[off+3] = uint8(e.Dirs[i])
		binary.BigEndian.PutUint64(buf[off+4:], uint64(e.Timestamps[i]))
		off += perElem
	}
	return off
}

// FillFramed uses the same layout as FillIPFIX; the framed record
// format reuses the same field serialization.
func (e *Extension) FillFramed(buf []byte) int { return e.FillIPFIX(buf) }

// Plugin collects per-flow packet traces.
type Plugin struct {
	opts Options
}

// New constructs a pstats Plugin with the given options.
func New(opts Options) *Plugin { return &Plugin{opts: opts} }

// Name implements plugin.Plugin.
func (p *Plugin) Name() string { return "pstats" }

// Tag implements plugin.Plugin.
func (p *Plugin) Tag() plugin.Tag { return plugin.TagPstats }

// Copy implements plugin.Copyable, giving each storage worker its own
// Plugin; Options are immutable so a shallow copy suffices.
func (p *Plugin) Copy() plugin.Plugin { return &Plugin{opts: p.opts} }

// PostCreate attaches a fresh Extension seeded with the packet that
// created the flow (mirrors PSTATSPlugin::post_create).
func (p *Plugin) PostCreate(f plugin.Flow, pkt *capture.Packet) plugin.Flags {
	ext := &Extension{}
	p.record(ext, pkt, true)
	f.SetExtension(ext)
	return 0
}

// PostUpdate appends pkt's contribution to the flow's existing
// Extension (mirrors PSTATSPlugin::post_update).
func (p *Plugin) PostUpdate(f plugin.Flow, pkt *capture.Packet) plugin.Flags {
	raw, ok := f.Extension(plugin.TagPstats)
	if !ok {
		return 0
	}
	p.record(raw.(*Extension), pkt, pkt.SourceDir)
	return 0
}

// record folds pkt into ext, applying the skip-zero-payload and
// duplicate-suppression options (mirrors
// PSTATSPlugin::update_record).
func (p *Plugin) record(ext *Extension, pkt *capture.Packet, sourceDir bool) {
	dirIdx := 0
	dir := int8(1)
	if !sourceDir {
		dirIdx = 1
		dir = -1
	}

	if pkt.PayloadLength == 0 && !p.opts.IncludeZeros {
		return
	}

	if p.opts.SkipDuplicates && ext.seen[dirIdx] &&
		pkt.TCPSeq == ext.lastSeq[dirIdx] && pkt.TCPAck == ext.lastAck[dirIdx] &&
		uint16(pkt.IPLength) == ext.lastLen[dirIdx] && pkt.TCPFlags == ext.lastFlg[dirIdx] {
		return
	}
	ext.lastSeq[dirIdx] = pkt.TCPSeq
	ext.lastAck[dirIdx] = pkt.TCPAck
	ext.lastLen[dirIdx] = uint16(pkt.IPLength)
	ext.lastFlg[dirIdx] = pkt.TCPFlags
	ext.seen[dirIdx] = true

	if ext.Count >= MaxElems {
		return
	}
	ext.Sizes[ext.Count] = uint16(pkt.IPLength)
	ext.TCPFlags[ext.Count] = pkt.TCPFlags
	ext.Timestamps[ext.Count] = pkt.Timestamp.UnixNano()
	ext.Dirs[ext.Count] = dir
	ext.Count++
}

var (
	_ plugin.Plugin      = (*Plugin)(nil)
	_ plugin.PostCreator = (*Plugin)(nil)
	_ plugin.PostUpdater = (*Plugin)(nil)
	_ plugin.Copyable    = (*Plugin)(nil)
	_ plugin.Extension   = (*Extension)(nil)
)
