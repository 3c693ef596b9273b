// Package bstats implements per-flow burst statistics, grounded on the
// original's BSTATSPlugin (bstatsplugin.cpp/.h): a burst is a run of at
// least MinPacketsInBurst packets in the same direction with no more
// than MaxInterPacketGap between consecutive packets. Up to MaxElems
// bursts per direction are recorded with their packet count, byte
// count, and start/stop times.
package bstats

import (
	"encoding/binary"
	"time"

	"github.com/cesnet/ipfixprobe-go/pkg/capture"
	"github.com/cesnet/ipfixprobe-go/pkg/plugin"
)

// MaxElems bounds how many bursts per direction are recorded, mirroring
// the original's BSTATS_MAXELENCOUNT.
const MaxElems = 15

// MinPacketsInBurst is the minimum run length that counts as a burst,
// mirroring MINIMAL_PACKETS_IN_BURST.
const MinPacketsInBurst = 3

// MaxInterPacketGap is the longest gap between consecutive in-burst
// packets, mirroring MAXIMAL_INTERPKT_TIME.
const MaxInterPacketGap = time.Second

const (
	dirSource = 0
	dirDest   = 1
)

type burst struct {
	packets uint32
	bytes   uint32
	start   time.Time
	stop    time.Time
}

// Extension is the per-flow record bstats attaches, mirroring
// RecordExtBSTATS.
type Extension struct {
	count  [2]int
	bursts [2][MaxElems]burst

	// in-progress run not yet known to qualify as a burst.
	runPackets [2]uint32
	runBytes   [2]uint32
	runStart   [2]time.Time
	runLast    [2]time.Time
	runOpen    [2]bool
}

// Tag implements plugin.Extension.
func (e *Extension) Tag() plugin.Tag { return plugin.TagBstats }

// FillIPFIX serializes both directions' burst lists: a one-byte count
// per direction followed by, per burst, a 4-byte packet count, 4-byte
// byte count and two 8-byte unix-nanosecond timestamps.
func (e *Extension) FillIPFIX(buf []byte) int {
	const perBurst = 4 + 4 + 8 + 8
	need := 2 + perBurst*(e.count[dirSource]+e.count[dirDest])
	if len(buf) < need {
		return -1
	}
	off := 0
	for _, dir := range [2]int{dirSource, dirDest} {
		buf[off] = uint8(e.count[dir])
		off++
		for i := 0; i < e.count[dir]; i++ {
			b := e.bursts[dir][i]
			binary.BigEndian.PutUint32(buf[off:], b.packets)
			binary.BigEndian.PutUint32(buf[off+4:], b.bytes)
			binary.BigEndian.PutUint64(buf[off+8:], uint64(b.start.UnixNano()))
			binary.BigEndian.PutUint64(buf[off+16:], uint64(b.stop.UnixNano()))
			off += perBurst
		}
	}
	return off
}

// FillFramed uses the same layout as FillIPFIX.
func (e *Extension) FillFramed(buf []byte) int { return e.FillIPFIX(buf) }

// Plugin detects and records per-direction packet bursts.
type Plugin struct{}

// New constructs a bstats Plugin.
func New() *Plugin { return &Plugin{} }

// Name implements plugin.Plugin.
func (p *Plugin) Name() string { return "bstats" }

// Tag implements plugin.Plugin.
func (p *Plugin) Tag() plugin.Tag { return plugin.TagBstats }

// Copy implements plugin.Copyable; Plugin carries no mutable state so
// a fresh zero value suffices.
func (p *Plugin) Copy() plugin.Plugin { return &Plugin{} }

// PostCreate attaches a fresh Extension and starts the first run from
// the packet that created the flow (mirrors
// BSTATSPlugin::post_create + initialize_new_burst).
func (p *Plugin) PostCreate(f plugin.Flow, pkt *capture.Packet) plugin.Flags {
	ext := &Extension{}
	p.record(ext, pkt, true)
	f.SetExtension(ext)
	return 0
}

// PostUpdate folds pkt into the flow's existing Extension (mirrors
// BSTATSPlugin::post_update + process_bursts/update_record).
func (p *Plugin) PostUpdate(f plugin.Flow, pkt *capture.Packet) plugin.Flags {
	raw, ok := f.Extension(plugin.TagBstats)
	if !ok {
		return 0
	}
	p.record(raw.(*Extension), pkt, pkt.SourceDir)
	return 0
}

// PreExport closes out any run still in progress so it is captured as
// a burst before the flow leaves the cache.
func (p *Plugin) PreExport(f plugin.Flow) {
	raw, ok := f.Extension(plugin.TagBstats)
	if !ok {
		return
	}
	ext := raw.(*Extension)
	for _, dir := range [2]int{dirSource, dirDest} {
		p.closeRun(ext, dir)
	}
}

// record folds pkt into ext's in-progress run for its direction,
// closing and recording the run as a burst whenever the inter-packet
// gap exceeds MaxInterPacketGap (mirrors
// BSTATSPlugin::belogsToLastRecord / process_bursts).
func (p *Plugin) record(ext *Extension, pkt *capture.Packet, sourceDir bool) {
	dir := dirSource
	if !sourceDir {
		dir = dirDest
	}

	if ext.runOpen[dir] && pkt.Timestamp.Sub(ext.runLast[dir]) > MaxInterPacketGap {
		p.closeRun(ext, dir)
	}

	if !ext.runOpen[dir] {
		ext.runOpen[dir] = true
		ext.runStart[dir] = pkt.Timestamp
		ext.runPackets[dir] = 0
		ext.runBytes[dir] = 0
	}
	ext.runPackets[dir]++
	ext.runBytes[dir] += uint32(pkt.IPLength)
	ext.runLast[dir] = pkt.Timestamp
}

// closeRun ends the in-progress run for dir, recording it as a burst
// if it met MinPacketsInBurst (mirrors isLastRecordBurst).
func (p *Plugin) closeRun(ext *Extension, dir int) {
	if !ext.runOpen[dir] {
		return
	}
	if ext.runPackets[dir] >= MinPacketsInBurst && ext.count[dir] < MaxElems {
		ext.bursts[dir][ext.count[dir]] = burst{
			packets: ext.runPackets[dir],
			bytes:   ext.runBytes[dir],
			start:   ext.runStart[dir],
			stop:    ext.runLast[dir],
		}
		ext.count[dir]++
	}
	ext.runOpen[dir] = false
}

var (
	_ plugin.Plugin      = (*Plugin)(nil)
	_ plugin.PostCreator = (*Plugin)(nil)
	_ plugin.PostUpdater = (*Plugin)(nil)
	_ plugin.PreExporter = (*Plugin)(nil)
	_ plugin.Copyable    = (*Plugin)(nil)
	_ plugin.Extension   = (*Extension)(nil)
)
