// Package cache implements the line-associative flow cache that sits at
// the heart of the pipeline: a fixed-size hash table with
// MRU promotion within a line, LRU eviction with mid-line reinsertion,
// and a rolling sweep that amortizes inactive-timeout checks across
// packets.
//
// The algorithm is carried over from the original's NHTFlowCache
// (nhtflowcache.cpp) essentially unchanged; only the plugin dispatch and
// queue types are idiomatic Go.
package cache

import (
	"time"

	"github.com/cesnet/ipfixprobe-go/pkg/capture"
	"github.com/cesnet/ipfixprobe-go/pkg/flow"
	"github.com/cesnet/ipfixprobe-go/pkg/flowkey"
	"github.com/cesnet/ipfixprobe-go/pkg/plugin"
	"github.com/cesnet/ipfixprobe-go/pkg/ring"
)

// Config configures a Cache. Size and LineSize must be powers of two
// with Size >= LineSize.
type Config struct {
	Size            int
	LineSize        int
	QueueCapacity   int // Q: number of shadow slots reserved past Size
	ActiveTimeout   time.Duration
	InactiveTimeout time.Duration
}

// Stats accumulates cache-wide counters, served by the API's
// /cache/stats endpoint. Always collected; the original gates this behind a
// FLOW_CACHE_STATS build-time macro, which Go's single-binary model has
// no equivalent of.
type Stats struct {
	Hits      uint64
	Empty     uint64
	NotEmpty  uint64
	Expired   uint64
	Flushed   uint64
	Lookups   uint64
	Lookups2  uint64
	ExportPkt uint64
}

// Cache is the line-associative flow cache. It is not safe for
// concurrent use; each storage worker owns its own Cache and its own
// copy of the plugin registry.
type Cache struct {
	cfg Config

	lineMask     uint32
	lineNewIndex uint32 // L/2

	records []slot  // backing store, len == Size+QueueCapacity, addresses never move
	slots   []*slot // reordered view into records, len == Size+QueueCapacity
	qIndex  int

	timeoutIdx uint32

	registry *plugin.Registry
	export   *ring.Ring[*flow.Flow]

	stats Stats
}

// New builds a Cache of the given configuration, draining evicted flows
// into export.
func New(cfg Config, registry *plugin.Registry, export *ring.Ring[*flow.Flow]) *Cache {
	total := cfg.Size + cfg.QueueCapacity
	c := &Cache{
		cfg:          cfg,
		lineMask:     uint32(cfg.Size-1) &^ uint32(cfg.LineSize-1),
		lineNewIndex: uint32(cfg.LineSize / 2),
		records:      make([]slot, total),
		slots:        make([]*slot, total),
		registry:     registry,
		export:       export,
	}
	for i := range c.records {
		c.slots[i] = &c.records[i]
	}
	return c
}

// Stats returns a snapshot of the cache's running counters.
func (c *Cache) Stats() Stats { return c.stats }

// Put feeds one packet into the cache, implementing the lookup/MRU/LRU/
// eviction/reinsert algorithm in full. It never blocks and returns
// nothing; a packet whose IP version is neither 4 nor 6 is dropped
// without being counted.
func (c *Cache) Put(pkt *capture.Packet) {
	preFlags := c.registry.PreCreate(pkt)
	if preFlags.Has(plugin.ExportPacketFlag) {
		c.exportStandalone(pkt)
		return
	}

	fwdKey, revKey, ok := buildKeys(pkt)
	if !ok {
		return
	}

	hashval := flowkey.Hash(fwdKey)
	lineIndex := uint32(hashval) & c.lineMask
	nextLine := lineIndex + uint32(c.cfg.LineSize)

	found := false
	sourceFlow := true
	var flowIndex uint32

	for flowIndex = lineIndex; flowIndex < nextLine; flowIndex++ {
		if c.slots[flowIndex].belongs(hashval) {
			found = true
			break
		}
	}

	if !found {
		hashInv := flowkey.Hash(revKey)
		lineIndexInv := uint32(hashInv) & c.lineMask
		nextLineInv := lineIndexInv + uint32(c.cfg.LineSize)
		for flowIndex = lineIndexInv; flowIndex < nextLineInv; flowIndex++ {
			if c.slots[flowIndex].belongs(hashInv) {
				found = true
				sourceFlow = false
				hashval = hashInv
				lineIndex = lineIndexInv
				break
			}
		}
	}

	if found {
		c.stats.Lookups += uint64(flowIndex - lineIndex + 1)
		c.stats.Lookups2 += uint64(flowIndex-lineIndex+1) * uint64(flowIndex-lineIndex+1)

		s := c.slots[flowIndex]
		for j := flowIndex; j > lineIndex; j-- {
			c.slots[j] = c.slots[j-1]
		}
		c.slots[lineIndex] = s
		flowIndex = lineIndex
		c.stats.Hits++
	} else {
		for flowIndex = lineIndex; flowIndex < nextLine; flowIndex++ {
			if c.slots[flowIndex].isEmpty() {
				found = true
				break
			}
		}
		if !found {
			flowIndex = nextLine - 1

			c.registry.PreExport(c.slots[flowIndex].flowView())
			c.slots[flowIndex].f.EndReason = flow.EndReasonNoRes
			c.exportSlot(int(flowIndex))
			c.stats.Expired++

			newIndex := lineIndex + c.lineNewIndex
			s := c.slots[flowIndex]
			for j := flowIndex; j > newIndex; j-- {
				c.slots[j] = c.slots[j-1]
			}
			c.slots[newIndex] = s
			flowIndex = newIndex
			c.stats.NotEmpty++
		} else {
			c.stats.Empty++
		}
	}

	pkt.SourceDir = sourceFlow
	s := c.slots[flowIndex]

	flowFlags := s.f.Dst.TCPControl
	if sourceFlow {
		flowFlags = s.f.Src.TCPControl
	}
	if pkt.TCPFlags&capture.TCPFlagSYN != 0 && flowFlags&(capture.TCPFlagFIN|capture.TCPFlagRST) != 0 {
		// Flows with FIN or RST already set are closed when a new SYN
		// arrives for the same 5-tuple; the packet starts a fresh flow.
		s.f.EndReason = flow.EndReasonEOF
		c.exportSlot(int(flowIndex))
		c.Put(pkt)
		return
	}

	if s.isEmpty() {
		s.hash = hashval
		s.f.Populate(pkt)
		ret := c.registry.PostCreate(s.flowView(), pkt)
		if ret.Has(plugin.FlushFlag) {
			c.exportSlot(int(flowIndex))
			c.stats.Flushed++
		}
	} else {
		if pkt.Timestamp.Sub(s.f.LastSeen) >= c.cfg.InactiveTimeout {
			s.f.EndReason = flow.EndReasonInactive
			c.registry.PreExport(s.flowView())
			c.exportSlot(int(flowIndex))
			c.stats.Expired++
			c.Put(pkt)
			return
		}

		ret := c.registry.PreUpdate(s.flowView(), pkt)
		if ret.Has(plugin.FlushFlag) {
			c.flush(pkt, int(flowIndex), ret, sourceFlow)
			return
		}

		s.f.Update(pkt, sourceFlow)
		ret = c.registry.PostUpdate(s.flowView(), pkt)
		if ret.Has(plugin.FlushFlag) {
			c.flush(pkt, int(flowIndex), ret, sourceFlow)
			return
		}

		if pkt.Timestamp.Sub(s.f.FirstSeen) >= c.cfg.ActiveTimeout {
			s.f.EndReason = flow.EndReasonActive
			c.registry.PreExport(s.flowView())
			c.exportSlot(int(flowIndex))
			c.stats.Expired++
		}
	}

	c.sweep(pkt.Timestamp)
}

// flush implements the original's flush(): FLOW_FLUSH exports and
// empties the slot; FLOW_FLUSH_WITH_REINSERT exports a copy of the
// current flow, then reinitializes the slot in place from the same
// packet and reruns post_create, recursing if that too asks to flush.
func (c *Cache) flush(pkt *capture.Packet, flowIndex int, ret plugin.Flags, sourceFlow bool) {
	c.stats.Flushed++

	if ret == plugin.FlushWithReinsertFlag {
		s := c.slots[flowIndex]
		shadow := c.slots[c.cfg.Size+c.qIndex]
		shadow.f = s.f
		shadow.f.EndReason = flow.EndReasonForced
		c.export.Push(&shadow.f)
		c.qIndex = (c.qIndex + 1) % c.cfg.QueueCapacity

		s.f.SoftReset()
		s.f.Update(pkt, sourceFlow)
		ret2 := c.registry.PostCreate(s.flowView(), pkt)
		if ret2.Has(plugin.FlushFlag) {
			c.flush(pkt, flowIndex, ret2, sourceFlow)
		}
		return
	}

	c.slots[flowIndex].f.EndReason = flow.EndReasonForced
	c.exportSlot(flowIndex)
}

// sweep advances the rolling timeout index by L/2 slots, expiring any
// inactive flow it passes over.
func (c *Cache) sweep(now time.Time) {
	end := c.timeoutIdx + c.lineNewIndex
	for i := c.timeoutIdx; i < end; i++ {
		s := c.slots[i]
		if !s.isEmpty() && now.Sub(s.f.LastSeen) >= c.cfg.InactiveTimeout {
			s.f.EndReason = flow.EndReasonInactive
			c.registry.PreExport(s.flowView())
			c.exportSlot(int(i))
			c.stats.Expired++
		}
	}
	c.timeoutIdx = (c.timeoutIdx + c.lineNewIndex) & uint32(c.cfg.Size-1)
}

// Shutdown force-exports every non-empty slot.
func (c *Cache) Shutdown() {
	for i := 0; i < c.cfg.Size; i++ {
		s := c.slots[i]
		if !s.isEmpty() {
			c.registry.PreExport(s.flowView())
			s.f.EndReason = flow.EndReasonForced
			c.exportSlot(i)
			c.stats.Expired++
		}
	}
	c.registry.Finish()
}

// exportSlot hands ownership of slots[index]'s flow to the export ring,
// then recycles the slot from the shadow region so the backing array
// never reallocates.
func (c *Cache) exportSlot(index int) {
	c.export.Push(&c.slots[index].f)
	shadowIndex := c.cfg.Size + c.qIndex
	c.slots[index], c.slots[shadowIndex] = c.slots[shadowIndex], c.slots[index]
	c.slots[index].erase()
	c.qIndex = (c.qIndex + 1) % c.cfg.QueueCapacity
}

// exportStandalone handles a PreCreate EXPORT_PACKET result: the
// triggering packet is exported as its own single-packet flow without
// ever touching the slot array or creating a cached flow.
func (c *Cache) exportStandalone(pkt *capture.Packet) {
	f := &flow.Flow{EndReason: flow.EndReasonPacket}
	f.Populate(pkt)
	c.export.Push(f)
	c.stats.ExportPkt++
}

func buildKeys(pkt *capture.Packet) (fwd, rev []byte, ok bool) {
	switch pkt.IPVersion {
	case 4:
		var src, dst [4]byte
		copy(src[:], pkt.SrcIP.To4())
		copy(dst[:], pkt.DstIP.To4())
		f, r := flowkey.BuildV4(pkt.IPProto, src, dst, pkt.SrcPort, pkt.DstPort)
		return f[:], r[:], true
	case 6:
		var src, dst [16]byte
		copy(src[:], pkt.SrcIP.To16())
		copy(dst[:], pkt.DstIP.To16())
		f, r := flowkey.BuildV6(pkt.IPProto, src, dst, pkt.SrcPort, pkt.DstPort)
		return f[:], r[:], true
	default:
		return nil, nil, false
	}
}
