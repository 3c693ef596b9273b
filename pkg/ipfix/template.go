package ipfix

import (
	"encoding/binary"
	"time"
)

// Wire constants, grounded on original_source/ipfixexporter.h.
const (
	firstTemplateID = 258
	templateSetID   = 2
	ipfixVersion    = 10
	ipfixHeaderSize = 16
	setHeaderSize   = 4
)

// enterpriseBit marks an element ID as carrying a following 4-byte
// enterprise number in a template record (RFC 7011 §3.2).
const enterpriseBit = 0x8000

// templateKey identifies a template by its (IP version, extension
// bitmask) pair.
type templateKey struct {
	ipVersion uint8
	extMask   uint64
}

// Template is a synthesized IPFIX template: its wire-encoded template
// record, a data-set staging buffer, and UDP refresh bookkeeping, a
// direct port of original_source/ipfixexporter.h's template_t.
type Template struct {
	id     uint16
	fields []Field
	record []byte // encoded template record (id, field count, fields)

	buf    []byte // data-set staging buffer, capacity mtu-ipfixHeaderSize
	bufLen int

	recordCount uint16

	exported         bool
	lastExportTime   time.Time
	lastExportPacket uint64
}

func newTemplate(id uint16, ipVersion uint8, extMask uint64, bufCap int) *Template {
	fields := fieldsFor(ipVersion, extMask)
	t := &Template{
		id:     id,
		fields: fields,
		buf:    make([]byte, setHeaderSize, bufCap),
	}
	t.record = encodeTemplateRecord(id, fields)
	binary.BigEndian.PutUint16(t.buf[0:], dataSetID(id))
	binary.BigEndian.PutUint16(t.buf[2:], setHeaderSize)
	t.bufLen = setHeaderSize
	return t
}

// dataSetID maps a template ID to the data-set ID records carrying
// that template's shape are sent under. The original reuses the
// template ID itself as the data set ID once >= 256 (template IDs
// start at 258), which this mirrors directly.
func dataSetID(templateID uint16) uint16 { return templateID }

// encodeTemplateRecord lays out a template record: template ID, field
// count, then each field (element ID with the enterprise bit set when
// non-IANA, length, and a following 4-byte enterprise number when
// set), per RFC 7011 §3.4.1.
func encodeTemplateRecord(id uint16, fields []Field) []byte {
	buf := make([]byte, 4+8*len(fields))
	binary.BigEndian.PutUint16(buf[0:], id)
	binary.BigEndian.PutUint16(buf[2:], uint16(len(fields)))
	off := 4
	for _, f := range fields {
		elementID := f.ElementID
		length := uint16(f.Length)
		if f.Length < 0 {
			length = 0xFFFF
		}
		if f.EnterpriseNumber != EnterpriseIANA {
			elementID |= enterpriseBit
		}
		binary.BigEndian.PutUint16(buf[off:], elementID)
		binary.BigEndian.PutUint16(buf[off+2:], length)
		off += 4
		if f.EnterpriseNumber != EnterpriseIANA {
			binary.BigEndian.PutUint32(buf[off:], f.EnterpriseNumber)
			off += 4
		}
	}
	return buf[:off]
}

// reset zeros the data-set buffer back to just its set header.
func (t *Template) reset() {
	t.buf = t.buf[:setHeaderSize]
	binary.BigEndian.PutUint16(t.buf[0:], dataSetID(t.id))
	binary.BigEndian.PutUint16(t.buf[2:], setHeaderSize)
	t.bufLen = setHeaderSize
	t.recordCount = 0
}

// appendRecord appends an encoded data record to the template's
// staging buffer if it fits within cap(t.buf); returns false on
// overflow without mutating the buffer.
func (t *Template) appendRecord(rec []byte) bool {
	if t.bufLen+len(rec) > cap(t.buf) {
		return false
	}
	t.buf = t.buf[:t.bufLen+len(rec)]
	copy(t.buf[t.bufLen:], rec)
	t.bufLen += len(rec)
	t.recordCount++
	binary.BigEndian.PutUint16(t.buf[2:], uint16(t.bufLen))
	return true
}

// needsRefresh reports whether a UDP template should be retransmitted
// because it has aged past refreshTime or had refreshPackets export
// events since its last transmission.
func (t *Template) needsRefresh(now time.Time, packetsSoFar uint64, refreshTime time.Duration, refreshPackets uint64) bool {
	if !t.exported {
		return true
	}
	if refreshTime > 0 && now.Sub(t.lastExportTime) >= refreshTime {
		return true
	}
	if refreshPackets > 0 && packetsSoFar-t.lastExportPacket >= refreshPackets {
		return true
	}
	return false
}
