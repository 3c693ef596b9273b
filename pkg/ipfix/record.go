package ipfix

import (
	"encoding/binary"

	"github.com/cesnet/ipfixprobe-go/pkg/flow"
)

// maxExtensionScratch bounds a single extension's serialized size; it
// comfortably covers pstats' 30-packet trace (1+30*12 = 361 bytes) and
// bstats' 15-burst-per-direction record (2+15*2*24 = 722 bytes).
const maxExtensionScratch = 2048

// maxRecordSize bounds one encoded data record: the basic fields plus
// every extension's variable-length contribution with its length
// prefix.
const maxRecordSize = 256 + 8*maxExtensionScratch

// encodeRecord serializes one flow's data record: the IP-version
// appropriate basic fields in fixed order, then each extension's
// payload length-prefixed per the IPFIX variable-length short/long
// form. Returns the number of bytes written, or false if the record
// doesn't fit in buf.
func encodeRecord(buf []byte, f *flow.Flow) (int, bool) {
	off := 0
	for _, fs := range basicFieldsFor(f.IPVersion) {
		n := int(fs.Length)
		if off+n > len(buf) {
			return 0, false
		}
		written := fs.encode(buf[off:off+n], f)
		off += written
	}

	var scratch [maxExtensionScratch]byte
	for _, ext := range f.Extensions() {
		n := ext.FillIPFIX(scratch[:])
		if n < 0 {
			return 0, false
		}
		var ok bool
		off, ok = appendVarLen(buf, off, scratch[:n])
		if !ok {
			return 0, false
		}
	}
	return off, true
}

// appendVarLen writes data into buf at off using the IPFIX
// variable-length short/long form: a 1-byte length prefix for lengths
// < 255, or a 0xFF marker followed by a 2-byte length for longer
// payloads.
func appendVarLen(buf []byte, off int, data []byte) (int, bool) {
	n := len(data)
	if n < 255 {
		if off+1+n > len(buf) {
			return off, false
		}
		buf[off] = uint8(n)
		copy(buf[off+1:], data)
		return off + 1 + n, true
	}
	if off+3+n > len(buf) {
		return off, false
	}
	buf[off] = 0xFF
	binary.BigEndian.PutUint16(buf[off+1:], uint16(n))
	copy(buf[off+3:], data)
	return off + 3 + n, true
}
