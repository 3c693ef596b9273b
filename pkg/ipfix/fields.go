package ipfix

import (
	"encoding/binary"

	"github.com/cesnet/ipfixprobe-go/pkg/flow"
	"github.com/cesnet/ipfixprobe-go/pkg/plugin"
)

// Enterprise numbers used by the field registry, grounded on
// original_source/ipfix-elements.h: 0 is IANA, 29305 is the RFC 5103
// "reverse information element" PEN the original uses for the
// destination-direction counterparts of byte/packet/TCP-flag fields,
// and 8057/16982 are CESNET's own registered numbers for
// protocol-plugin fields.
const (
	EnterpriseIANA    uint32 = 0
	EnterpriseReverse uint32 = 29305
	EnterpriseCESNET  uint32 = 8057
	EnterpriseCESNET2 uint32 = 16982
)

// Field identifies one IPFIX information element: enterprise number,
// element ID, and export length (-1 for variable-length).
type Field struct {
	EnterpriseNumber uint32
	ElementID        uint16
	Length           int32
}

type fieldSpec struct {
	Field
	encode func(buf []byte, f *flow.Flow) int
}

// basicFieldsV4/basicFieldsV6 are the IPv4/IPv6 variants of the
// basic-flow field list every template starts from, grounded on
// original_source/ipfix-elements.h's BYTES/PACKETS/
// FLOW_START_MSEC/FLOW_END_MSEC/L3_*/L4_* element definitions.
var basicFieldsV4 = []fieldSpec{
	{Field{EnterpriseIANA, 1, 8}, encodeSrcBytes},
	{Field{EnterpriseReverse, 1, 8}, encodeDstBytes},
	{Field{EnterpriseIANA, 2, 8}, encodeSrcPackets},
	{Field{EnterpriseReverse, 2, 8}, encodeDstPackets},
	{Field{EnterpriseIANA, 152, 8}, encodeFlowStartMsec},
	{Field{EnterpriseIANA, 153, 8}, encodeFlowEndMsec},
	{Field{EnterpriseIANA, 8, 4}, encodeSrcIPv4},
	{Field{EnterpriseIANA, 12, 4}, encodeDstIPv4},
	{Field{EnterpriseIANA, 4, 1}, encodeProto},
	{Field{EnterpriseIANA, 6, 1}, encodeSrcTCPFlags},
	{Field{EnterpriseReverse, 6, 1}, encodeDstTCPFlags},
	{Field{EnterpriseIANA, 7, 2}, encodeSrcPort},
	{Field{EnterpriseIANA, 11, 2}, encodeDstPort},
}

var basicFieldsV6 = []fieldSpec{
	{Field{EnterpriseIANA, 1, 8}, encodeSrcBytes},
	{Field{EnterpriseReverse, 1, 8}, encodeDstBytes},
	{Field{EnterpriseIANA, 2, 8}, encodeSrcPackets},
	{Field{EnterpriseReverse, 2, 8}, encodeDstPackets},
	{Field{EnterpriseIANA, 152, 8}, encodeFlowStartMsec},
	{Field{EnterpriseIANA, 153, 8}, encodeFlowEndMsec},
	{Field{EnterpriseIANA, 27, 16}, encodeSrcIPv6},
	{Field{EnterpriseIANA, 28, 16}, encodeDstIPv6},
	{Field{EnterpriseIANA, 4, 1}, encodeProto},
	{Field{EnterpriseIANA, 6, 1}, encodeSrcTCPFlags},
	{Field{EnterpriseReverse, 6, 1}, encodeDstTCPFlags},
	{Field{EnterpriseIANA, 7, 2}, encodeSrcPort},
	{Field{EnterpriseIANA, 11, 2}, encodeDstPort},
}

func basicFieldsFor(ipVersion uint8) []fieldSpec {
	if ipVersion == 6 {
		return basicFieldsV6
	}
	return basicFieldsV4
}

func encodeSrcBytes(buf []byte, f *flow.Flow) int {
	binary.BigEndian.PutUint64(buf, f.SourceCounters().Bytes)
	return 8
}

func encodeDstBytes(buf []byte, f *flow.Flow) int {
	binary.BigEndian.PutUint64(buf, f.DestCounters().Bytes)
	return 8
}

func encodeSrcPackets(buf []byte, f *flow.Flow) int {
	binary.BigEndian.PutUint64(buf, f.SourceCounters().Packets)
	return 8
}

func encodeDstPackets(buf []byte, f *flow.Flow) int {
	binary.BigEndian.PutUint64(buf, f.DestCounters().Packets)
	return 8
}

func encodeFlowStartMsec(buf []byte, f *flow.Flow) int {
	binary.BigEndian.PutUint64(buf, uint64(f.FirstSeen.UnixMilli()))
	return 8
}

func encodeFlowEndMsec(buf []byte, f *flow.Flow) int {
	binary.BigEndian.PutUint64(buf, uint64(f.LastSeen.UnixMilli()))
	return 8
}

func encodeSrcIPv4(buf []byte, f *flow.Flow) int {
	copy(buf, f.SrcIP.To4())
	return 4
}

func encodeDstIPv4(buf []byte, f *flow.Flow) int {
	copy(buf, f.DstIP.To4())
	return 4
}

func encodeSrcIPv6(buf []byte, f *flow.Flow) int {
	copy(buf, f.SrcIP.To16())
	return 16
}

func encodeDstIPv6(buf []byte, f *flow.Flow) int {
	copy(buf, f.DstIP.To16())
	return 16
}

func encodeProto(buf []byte, f *flow.Flow) int {
	buf[0] = f.IPProto
	return 1
}

func encodeSrcTCPFlags(buf []byte, f *flow.Flow) int {
	buf[0] = f.SourceCounters().TCPControl
	return 1
}

func encodeDstTCPFlags(buf []byte, f *flow.Flow) int {
	buf[0] = f.DestCounters().TCPControl
	return 1
}

func encodeSrcPort(buf []byte, f *flow.Flow) int {
	binary.BigEndian.PutUint16(buf, f.SrcPort)
	return 2
}

func encodeDstPort(buf []byte, f *flow.Flow) int {
	binary.BigEndian.PutUint16(buf, f.DstPort)
	return 2
}

// extensionFields is a static table keyed by extension tag: the
// single opaque variable-length field each shipped extension
// contributes to a template. Grounded on original_source/
// ipfix-elements.h's STATS_PCKT_* (element 291) for pstats and
// RecordExtBSTATS::eHdrFieldID's base ID 1050 under CESNET's
// enterprise number for bstats. A tag with no entry here contributes
// no fields: every reserved tag in pkg/plugin.Tag that isn't pstats or
// bstats falls into this case, since this repository ships no
// implementation for them.
var extensionFields = map[plugin.Tag][]Field{
	plugin.TagPstats: {{EnterpriseIANA, 291, -1}},
	plugin.TagBstats: {{EnterpriseCESNET, 1050, -1}},
}

// FieldsFor exports fieldsFor for pkg/framed, which mirrors the same
// (IP version, extension bitmask) schema rather than maintaining a
// second field registry.
func FieldsFor(ipVersion uint8, extMask uint64) []Field {
	return fieldsFor(ipVersion, extMask)
}

// EncodeBasicFields writes the IP-version-appropriate basic-flow
// fields for f into buf in fixed order, the same order a template's
// data record uses. Returns the number of bytes written, or false if
// buf is too small.
func EncodeBasicFields(buf []byte, f *flow.Flow) (int, bool) {
	off := 0
	for _, fs := range basicFieldsFor(f.IPVersion) {
		n := int(fs.Length)
		if off+n > len(buf) {
			return 0, false
		}
		off += fs.encode(buf[off:off+n], f)
	}
	return off, true
}

// AppendVarLen exports appendVarLen for pkg/framed, which frames its
// extension payloads with the same short/long length-prefix form.
func AppendVarLen(buf []byte, off int, data []byte) (int, bool) {
	return appendVarLen(buf, off, data)
}

// fieldsFor returns the full, ordered field list for a template keyed
// on (ipVersion, extMask): the basic-flow fields followed by each
// present extension's fields in tag order.
func fieldsFor(ipVersion uint8, extMask uint64) []Field {
	basics := basicFieldsFor(ipVersion)
	out := make([]Field, 0, len(basics)+4)
	for _, fs := range basics {
		out = append(out, fs.Field)
	}
	for tag := plugin.Tag(0); tag < 64; tag++ {
		if extMask&(1<<uint(tag)) == 0 {
			continue
		}
		out = append(out, extensionFields[tag]...)
	}
	return out
}
