// Package flowkey builds the canonical and reverse flow keys the cache uses
// to look up and bucket flows, and hashes them with a fast non-cryptographic
// hash function.
//
// Layout mirrors the original NewHashTable cache's flow_key_v4_t /
// flow_key_v6_t structs: proto, ip_version, src_port, dst_port, then the
// addresses. Keys are fixed-size byte arrays so they can be hashed without
// allocating.
package flowkey

import (
	"github.com/zeebo/xxh3"
)

// Protocol numbers relevant to key construction and direction handling.
const (
	ProtoICMP   = 0x01
	ProtoTCP    = 0x06
	ProtoUDP    = 0x11
	ProtoICMPv6 = 0x3a
)

// MaxKeyLength is the length of the longest possible key (IPv6). Preserved
// from the original C++ program's MAX_KEY_LENGTH even though nothing else
// in the cache depends on the exact number; plugins never participate in
// key construction.
const MaxKeyLength = 38

const (
	v4Len = 14
	v6Len = 38
)

// KeyV4 is the 14-byte key for an IPv4 flow:
// proto(1) ip_version(1) src_port(2) dst_port(2) src_ip(4) dst_ip(4).
type KeyV4 [v4Len]byte

// KeyV6 is the 38-byte key for an IPv6 flow:
// proto(1) ip_version(1) src_port(2) dst_port(2) src_ip(16) dst_ip(16).
type KeyV6 [v6Len]byte

// BuildV4 constructs the forward and reverse keys for an IPv4 5-tuple.
func BuildV4(proto byte, srcIP, dstIP [4]byte, srcPort, dstPort uint16) (fwd, rev KeyV4) {
	fwd[0], fwd[1] = proto, 4
	putU16(fwd[2:4], srcPort)
	putU16(fwd[4:6], dstPort)
	copy(fwd[6:10], srcIP[:])
	copy(fwd[10:14], dstIP[:])

	rev[0], rev[1] = proto, 4
	putU16(rev[2:4], dstPort)
	putU16(rev[4:6], srcPort)
	copy(rev[6:10], dstIP[:])
	copy(rev[10:14], srcIP[:])
	return
}

// BuildV6 constructs the forward and reverse keys for an IPv6 5-tuple.
func BuildV6(proto byte, srcIP, dstIP [16]byte, srcPort, dstPort uint16) (fwd, rev KeyV6) {
	fwd[0], fwd[1] = proto, 6
	putU16(fwd[2:4], srcPort)
	putU16(fwd[4:6], dstPort)
	copy(fwd[6:22], srcIP[:])
	copy(fwd[22:38], dstIP[:])

	rev[0], rev[1] = proto, 6
	putU16(rev[2:4], dstPort)
	putU16(rev[4:6], srcPort)
	copy(rev[6:22], dstIP[:])
	copy(rev[22:38], srcIP[:])
	return
}

func putU16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

// Hash returns the 64-bit hash of a key. The value 0 is reserved by the
// cache to mean "empty slot", so the vanishingly unlikely case of a zero
// digest is folded to 1 rather than risking a legitimate flow being mistaken
// for an empty one.
func Hash(key []byte) uint64 {
	h := xxh3.Hash(key)
	if h == 0 {
		return 1
	}
	return h
}
