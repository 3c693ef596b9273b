// Package capture decodes packets off a live interface or a capture file
// and hands them to the flow cache. It sits outside the cache/plugin/
// exporter core as an external collaborator, kept intentionally thin.
package capture

import (
	"net"
	"time"
)

// Packet is the decoded record passed from capture into the flow cache. It
// carries everything the cache and the plugin pipeline need and nothing
// more, mirroring the original's Packet struct (packet.h): timestamps, L2
// addressing, IP header fields, transport ports/flags, and a pointer into
// the raw frame delimiting the application payload.
type Packet struct {
	Timestamp time.Time

	DstMAC, SrcMAC net.HardwareAddr
	EtherType      uint16

	IPVersion uint8 // 4 or 6
	IPProto   uint8
	IPTTL     uint8
	IPTOS     uint8
	IPLength  uint16

	SrcIP, DstIP net.IP

	// For ICMP packets SrcPort carries the ICMP type and DstPort the
	// ICMP code.
	SrcPort, DstPort uint16

	TCPFlags uint8
	TCPSeq   uint32
	TCPAck   uint32

	// Raw is the entire captured frame (bounded by the configured
	// snapshot length).
	Raw []byte

	// PayloadOffset/PayloadLength delimit the application-layer payload
	// within Raw. A plugin that needs the payload slices Raw directly;
	// nothing is copied ahead of time.
	PayloadOffset int
	PayloadLength int

	// SourceDir is assigned by the cache, never by capture: one boolean
	// marks whether the packet travels in the flow's "source direction".
	SourceDir bool
}

// Payload returns the application-layer payload slice of the packet.
func (p *Packet) Payload() []byte {
	if p.PayloadOffset < 0 || p.PayloadOffset+p.PayloadLength > len(p.Raw) {
		return nil
	}
	return p.Raw[p.PayloadOffset : p.PayloadOffset+p.PayloadLength]
}

// TCP control bit masks, matching the wire layout used throughout (and by
// original_source/nhtflowcache.cpp's SYN/FIN/RST checks).
const (
	TCPFlagFIN = 0x01
	TCPFlagSYN = 0x02
	TCPFlagRST = 0x04
	TCPFlagPSH = 0x08
	TCPFlagACK = 0x10
	TCPFlagURG = 0x20
)
