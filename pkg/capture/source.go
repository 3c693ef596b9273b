package capture

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// ErrCaptureStopped is returned by Source.NextPacket once the source has
// been closed.
var ErrCaptureStopped = errors.New("capture: source closed")

// Source abstracts over a live interface and an offline capture file, the
// two inputs the -I/-r command-line options select between. Both are
// backed by gopacket/pcap; only how the handle is opened differs.
type Source interface {
	// NextPacket blocks until a packet is available, decodes it into pkt
	// and returns. Returns ErrCaptureStopped once Close has been called.
	NextPacket(pkt *Packet) error
	Stats() (Stats, error)
	Close() error
}

// Stats mirrors the counters exposed by the underlying pcap handle.
type Stats struct {
	PacketsReceived uint64
	PacketsDropped  uint64
}

// Config bundles the parameters needed to open any Source.
type Config struct {
	SnapshotLength int
	Promiscuous    bool
	Filter         string
	PacketCount    int // 0 = unlimited
}

type pcapSource struct {
	handle  *pcap.Handle
	count   int
	limit   int
	closed  bool
	linkTyp layers.LinkType
}

// NewLiveSource opens a live capture on the given interface.
func NewLiveSource(iface string, cfg Config) (Source, error) {
	inactive, err := pcap.NewInactiveHandle(iface)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture handle for %s: %w", iface, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(clampSnaplen(cfg.SnapshotLength)); err != nil {
		return nil, err
	}
	if err := inactive.SetPromisc(cfg.Promiscuous); err != nil {
		return nil, err
	}
	if err := inactive.SetTimeout(1 * time.Second); err != nil {
		return nil, err
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("failed to activate capture on %s: %w", iface, err)
	}
	return newPcapSource(handle, cfg)
}

// NewFileSource replays packets from a capture file. path == "-" reads from
// standard input.
func NewFileSource(path string, cfg Config) (Source, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file %s: %w", path, err)
	}
	return newPcapSource(handle, cfg)
}

func newPcapSource(handle *pcap.Handle, cfg Config) (Source, error) {
	if cfg.Filter != "" {
		if err := handle.SetBPFFilter(cfg.Filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("failed to compile filter %q: %w", cfg.Filter, err)
		}
	}
	return &pcapSource{handle: handle, limit: cfg.PacketCount, linkTyp: handle.LinkType()}, nil
}

func clampSnaplen(n int) int {
	const lo, hi = 120, 65535
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func (s *pcapSource) NextPacket(pkt *Packet) error {
	if s.closed {
		return ErrCaptureStopped
	}
	if s.limit > 0 && s.count >= s.limit {
		return ErrCaptureStopped
	}

	data, ci, err := s.handle.ZeroCopyReadPacketData()
	if err != nil {
		if s.closed || errors.Is(err, pcap.NextErrorNoMorePackets) {
			return ErrCaptureStopped
		}
		return fmt.Errorf("capture error: %w", err)
	}
	s.count++

	if err := decode(data, ci, s.linkTyp, pkt); err != nil {
		return err
	}
	return nil
}

func (s *pcapSource) Stats() (Stats, error) {
	st, err := s.handle.Stats()
	if err != nil {
		return Stats{}, err
	}
	return Stats{PacketsReceived: uint64(st.PacketsReceived), PacketsDropped: uint64(st.PacketsDropped)}, nil
}

func (s *pcapSource) Close() error {
	s.closed = true
	s.handle.Close()
	return nil
}

// decode parses an L2-L4 frame into pkt. It intentionally decodes only as
// far as the packet data model requires; deep payload parsing is left to
// plugins.
func decode(data []byte, ci gopacket.CaptureInfo, linkTyp layers.LinkType, pkt *Packet) error {
	*pkt = Packet{Timestamp: ci.Timestamp, Raw: data}

	packet := gopacket.NewPacket(data, linkTyp, gopacket.DecodeOptions{
		Lazy:   true,
		NoCopy: true,
	})

	if eth, ok := packet.LinkLayer().(*layers.Ethernet); ok {
		pkt.DstMAC = eth.DstMAC
		pkt.SrcMAC = eth.SrcMAC
		pkt.EtherType = uint16(eth.EthernetType)
	}

	netLayer := packet.NetworkLayer()
	if netLayer == nil {
		return ErrNoIPLayer
	}

	switch ip := netLayer.(type) {
	case *layers.IPv4:
		pkt.IPVersion = 4
		pkt.IPProto = uint8(ip.Protocol)
		pkt.IPTTL = ip.TTL
		pkt.IPTOS = ip.TOS
		pkt.IPLength = ip.Length
		pkt.SrcIP = ip.SrcIP
		pkt.DstIP = ip.DstIP
	case *layers.IPv6:
		pkt.IPVersion = 6
		pkt.IPProto = uint8(ip.NextHeader)
		pkt.IPTTL = ip.HopLimit
		pkt.IPLength = ip.Length
		pkt.SrcIP = ip.SrcIP
		pkt.DstIP = ip.DstIP
	default:
		return ErrNoIPLayer
	}

	transport := packet.TransportLayer()
	switch t := transport.(type) {
	case *layers.TCP:
		pkt.SrcPort = uint16(t.SrcPort)
		pkt.DstPort = uint16(t.DstPort)
		pkt.TCPSeq = t.Seq
		pkt.TCPAck = t.Ack
		pkt.TCPFlags = tcpFlagsOf(t)
	case *layers.UDP:
		pkt.SrcPort = uint16(t.SrcPort)
		pkt.DstPort = uint16(t.DstPort)
	}

	if icmp, ok := packet.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4); ok {
		pkt.SrcPort = uint16(icmp.TypeCode.Type())
		pkt.DstPort = uint16(icmp.TypeCode.Code())
	}
	if icmp6, ok := packet.Layer(layers.LayerTypeICMPv6).(*layers.ICMPv6); ok {
		pkt.SrcPort = uint16(icmp6.TypeCode.Type())
		pkt.DstPort = uint16(icmp6.TypeCode.Code())
	}

	if app := packet.ApplicationLayer(); app != nil {
		payload := app.Payload()
		if len(payload) > 0 && len(data) >= len(payload) {
			pkt.PayloadOffset = len(data) - len(payload)
			pkt.PayloadLength = len(payload)
		}
	}

	return nil
}

func tcpFlagsOf(t *layers.TCP) uint8 {
	var f uint8
	if t.FIN {
		f |= TCPFlagFIN
	}
	if t.SYN {
		f |= TCPFlagSYN
	}
	if t.RST {
		f |= TCPFlagRST
	}
	if t.PSH {
		f |= TCPFlagPSH
	}
	if t.ACK {
		f |= TCPFlagACK
	}
	if t.URG {
		f |= TCPFlagURG
	}
	return f
}

// ErrNoIPLayer indicates a frame without a recognized IPv4/IPv6 layer.
var ErrNoIPLayer = fmt.Errorf("capture: no IPv4/IPv6 layer found")
