package cache

import (
	"net"
	"testing"
	"time"

	"github.com/cesnet/ipfixprobe-go/pkg/capture"
	"github.com/cesnet/ipfixprobe-go/pkg/flow"
	"github.com/cesnet/ipfixprobe-go/pkg/plugin"
	"github.com/cesnet/ipfixprobe-go/pkg/ring"
)

func newTestCache(t *testing.T) (*Cache, *ring.Ring[*flow.Flow]) {
	t.Helper()
	exp := ring.New[*flow.Flow](64)
	reg := plugin.NewRegistry()
	c := New(Config{
		Size:            16,
		LineSize:        4,
		QueueCapacity:   8,
		ActiveTimeout:   300 * time.Second,
		InactiveTimeout: 30 * time.Second,
	}, reg, exp)
	return c, exp
}

func tcpPacket(src, dst string, srcPort, dstPort uint16, flags uint8, t0 time.Time) *capture.Packet {
	return &capture.Packet{
		Timestamp: t0,
		IPVersion: 4,
		IPProto:   flowkeyTCP,
		IPLength:  100,
		SrcIP:     net.ParseIP(src).To4(),
		DstIP:     net.ParseIP(dst).To4(),
		SrcPort:   srcPort,
		DstPort:   dstPort,
		TCPFlags:  flags,
	}
}

const flowkeyTCP = 0x06

func TestPutCreatesFlowOnMiss(t *testing.T) {
	c, exp := newTestCache(t)
	t0 := time.Now()

	c.Put(tcpPacket("10.0.0.1", "10.0.0.2", 1000, 80, capture.TCPFlagSYN, t0))

	if exp.Len() != 0 {
		t.Fatalf("expected no export on first packet, got %d", exp.Len())
	}
	if c.Stats().Empty != 1 {
		t.Fatalf("expected one empty-slot claim, got %+v", c.Stats())
	}
}

func TestPutMatchesReverseDirection(t *testing.T) {
	c, _ := newTestCache(t)
	t0 := time.Now()

	c.Put(tcpPacket("10.0.0.1", "10.0.0.2", 1000, 80, capture.TCPFlagSYN, t0))
	reply := tcpPacket("10.0.0.2", "10.0.0.1", 80, 1000, capture.TCPFlagSYN|capture.TCPFlagACK, t0.Add(time.Millisecond))
	c.Put(reply)

	if reply.SourceDir {
		t.Fatalf("reply should be recognized as destination-direction, got SourceDir=%v", reply.SourceDir)
	}
	if c.Stats().Hits != 1 {
		t.Fatalf("expected a hit on the reverse packet, got %+v", c.Stats())
	}
}

func TestSynOnExistingFinReopensFlow(t *testing.T) {
	c, exp := newTestCache(t)
	t0 := time.Now()

	c.Put(tcpPacket("10.0.0.1", "10.0.0.2", 1000, 80, capture.TCPFlagSYN, t0))
	c.Put(tcpPacket("10.0.0.1", "10.0.0.2", 1000, 80, capture.TCPFlagFIN, t0.Add(time.Second)))

	// A new SYN for the same 5-tuple should close out the FIN'd flow and
	// start a fresh one.
	c.Put(tcpPacket("10.0.0.1", "10.0.0.2", 1000, 80, capture.TCPFlagSYN, t0.Add(2*time.Second)))

	if exp.Len() != 1 {
		t.Fatalf("expected the FIN'd flow to be exported, got %d pending", exp.Len())
	}
	f, ok := exp.Pop()
	if !ok || f.EndReason != flow.EndReasonEOF {
		t.Fatalf("expected EndReasonEOF, got %+v ok=%v", f, ok)
	}
}

func TestInactiveTimeoutClosesFlowOnNextPacket(t *testing.T) {
	c, exp := newTestCache(t)
	t0 := time.Now()

	c.Put(tcpPacket("10.0.0.1", "10.0.0.2", 1000, 80, capture.TCPFlagSYN, t0))
	c.Put(tcpPacket("10.0.0.1", "10.0.0.2", 1000, 80, capture.TCPFlagACK, t0.Add(time.Minute)))

	if exp.Len() != 1 {
		t.Fatalf("expected the stale flow to be expired and exported, got %d", exp.Len())
	}
	f, ok := exp.Pop()
	if !ok || f.EndReason != flow.EndReasonInactive {
		t.Fatalf("expected EndReasonInactive, got %+v", f)
	}
}

func TestShutdownForceExportsAllFlows(t *testing.T) {
	c, exp := newTestCache(t)
	t0 := time.Now()

	c.Put(tcpPacket("10.0.0.1", "10.0.0.2", 1000, 80, capture.TCPFlagSYN, t0))
	c.Put(tcpPacket("10.0.0.3", "10.0.0.4", 2000, 443, capture.TCPFlagSYN, t0))

	c.Shutdown()

	if exp.Len() != 2 {
		t.Fatalf("expected both flows force-exported, got %d", exp.Len())
	}
	for i := 0; i < 2; i++ {
		f, ok := exp.Pop()
		if !ok || f.EndReason != flow.EndReasonForced {
			t.Fatalf("expected EndReasonForced, got %+v", f)
		}
	}
}
