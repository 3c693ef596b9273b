package pstats

import (
	"net"
	"testing"
	"time"

	"github.com/cesnet/ipfixprobe-go/pkg/capture"
	"github.com/cesnet/ipfixprobe-go/pkg/flow"
	"github.com/cesnet/ipfixprobe-go/pkg/plugin"
)

func testPacket(size int, sourceDir bool, t0 time.Time) *capture.Packet {
	return &capture.Packet{
		Timestamp:     t0,
		SrcIP:         net.ParseIP("10.0.0.1"),
		DstIP:         net.ParseIP("10.0.0.2"),
		IPLength:      uint16(size),
		PayloadLength: size,
		SourceDir:     sourceDir,
	}
}

func TestPostCreateRecordsFirstPacket(t *testing.T) {
	p := New(Options{})
	f := &flow.Flow{}
	t0 := time.Now()

	p.PostCreate(f, testPacket(100, true, t0))

	raw, ok := f.Extension(plugin.TagPstats)
	if !ok {
		t.Fatalf("expected extension to be attached")
	}
	ext := raw.(*Extension)
	if ext.Count != 1 || ext.Sizes[0] != 100 || ext.Dirs[0] != 1 {
		t.Fatalf("unexpected extension state: %+v", ext)
	}
}

func TestRecordAccumulatesAcrossUpdates(t *testing.T) {
	p := New(Options{})
	ext := &Extension{}
	t0 := time.Now()

	p.record(ext, testPacket(100, true, t0), true)
	p.record(ext, testPacket(200, false, t0.Add(time.Millisecond)), false)

	if ext.Count != 2 {
		t.Fatalf("expected 2 recorded packets, got %d", ext.Count)
	}
	if ext.Dirs[0] != 1 || ext.Dirs[1] != -1 {
		t.Fatalf("unexpected directions: %+v", ext.Dirs)
	}
	if ext.Sizes[0] != 100 || ext.Sizes[1] != 200 {
		t.Fatalf("unexpected sizes: %+v", ext.Sizes)
	}
}

func TestRecordSkipsZeroPayloadByDefault(t *testing.T) {
	p := New(Options{})
	ext := &Extension{}
	t0 := time.Now()
	zero := testPacket(0, true, t0)
	zero.PayloadLength = 0

	p.record(ext, zero, true)

	if ext.Count != 0 {
		t.Fatalf("expected zero-payload packet to be skipped, got count %d", ext.Count)
	}
}

func TestRecordIncludesZeroPayloadWhenConfigured(t *testing.T) {
	p := New(Options{IncludeZeros: true})
	ext := &Extension{}
	t0 := time.Now()
	zero := testPacket(0, true, t0)
	zero.PayloadLength = 0

	p.record(ext, zero, true)

	if ext.Count != 1 {
		t.Fatalf("expected zero-payload packet to be included, got count %d", ext.Count)
	}
}

func TestRecordStopsAtMaxElems(t *testing.T) {
	p := New(Options{})
	ext := &Extension{}
	t0 := time.Now()

	for i := 0; i < MaxElems+5; i++ {
		pkt := testPacket(60+i, true, t0.Add(time.Duration(i)*time.Millisecond))
		pkt.TCPSeq = uint32(i) // vary seq so duplicate suppression never kicks in
		p.record(ext, pkt, true)
	}

	if ext.Count != MaxElems {
		t.Fatalf("expected count capped at %d, got %d", MaxElems, ext.Count)
	}
}

func TestFillIPFIXRoundTripsCount(t *testing.T) {
	ext := &Extension{Count: 2}
	ext.Sizes[0], ext.Sizes[1] = 64, 128
	ext.Dirs[0], ext.Dirs[1] = 1, -1

	buf := make([]byte, 64)
	n := ext.FillIPFIX(buf)
	if n <= 0 {
		t.Fatalf("expected positive length, got %d", n)
	}
	if buf[0] != 2 {
		t.Fatalf("expected count byte 2, got %d", buf[0])
	}
}

func TestFillIPFIXReportsTooSmallBuffer(t *testing.T) {
	ext := &Extension{Count: 1}
	if n := ext.FillIPFIX(make([]byte, 1)); n != -1 {
		t.Fatalf("expected -1 for undersized buffer, got %d", n)
	}
}
