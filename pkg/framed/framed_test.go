package framed

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/cesnet/ipfixprobe-go/pkg/flow"
	"github.com/cesnet/ipfixprobe-go/pkg/plugin"
	"github.com/cesnet/ipfixprobe-go/pkg/plugin/pstats"
)

func testFlow(t *testing.T, withPstats bool) *flow.Flow {
	t.Helper()
	f := &flow.Flow{
		IPVersion: 4,
		IPProto:   6,
		SrcPort:   1000,
		DstPort:   80,
		SrcIP:     net.ParseIP("10.0.0.1").To4(),
		DstIP:     net.ParseIP("10.0.0.2").To4(),
		FirstSeen: time.UnixMilli(1_700_000_000_000),
		LastSeen:  time.UnixMilli(1_700_000_001_000),
		Src:       flow.Counters{Packets: 3, Bytes: 180},
		Dst:       flow.Counters{Packets: 2, Bytes: 120},
	}
	if withPstats {
		ext := &pstats.Extension{}
		ext.Count = 1
		ext.Sizes[0] = 64
		f.SetExtension(ext)
	}
	return f
}

func TestBasicChannelNegotiatesOnce(t *testing.T) {
	var buf bytes.Buffer
	c := NewBasicChannel(&buf, 4)

	if err := c.Negotiate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	firstLen := buf.Len()
	if err := c.Negotiate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Len() != firstLen {
		t.Fatalf("expected second Negotiate to be a no-op, buffer grew from %d to %d", firstLen, buf.Len())
	}

	if buf.Bytes()[0] != 4 {
		t.Fatalf("expected IP version 4 in schema header")
	}
	fieldCount := buf.Bytes()[1]
	if fieldCount == 0 {
		t.Fatalf("expected a non-empty basic field list")
	}
}

func TestChannelWriteSendsLengthPrefixedRecord(t *testing.T) {
	var buf bytes.Buffer
	c := NewBasicChannel(&buf, 4)
	f := testFlow(t, false)

	if err := c.Write(f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data := buf.Bytes()
	schemaFieldCount := int(data[1])
	schemaLen := 2 + 10*schemaFieldCount
	record := data[schemaLen:]

	recLen := binary.BigEndian.Uint32(record[0:4])
	if int(recLen) != len(record)-4 {
		t.Fatalf("expected length prefix %d to match record body %d", recLen, len(record)-4)
	}
}

func TestChannelWriteRejectsMissingExtension(t *testing.T) {
	var buf bytes.Buffer
	c := NewChannel(&buf, 4, plugin.TagPstats)
	f := testFlow(t, false) // no pstats extension attached

	if err := c.Write(f); err != errMissingExtension {
		t.Fatalf("expected errMissingExtension, got %v", err)
	}
}

func TestChannelWriteIncludesExtensionPayload(t *testing.T) {
	var buf bytes.Buffer
	basicBuf := new(bytes.Buffer)
	basic := NewBasicChannel(basicBuf, 4)
	fBasic := testFlow(t, false)
	if err := basic.Write(fBasic); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := NewChannel(&buf, 4, plugin.TagPstats)
	f := testFlow(t, true)
	if err := c.Write(f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data := buf.Bytes()
	schemaFieldCount := int(data[1])
	schemaLen := 2 + 10*schemaFieldCount
	record := data[schemaLen+4:] // skip schema + record length prefix

	basicSchemaFieldCount := int(basicBuf.Bytes()[1])
	basicSchemaLen := 2 + 10*basicSchemaFieldCount
	basicRecordLen := len(basicBuf.Bytes()) - basicSchemaLen - 4

	if len(record) <= basicRecordLen {
		t.Fatalf("expected pstats record (%d bytes) to be longer than basic-only record (%d bytes)", len(record), basicRecordLen)
	}
}

func TestRouterDispatchesByExtensionTag(t *testing.T) {
	basicBuf := new(bytes.Buffer)
	pstatsBuf := new(bytes.Buffer)

	basic := NewBasicChannel(basicBuf, 4)
	r := NewRouter(basic)
	r.AddChannel(NewChannel(pstatsBuf, 4, plugin.TagPstats))

	if err := r.Write(testFlow(t, false)); err != nil {
		t.Fatalf("unexpected error routing basic flow: %v", err)
	}
	if err := r.Write(testFlow(t, true)); err != nil {
		t.Fatalf("unexpected error routing pstats flow: %v", err)
	}

	if basicBuf.Len() == 0 {
		t.Fatalf("expected basic channel to receive the extension-less flow")
	}
	if pstatsBuf.Len() == 0 {
		t.Fatalf("expected pstats channel to receive the flow carrying a pstats extension")
	}
}
