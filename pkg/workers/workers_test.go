package workers

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/cesnet/ipfixprobe-go/pkg/cache"
	"github.com/cesnet/ipfixprobe-go/pkg/capture"
	"github.com/cesnet/ipfixprobe-go/pkg/flow"
	"github.com/cesnet/ipfixprobe-go/pkg/ipfix"
	"github.com/cesnet/ipfixprobe-go/pkg/plugin"
	"github.com/cesnet/ipfixprobe-go/pkg/ring"
	"github.com/cesnet/ipfixprobe-go/pkg/shutdown"
)

func testPacket() *capture.Packet {
	return &capture.Packet{
		Timestamp: time.Now(),
		IPVersion: 4,
		IPProto:   6,
		SrcIP:     net.ParseIP("10.0.0.1"),
		DstIP:     net.ParseIP("10.0.0.2"),
		SrcPort:   1000,
		DstPort:   80,
		IPLength:  60,
	}
}

func TestStorageWorkerDrainsQueueThenExitsOnShutdown(t *testing.T) {
	in := ring.New[*capture.Packet](16)
	out := ring.New[*flow.Flow](16)
	c := cache.New(cache.Config{
		Size: 4, LineSize: 4, QueueCapacity: 2,
		ActiveTimeout: time.Hour, InactiveTimeout: time.Hour,
	}, plugin.NewRegistry(), out)

	in.Push(testPacket())
	in.Push(testPacket())

	h := shutdown.New()
	w := NewStorageWorker(context.Background(), in, c, h)

	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()

	h.StopStorage()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("StorageWorker.Run did not exit after StopStorage")
	}

	if s := w.Stats(); s != (cache.Stats{}) {
		t.Fatalf("expected Stats() to return the zero value once the worker has stopped, got %+v", s)
	}

	if out.Len() == 0 {
		t.Fatalf("expected at least one flow exported by cache shutdown")
	}
}

func TestExportWorkerDrainsQueueThenExitsOnShutdown(t *testing.T) {
	in := ring.New[*flow.Flow](16)
	in.Push(&flow.Flow{IPVersion: 4, SrcIP: net.ParseIP("10.0.0.1"), DstIP: net.ParseIP("10.0.0.2")})

	exp := ipfix.New(ipfix.Config{Host: "127.0.0.1", Port: "0", MTU: 1458, ReconnectTimeout: time.Millisecond})
	h := shutdown.New()
	w := NewExportWorker(context.Background(), in, exp, h, time.Hour)

	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()

	h.StopExport()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("ExportWorker.Run did not exit after StopExport")
	}

	if s := w.Stats(); s != (ipfix.Stats{}) {
		t.Fatalf("expected Stats() to return the zero value once the worker has stopped, got %+v", s)
	}
}

func TestCaptureWorkerStopsOnShutdownSignal(t *testing.T) {
	out := ring.New[*capture.Packet](16)
	c := capture.New(context.Background(), func() (capture.Source, error) {
		return &idleSource{}, nil
	}, out)

	h := shutdown.New()
	w := NewCaptureWorker(c, h)

	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()

	h.StopInput()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("CaptureWorker.Run did not exit after StopInput")
	}
}

// idleSource never yields a packet; like pcapSource's read-timeout loop
// (source.go's SetTimeout), it returns quickly and repeatedly so the
// capture loop gets back to its ctx.Done() check often.
type idleSource struct{}

var errIdle = errors.New("idle source: no packet available")

func (s *idleSource) NextPacket(pkt *capture.Packet) error {
	time.Sleep(time.Millisecond)
	return errIdle
}

func (s *idleSource) Stats() (capture.Stats, error) { return capture.Stats{}, nil }

func (s *idleSource) Close() error { return nil }
