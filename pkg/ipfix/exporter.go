// Package ipfix implements a template-managed, set-packing IPFIX
// exporter: template synthesis keyed by (IP version, extension
// bitmask), MTU-bounded data-set packing, UDP periodic
// template refresh or TCP send-once-per-connection, reconnection with
// errno classification, and a flows-per-second rate limiter.
//
// Grounded on original_source/ipfixexporter.h/.cpp: the same template
// bookkeeping (template_t, sequential IDs from 258, refresh timers)
// and message assembly, translated from the original's raw socket
// send loop to net.Conn.
package ipfix

import (
	"encoding/binary"
	"errors"
	"net"
	"time"

	"github.com/cesnet/ipfixprobe-go/pkg/flow"
)

var (
	errRecordTooLarge = errors.New("ipfix: flow record does not fit even after a flush")
	errReconnecting   = errors.New("ipfix: waiting out reconnect_timeout before retrying the collector")
)

// Config configures an Exporter, mirroring original_source/
// ipfixexporter.h's init() parameters and the exporter-related CLI
// flags.
type Config struct {
	Host string
	Port string
	UDP  bool

	MTU                    int
	ODID                   uint32
	FPS                    int
	TemplateRefreshTime    time.Duration
	TemplateRefreshPackets uint64
	ReconnectTimeout       time.Duration
	DirBitField            uint8
}

// Exporter owns one collector connection, its template set, and the
// rate limiter configured for it.
type Exporter struct {
	cfg Config

	conn        net.Conn
	connected   bool
	lastAttempt time.Time

	sequenceNum     uint32
	exportedPackets uint64
	droppedFlows    uint64

	templates map[templateKey]*Template
	order     []*Template
	nextID    uint16

	limiter *RateLimiter
}

// New builds an Exporter from cfg. It does not connect; the first
// Flush call establishes the connection.
func New(cfg Config) *Exporter {
	if cfg.MTU <= 0 {
		cfg.MTU = 1458
	}
	return &Exporter{
		cfg:       cfg,
		templates: make(map[templateKey]*Template),
		nextID:    firstTemplateID,
		limiter:   NewRateLimiter(cfg.FPS),
	}
}

// Stats reports the exporter's running counters.
type Stats struct {
	ExportedPackets uint64
	DroppedFlows    uint64
	SequenceNumber  uint32
}

// Stats returns a snapshot of the exporter's counters.
func (e *Exporter) Stats() Stats {
	return Stats{e.exportedPackets, e.droppedFlows, e.sequenceNum}
}

func (e *Exporter) templateFor(f *flow.Flow) *Template {
	key := templateKey{f.IPVersion, f.ExtensionMask()}
	t, ok := e.templates[key]
	if !ok {
		t = newTemplate(e.nextID, f.IPVersion, f.ExtensionMask(), e.cfg.MTU-ipfixHeaderSize)
		e.nextID++
		e.templates[key] = t
		e.order = append(e.order, t)
	}
	return t
}

// Export encodes f and stages it into its template's data-set buffer,
// flushing first if the record would overflow it. A flush is attempted
// at most once per call; a record that still can't fit is dropped and
// counted. Export reaches the network only through that Flush, which
// may (re)connect; the Flush's own error is discarded, and the record
// is then dropped and counted if it still does not fit. Staging always
// succeeds if the record fits, even while disconnected: flows arriving
// during the reconnect wait window are simply buffered by the
// per-template staging buffers.
func (e *Exporter) Export(f *flow.Flow) error {
	t := e.templateFor(f)

	var rec [maxRecordSize]byte
	n, ok := encodeRecord(rec[:], f)
	if !ok {
		e.droppedFlows++
		return errRecordTooLarge
	}

	if !t.appendRecord(rec[:n]) {
		_ = e.Flush()
		if !t.appendRecord(rec[:n]) {
			e.droppedFlows++
			return errRecordTooLarge
		}
	}

	e.limiter.Wait()
	return nil
}

// Flush sends any unexported templates, then every template's
// pending data, in as few MTU-bounded messages as possible. If the
// exporter is disconnected and still
// inside its reconnect wait window, Flush returns errReconnecting
// without touching any buffer.
func (e *Exporter) Flush() error {
	if err := e.ensureConnected(); err != nil {
		return err
	}

	if msg, included := e.buildTemplateMessage(); msg != nil {
		if err := e.send(msg); err != nil {
			return e.handleSendErr(err)
		}
		now := time.Now()
		for _, t := range included {
			t.exported = true
			t.lastExportTime = now
			t.lastExportPacket = e.exportedPackets
		}
	}

	for _, msg := range e.buildDataMessages() {
		if err := e.send(msg); err != nil {
			return e.handleSendErr(err)
		}
	}
	for _, t := range e.order {
		t.reset()
	}
	return nil
}

// Shutdown flushes any remaining data and closes the connection.
func (e *Exporter) Shutdown() error {
	err := e.Flush()
	if e.conn != nil {
		e.conn.Close()
	}
	return err
}

func (e *Exporter) ensureConnected() error {
	if e.connected {
		return nil
	}
	if !e.lastAttempt.IsZero() && time.Since(e.lastAttempt) < e.cfg.ReconnectTimeout {
		return errReconnecting
	}
	return e.connect()
}

// connect dials the collector, resetting sequencing and marking every
// template unexported so the new connection's first message is a
// template-only one.
func (e *Exporter) connect() error {
	e.lastAttempt = time.Now()
	network := "tcp"
	if e.cfg.UDP {
		network = "udp"
	}
	conn, err := net.Dial(network, net.JoinHostPort(e.cfg.Host, e.cfg.Port))
	if err != nil {
		return err
	}
	e.conn = conn
	e.connected = true
	e.sequenceNum = 0
	for _, t := range e.order {
		t.exported = false
	}
	return nil
}

// handleSendErr classifies a send failure: a
// connection-lost errno closes the socket and resets state for a
// reconnect attempt; anything else is fatal and left to the caller to
// log, with processing continuing on the next Flush.
func (e *Exporter) handleSendErr(err error) error {
	if isConnectionLost(err) {
		if e.conn != nil {
			e.conn.Close()
		}
		e.conn = nil
		e.connected = false
		e.sequenceNum = 0
		for _, t := range e.order {
			t.exported = false
		}
		e.lastAttempt = time.Now()
	}
	return err
}

// buildTemplateMessage assembles a template-only message from every
// template needing (re)transmission: UDP mode retransmits on
// needsRefresh's schedule, TCP mode sends each template exactly once
// per connection. Returns (nil, nil) if nothing needs sending.
func (e *Exporter) buildTemplateMessage() ([]byte, []*Template) {
	now := time.Now()
	var candidates []*Template
	for _, t := range e.order {
		refresh := !t.exported
		if e.cfg.UDP {
			refresh = t.needsRefresh(now, e.exportedPackets, e.cfg.TemplateRefreshTime, e.cfg.TemplateRefreshPackets)
		}
		if refresh {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	msg := make([]byte, ipfixHeaderSize, e.cfg.MTU)
	setStart := len(msg)
	msg = append(msg, 0, 0, 0, 0)
	var included []*Template
	for _, t := range candidates {
		if len(msg)+len(t.record) > e.cfg.MTU {
			continue
		}
		msg = append(msg, t.record...)
		included = append(included, t)
	}
	if len(included) == 0 {
		return nil, nil
	}
	binary.BigEndian.PutUint16(msg[setStart:], templateSetID)
	binary.BigEndian.PutUint16(msg[setStart+2:], uint16(len(msg)-setStart))
	e.fillHeader(msg, now)
	return msg, included
}

// buildDataMessages packs every template's pending data-set buffer
// into as few MTU-bounded messages as possible, advancing the
// sequence number by each message's record count as it finalizes that
// message's header.
func (e *Exporter) buildDataMessages() [][]byte {
	var msgs [][]byte
	var cur []byte
	var curRecords uint32

	finish := func() {
		if cur == nil || curRecords == 0 {
			return
		}
		e.fillHeader(cur, time.Now())
		msgs = append(msgs, cur)
		e.sequenceNum += curRecords
		cur, curRecords = nil, 0
	}

	for _, t := range e.order {
		if t.bufLen <= setHeaderSize {
			continue
		}
		if cur != nil && len(cur)+t.bufLen > e.cfg.MTU {
			finish()
		}
		if cur == nil {
			cur = make([]byte, ipfixHeaderSize, e.cfg.MTU)
		}
		cur = append(cur, t.buf[:t.bufLen]...)
		curRecords += uint32(t.recordCount)
	}
	finish()
	return msgs
}

func (e *Exporter) fillHeader(msg []byte, now time.Time) {
	binary.BigEndian.PutUint16(msg[0:], ipfixVersion)
	binary.BigEndian.PutUint16(msg[2:], uint16(len(msg)))
	binary.BigEndian.PutUint32(msg[4:], uint32(now.Unix()))
	binary.BigEndian.PutUint32(msg[8:], e.sequenceNum)
	binary.BigEndian.PutUint32(msg[12:], e.cfg.ODID)
}

func (e *Exporter) send(msg []byte) error {
	if _, err := e.conn.Write(msg); err != nil {
		return err
	}
	e.exportedPackets++
	return nil
}
