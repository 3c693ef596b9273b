// Package framed implements an "alternate framed record" output
// alongside IPFIX: a flat, length-prefixed binary record carrying the
// same basic-flow field set pkg/ipfix templates do, plus one plugin's
// framed payload. It is a thin mirror of IPFIX, out of scope for a full
// wire protocol of its own, so rather than maintaining a second field
// registry this package reuses pkg/ipfix's field-list synthesis
// (FieldsFor, EncodeBasicFields, AppendVarLen) for both the schema each
// channel
// negotiates at startup and the per-record wire encoding.
package framed

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/cesnet/ipfixprobe-go/pkg/flow"
	"github.com/cesnet/ipfixprobe-go/pkg/ipfix"
	"github.com/cesnet/ipfixprobe-go/pkg/plugin"
)

// maxRecordSize bounds one encoded record: the basic fields plus one
// extension's length-prefixed framed payload.
const maxRecordSize = 256 + 2048

var (
	errRecordTooLarge   = errors.New("framed: record does not fit maxRecordSize")
	errMissingExtension = errors.New("framed: flow routed to this channel does not carry its tag's extension")
)

// Channel writes framed records for flows carrying exactly one
// extension tag (or no extension at all, for the basic channel) to
// one io.Writer. The schema message, the same (ipVersion, extMask)
// field list pkg/ipfix would template, is sent once, before the
// first record.
type Channel struct {
	w          io.Writer
	ipVersion  uint8
	tag        plugin.Tag
	hasTag     bool
	negotiated bool
}

// NewBasicChannel builds the channel carrying flows with no extension.
func NewBasicChannel(w io.Writer, ipVersion uint8) *Channel {
	return &Channel{w: w, ipVersion: ipVersion}
}

// NewChannel builds the channel carrying flows whose routed extension
// is tag.
func NewChannel(w io.Writer, ipVersion uint8, tag plugin.Tag) *Channel {
	return &Channel{w: w, ipVersion: ipVersion, tag: tag, hasTag: true}
}

// Tag reports the extension tag this channel carries, and whether it
// carries one at all (false for the basic channel).
func (c *Channel) Tag() (plugin.Tag, bool) { return c.tag, c.hasTag }

func (c *Channel) extMask() uint64 {
	if !c.hasTag {
		return 0
	}
	return 1 << uint(c.tag)
}

// Negotiate sends the field-list schema message once; later calls are
// no-ops. Write calls it automatically before the first record.
func (c *Channel) Negotiate() error {
	if c.negotiated {
		return nil
	}
	fields := ipfix.FieldsFor(c.ipVersion, c.extMask())

	buf := make([]byte, 2, 2+10*len(fields))
	buf[0] = c.ipVersion
	buf[1] = uint8(len(fields))
	for _, f := range fields {
		var rec [10]byte
		binary.BigEndian.PutUint32(rec[0:], f.EnterpriseNumber)
		binary.BigEndian.PutUint16(rec[4:], f.ElementID)
		binary.BigEndian.PutUint32(rec[6:], uint32(f.Length))
		buf = append(buf, rec[:]...)
	}

	if _, err := c.w.Write(buf); err != nil {
		return err
	}
	c.negotiated = true
	return nil
}

// Write encodes f's basic fields, followed by its tag extension's
// framed payload (length-prefixed, short/long form) if this channel
// carries one, and sends the result as one length-prefixed message.
func (c *Channel) Write(f *flow.Flow) error {
	if err := c.Negotiate(); err != nil {
		return err
	}

	var rec [maxRecordSize]byte
	n, ok := ipfix.EncodeBasicFields(rec[:], f)
	if !ok {
		return errRecordTooLarge
	}

	if c.hasTag {
		ext, found := f.Extension(c.tag)
		if !found {
			return errMissingExtension
		}
		var scratch [2048]byte
		m := ext.FillFramed(scratch[:])
		if m < 0 {
			return errRecordTooLarge
		}
		n, ok = ipfix.AppendVarLen(rec[:], n, scratch[:m])
		if !ok {
			return errRecordTooLarge
		}
	}

	msg := make([]byte, 4+n)
	binary.BigEndian.PutUint32(msg[0:], uint32(n))
	copy(msg[4:], rec[:n])
	_, err := c.w.Write(msg)
	return err
}
