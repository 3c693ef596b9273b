package framed

import (
	"github.com/cesnet/ipfixprobe-go/pkg/flow"
	"github.com/cesnet/ipfixprobe-go/pkg/plugin"
)

// Router dispatches a flow to the channel matching its extension tag,
// or to the basic channel for flows carrying no extension at all. This
// repository ships only two extensions (pstats, bstats) and a flow
// normally carries at most one of them, so routing by the
// lowest-numbered tag present is sufficient; a flow carrying more than
// one tag is still delivered whole to a single channel rather than
// split, since the framed format (unlike IPFIX) has no notion of a
// combined template.
type Router struct {
	basic    *Channel
	channels map[plugin.Tag]*Channel
}

// NewRouter builds a Router whose basic-only flows go to basic.
func NewRouter(basic *Channel) *Router {
	return &Router{basic: basic, channels: make(map[plugin.Tag]*Channel)}
}

// AddChannel registers c for the tag it was built with. Calling it
// with the basic channel is a no-op, since Tag() reports hasTag=false
// for it.
func (r *Router) AddChannel(c *Channel) {
	if tag, ok := c.Tag(); ok {
		r.channels[tag] = c
	}
}

// Write routes f to its matching channel and writes it there.
func (r *Router) Write(f *flow.Flow) error {
	mask := f.ExtensionMask()
	if mask == 0 {
		return r.basic.Write(f)
	}
	for tag := plugin.Tag(0); tag < 64; tag++ {
		if mask&(1<<uint(tag)) == 0 {
			continue
		}
		if c, ok := r.channels[tag]; ok {
			return c.Write(f)
		}
	}
	return r.basic.Write(f)
}
