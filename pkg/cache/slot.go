package cache

import (
	"github.com/cesnet/ipfixprobe-go/pkg/flow"
	"github.com/cesnet/ipfixprobe-go/pkg/plugin"
)

// slot is one cell of the cache's flow_array (nhtflowcache.h's
// FlowRecord): a hash tag plus the flow it currently holds. hash == 0
// means the slot is empty; flowkey.Hash never returns 0, so the check
// is unambiguous.
type slot struct {
	hash uint64
	f    flow.Flow
}

func (s *slot) isEmpty() bool { return s.hash == 0 }

func (s *slot) belongs(h uint64) bool { return s.hash == h }

func (s *slot) erase() {
	s.hash = 0
	s.f.Reset()
}

// flowView returns the slot's flow as the narrow interface plugin hooks
// operate on.
func (s *slot) flowView() plugin.Flow { return &s.f }
