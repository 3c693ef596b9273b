package cache

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// TablePrint renders the cache's running counters as a
// tabwriter-aligned table. The CLI does not call it.
func (c *Cache) TablePrint(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 4, ' ', tabwriter.AlignRight)

	fmt.Fprintln(tw, "HITS\tEMPTY\tNOT EMPTY\tEXPIRED\tFLUSHED\tEXPORTED PACKETS\tAVG LOOKUP\tVAR LOOKUP")

	s := c.stats
	var avgLookup, varLookup float64
	if s.Hits > 0 {
		avgLookup = float64(s.Lookups) / float64(s.Hits)
		varLookup = float64(s.Lookups2)/float64(s.Hits) - avgLookup*avgLookup
	}

	fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%d\t%.2f\t%.2f\n",
		s.Hits, s.Empty, s.NotEmpty, s.Expired, s.Flushed, s.ExportPkt, avgLookup, varLookup)

	return tw.Flush()
}
