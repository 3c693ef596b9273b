package cmd

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// parseTimeout parses the -t/--timeout "active:inactive" grammar, both
// in floating-point seconds, or the literal "default" for 300:30.
func parseTimeout(s string) (active, inactive time.Duration, err error) {
	if s == "" || s == "default" {
		return 300 * time.Second, 30 * time.Second, nil
	}
	a, i, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("timeout %q must be of the form active:inactive", s)
	}
	af, err := strconv.ParseFloat(a, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid active timeout %q: %w", a, err)
	}
	inf, err := strconv.ParseFloat(i, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid inactive timeout %q: %w", i, err)
	}
	return time.Duration(af * float64(time.Second)), time.Duration(inf * float64(time.Second)), nil
}

// parseDurationOrSeconds parses the -S/--cache-statistics value as a Go
// duration string ("10s"), or as a bare integer number of seconds for
// parity with the original's -S SECONDS flag. An empty string yields a
// zero duration. The parsed value is stored in the configuration only;
// nothing prints cache statistics periodically.
func parseDurationOrSeconds(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid cache statistics interval %q: %w", s, err)
	}
	return d, nil
}

// parseCollectorAddr parses the -x/--ipfix "host:port" grammar,
// tolerating brackets around an IPv6 host (net.SplitHostPort already
// accepts "[::1]:4739").
func parseCollectorAddr(s string) (host, port string, err error) {
	host, port, err = net.SplitHostPort(s)
	if err != nil {
		return "", "", fmt.Errorf("invalid IPFIX collector address %q: %w", s, err)
	}
	return host, port, nil
}
