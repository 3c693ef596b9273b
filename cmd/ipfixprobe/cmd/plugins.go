package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cesnet/ipfixprobe-go/pkg/config"
	"github.com/cesnet/ipfixprobe-go/pkg/plugin"
	"github.com/cesnet/ipfixprobe-go/pkg/plugin/bstats"
	"github.com/cesnet/ipfixprobe-go/pkg/plugin/pstats"
)

// parsePluginList splits the -p/--plugins grammar
// ("name:key=value:key2=value2,name2") into one config.PluginConfig per
// plugin, generalizing a JSON-first, then-validate config flow to this
// flat string form.
func parsePluginList(s string) ([]config.PluginConfig, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var out []config.PluginConfig
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		pc := config.PluginConfig{Name: parts[0]}
		for _, kv := range parts[1:] {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return nil, fmt.Errorf("plugin parameter %q for %q must be key=value", kv, pc.Name)
			}
			if pc.Params == nil {
				pc.Params = make(map[string]string)
			}
			pc.Params[k] = v
		}
		out = append(out, pc)
	}
	return out, nil
}

// buildRegistry instantiates one plugin.Plugin per entry in cfgs, in
// order, so the resulting Registry runs plugins in the order given.
// Extension field order in IPFIX/framed templates follows extension
// Tag, not this order.
func buildRegistry(cfgs []config.PluginConfig) (*plugin.Registry, error) {
	plugins := make([]plugin.Plugin, 0, len(cfgs))
	for _, pc := range cfgs {
		switch pc.Name {
		case "pstats":
			opts := pstats.Options{}
			if v, ok := pc.Params["skipdup"]; ok {
				b, err := strconv.ParseBool(v)
				if err != nil {
					return nil, fmt.Errorf("pstats: invalid skipdup value %q: %w", v, err)
				}
				opts.SkipDuplicates = b
			}
			if v, ok := pc.Params["includezeros"]; ok {
				b, err := strconv.ParseBool(v)
				if err != nil {
					return nil, fmt.Errorf("pstats: invalid includezeros value %q: %w", v, err)
				}
				opts.IncludeZeros = b
			}
			plugins = append(plugins, pstats.New(opts))
		case "bstats":
			plugins = append(plugins, bstats.New())
		default:
			return nil, fmt.Errorf("unknown plugin %q", pc.Name)
		}
	}
	return plugin.NewRegistry(plugins...), nil
}
