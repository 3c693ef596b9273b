package plugin

import "github.com/cesnet/ipfixprobe-go/pkg/capture"

// Registry holds an ordered set of plugins and invokes each lifecycle
// hook across all of them that implement it, OR-combining the returned
// Flags.
type Registry struct {
	plugins []Plugin
}

// NewRegistry builds a Registry from plugins in the order they should
// run. Extension fields in IPFIX/framed templates do not follow this
// order; they are laid out by extension Tag.
func NewRegistry(plugins ...Plugin) *Registry {
	return &Registry{plugins: plugins}
}

// Plugins returns the registered plugins in registration order.
func (r *Registry) Plugins() []Plugin {
	return r.plugins
}

// Copy returns a Registry with a fresh, independent copy of every
// Copyable plugin, so each storage worker gets its own plugin chain. A
// plugin that doesn't implement Copyable is shared as-is, which is only
// safe if the plugin is stateless.
func (r *Registry) Copy() *Registry {
	out := make([]Plugin, len(r.plugins))
	for i, p := range r.plugins {
		if c, ok := p.(Copyable); ok {
			out[i] = c.Copy()
			continue
		}
		out[i] = p
	}
	return &Registry{plugins: out}
}

// Init runs Init on every plugin that implements Initer.
func (r *Registry) Init() error {
	for _, p := range r.plugins {
		if ip, ok := p.(Initer); ok {
			if err := ip.Init(); err != nil {
				return err
			}
		}
	}
	return nil
}

// PreCreate runs PreCreate across all plugins, OR-ing flags.
func (r *Registry) PreCreate(pkt *capture.Packet) Flags {
	var flags Flags
	for _, p := range r.plugins {
		if pc, ok := p.(PreCreator); ok {
			flags |= pc.PreCreate(pkt)
		}
	}
	return flags
}

// PostCreate runs PostCreate across all plugins, OR-ing flags.
func (r *Registry) PostCreate(f Flow, pkt *capture.Packet) Flags {
	var flags Flags
	for _, p := range r.plugins {
		if pc, ok := p.(PostCreator); ok {
			flags |= pc.PostCreate(f, pkt)
		}
	}
	return flags
}

// PreUpdate runs PreUpdate across all plugins, OR-ing flags.
func (r *Registry) PreUpdate(f Flow, pkt *capture.Packet) Flags {
	var flags Flags
	for _, p := range r.plugins {
		if pu, ok := p.(PreUpdater); ok {
			flags |= pu.PreUpdate(f, pkt)
		}
	}
	return flags
}

// PostUpdate runs PostUpdate across all plugins, OR-ing flags.
func (r *Registry) PostUpdate(f Flow, pkt *capture.Packet) Flags {
	var flags Flags
	for _, p := range r.plugins {
		if pu, ok := p.(PostUpdater); ok {
			flags |= pu.PostUpdate(f, pkt)
		}
	}
	return flags
}

// PreExport runs PreExport across all plugins.
func (r *Registry) PreExport(f Flow) {
	for _, p := range r.plugins {
		if pe, ok := p.(PreExporter); ok {
			pe.PreExport(f)
		}
	}
}

// Finish runs Finish across all plugins.
func (r *Registry) Finish() {
	for _, p := range r.plugins {
		if fp, ok := p.(Finisher); ok {
			fp.Finish()
		}
	}
}
