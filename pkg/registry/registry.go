// Package registry holds the loaded channel definitions.
package registry

import (
	"fmt"
	"log"
	"sync/atomic"

	"github.com/crystal-mush/mushchat/pkg/chatdb"
	"golang.org/x/text/cases"
)

// Reserved triage prefixes that shadow any channel shortcut of the same spelling.
var reservedPrefixes = []string{"d", "g"}

// index is one immutable generation of loaded channels.
type index struct {
	ordered     []*chatdb.ChannelConfig
	byName      map[string]*chatdb.ChannelConfig
	byShortcut  map[string]*chatdb.ChannelConfig
	defaultName string
}

// LoadReport summarises a Load call.
type LoadReport struct {
	Loaded   int
	Rejected []string // one line per dropped definition
}

// Registry indexes channels by name and shortcut. Reloads swap the whole
// index atomically so readers never see a partial rebuild.
type Registry struct {
	active atomic.Pointer[index]
}

// New returns an empty registry.
func New() *Registry {
	r := &Registry{}
	r.active.Store(&index{
		byName:     map[string]*chatdb.ChannelConfig{},
		byShortcut: map[string]*chatdb.ChannelConfig{},
	})
	return r
}

func fold(s string) string {
	return cases.Fold().String(s)
}

// Load replaces the registry contents. Invalid or duplicate definitions are
// logged and dropped; the first definition of a name or shortcut wins.
func (r *Registry) Load(defs []chatdb.RawChannelDef, defaultName string) LoadReport {
	idx := &index{
		byName:      make(map[string]*chatdb.ChannelConfig, len(defs)),
		byShortcut:  make(map[string]*chatdb.ChannelConfig, len(defs)),
		defaultName: defaultName,
	}
	var report LoadReport

	reject := func(format string, args ...any) {
		log.Printf("registry: skipping channel: "+format, args...)
		report.Rejected = append(report.Rejected, fmt.Sprintf(format, args...))
	}

	for i, def := range defs {
		cfg, err := def.Build()
		if err != nil {
			reject("entry %d: %v", i, err)
			continue
		}
		nameKey := fold(cfg.Name)
		if prev, dup := idx.byName[nameKey]; dup {
			reject("entry %d: duplicate name %q (already defined as %q)", i, cfg.Name, prev.Name)
			continue
		}
		scKey := fold(cfg.Shortcut)
		if prev, dup := idx.byShortcut[scKey]; dup {
			reject("entry %d: channel %q reuses shortcut %q of channel %q", i, cfg.Name, cfg.Shortcut, prev.Name)
			continue
		}
		for _, p := range reservedPrefixes {
			if scKey == p {
				log.Printf("registry: WARNING: channel %q shortcut %q is shadowed by a built-in prefix", cfg.Name, cfg.Shortcut)
			}
		}
		c := cfg
		idx.ordered = append(idx.ordered, &c)
		idx.byName[nameKey] = &c
		idx.byShortcut[scKey] = &c
	}

	report.Loaded = len(idx.ordered)
	if defaultName != "" && idx.byName[fold(defaultName)] == nil {
		log.Printf("registry: WARNING: default channel %q is not defined", defaultName)
	}
	r.active.Store(idx)
	log.Printf("registry: loaded %d channels (%d rejected)", report.Loaded, len(report.Rejected))
	return report
}

// ByName looks up a channel, case-insensitively.
func (r *Registry) ByName(name string) (chatdb.ChannelConfig, bool) {
	c := r.active.Load().byName[fold(name)]
	if c == nil {
		return chatdb.ChannelConfig{}, false
	}
	return *c, true
}

// ByShortcut looks up a channel by shortcut, case-insensitively.
func (r *Registry) ByShortcut(shortcut string) (chatdb.ChannelConfig, bool) {
	c := r.active.Load().byShortcut[fold(shortcut)]
	if c == nil {
		return chatdb.ChannelConfig{}, false
	}
	return *c, true
}

// Default resolves the default channel: the configured one if loaded, else
// the first always-on channel, else the first channel. ok is false when no
// channels are loaded at all.
func (r *Registry) Default() (chatdb.ChannelConfig, bool) {
	idx := r.active.Load()
	if c := idx.byName[fold(idx.defaultName)]; idx.defaultName != "" && c != nil {
		return *c, true
	}
	for _, c := range idx.ordered {
		if c.AlwaysOn {
			return *c, true
		}
	}
	if len(idx.ordered) > 0 {
		return *idx.ordered[0], true
	}
	return chatdb.ChannelConfig{}, false
}

// All returns every loaded channel in definition order.
func (r *Registry) All() []chatdb.ChannelConfig {
	idx := r.active.Load()
	out := make([]chatdb.ChannelConfig, len(idx.ordered))
	for i, c := range idx.ordered {
		out[i] = *c
	}
	return out
}

// AlwaysOn returns the always-on channels in definition order.
func (r *Registry) AlwaysOn() []chatdb.ChannelConfig {
	var out []chatdb.ChannelConfig
	for _, c := range r.active.Load().ordered {
		if c.AlwaysOn {
			out = append(out, *c)
		}
	}
	return out
}

// Len returns the number of loaded channels.
func (r *Registry) Len() int {
	return len(r.active.Load().ordered)
}
