// Package server assembles the chat engine: configuration, storage backend,
// channel registry, membership, routing, event delivery and metrics.
package server

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crystal-mush/mushchat/pkg/chatdb"
	"github.com/crystal-mush/mushchat/pkg/events"
	"github.com/crystal-mush/mushchat/pkg/format"
	"github.com/crystal-mush/mushchat/pkg/markup"
	"github.com/crystal-mush/mushchat/pkg/membership"
	"github.com/crystal-mush/mushchat/pkg/platform"
	"github.com/crystal-mush/mushchat/pkg/registry"
	"github.com/crystal-mush/mushchat/pkg/router"
)

// Options are the host collaborators handed to the engine. Only Roster is
// required.
type Options struct {
	Roster      platform.Roster
	Permissions platform.Permissions // default platform.AllowAll
	Renderer    platform.Renderer    // default markup.New()
	// Store overrides the backend named in the config. The engine does not
	// close a store it was given.
	Store Backend
	// Rand replaces the obscuring random source.
	Rand func() float64
}

// Engine is a running chat engine.
type Engine struct {
	confPath string
	conf     atomic.Pointer[ChatConf]
	reloadMu sync.Mutex

	reg      *registry.Registry
	store    *membership.Store
	mgr      *membership.Manager
	router   *router.Router
	bus      *events.Bus
	metrics  *Metrics
	renderer platform.Renderer
	rand     func() float64
	chatlog  *events.ChatLog

	kv     Backend
	ownsKV bool
	closed atomic.Bool
}

// NewEngine builds an engine from conf and loads its channels.
func NewEngine(conf ChatConf, opts Options) (*Engine, error) {
	if opts.Roster == nil {
		return nil, fmt.Errorf("server: engine needs a roster")
	}
	if opts.Permissions == nil {
		opts.Permissions = platform.AllowAll{}
	}
	if opts.Renderer == nil {
		opts.Renderer = markup.New()
	}

	e := &Engine{
		reg:      registry.New(),
		bus:      events.NewBus(),
		metrics:  NewMetrics(time.Now()),
		renderer: opts.Renderer,
		rand:     opts.Rand,
		kv:       opts.Store,
	}
	if e.kv == nil {
		kv, err := OpenStore(conf.Store)
		if err != nil {
			return nil, err
		}
		e.kv, e.ownsKV = kv, true
	}

	e.store = membership.NewStore(e.kv)
	e.mgr = membership.NewManager(e.reg, e.store, membership.Deps{
		Roster:          opts.Roster,
		Sink:            e.bus,
		Renderer:        opts.Renderer,
		Permissions:     opts.Permissions,
		Recorder:        e.metrics,
		PermissionLevel: conf.PermissionLevel,
	})
	e.router = router.New(e.mgr, e.formatter(conf.Obscure), router.Deps{
		Roster:      opts.Roster,
		Sink:        e.bus,
		Renderer:    opts.Renderer,
		Permissions: opts.Permissions,
		Recorder:    e.metrics,
		MarkupLevel: conf.MarkupLevel,
	})
	if conf.ChatLog {
		e.chatlog = &events.ChatLog{}
		e.bus.SubscribeGlobal(e.chatlog)
	}

	e.Reload(conf)
	return e, nil
}

// LoadEngine reads the config at path and builds an engine from it.
// ReloadFile and WatchConfig re-read the same path.
func LoadEngine(path string, opts Options) (*Engine, error) {
	conf, err := LoadChatConf(path)
	if err != nil {
		return nil, err
	}
	e, err := NewEngine(conf, opts)
	if err != nil {
		return nil, err
	}
	e.confPath = path
	return e, nil
}

func (e *Engine) formatter(p format.Params) *format.Formatter {
	f := format.New(e.renderer, p)
	if e.rand != nil {
		f = f.WithRand(e.rand)
	}
	return f
}

func (e *Engine) Registry() *registry.Registry { return e.reg }
func (e *Engine) Manager() *membership.Manager { return e.mgr }
func (e *Engine) Router() *router.Router       { return e.router }
func (e *Engine) Bus() *events.Bus             { return e.bus }
func (e *Engine) Metrics() *Metrics            { return e.metrics }
func (e *Engine) Store() Backend               { return e.kv }
func (e *Engine) Conf() ChatConf               { return *e.conf.Load() }
func (e *Engine) ConfigPath() string           { return e.confPath }

// Login brings a player online.
func (e *Engine) Login(player chatdb.PlayerID) *chatdb.MembershipRecord {
	rec := e.mgr.Login(player)
	e.metrics.SetOnline(len(e.mgr.Online()))
	return rec
}

// Logout takes a player offline and prunes closed event subscribers.
func (e *Engine) Logout(player chatdb.PlayerID) {
	e.mgr.Logout(player)
	e.bus.Cleanup()
	e.metrics.SetOnline(len(e.mgr.Online()))
}

// Chat handles one line of chat input from player.
func (e *Engine) Chat(player chatdb.PlayerID, text string) {
	e.router.Handle(player, text)
}

// Announce sends a system message to every subscribed player.
func (e *Engine) Announce(text string) {
	msg := e.renderer.RenderSystem(text)
	msg.Kind = chatdb.KindSystem
	e.bus.Broadcast(msg)
}

// Reload swaps in conf's channels and obscuring parameters and reconciles
// every online player against them. Permission levels and the storage
// backend only take effect at startup.
func (e *Engine) Reload(conf ChatConf) registry.LoadReport {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	report := e.reg.Load(conf.Channels, conf.DefaultChannel)
	e.router.SetFormatter(e.formatter(conf.Obscure))
	e.conf.Store(&conf)
	e.mgr.ReconcileAll()

	result := "ok"
	if len(report.Rejected) > 0 {
		result = "partial"
	}
	e.metrics.ConfigReloaded(result)
	e.metrics.SetChannels(report.Loaded)
	return report
}

// ReloadFile re-reads the config file. On error the running configuration
// is kept.
func (e *Engine) ReloadFile() (registry.LoadReport, error) {
	if e.confPath == "" {
		return registry.LoadReport{}, fmt.Errorf("server: engine has no config file")
	}
	conf, err := LoadChatConf(e.confPath)
	if err != nil {
		e.metrics.ConfigReloaded("error")
		log.Printf("WARNING: chat config reload failed, keeping current channels: %v", err)
		return registry.LoadReport{}, err
	}
	return e.Reload(conf), nil
}

// SaveAll writes every online record to the store.
func (e *Engine) SaveAll() int {
	return e.mgr.SaveAll()
}

// StartAutosave saves all online records every AutosaveInterval seconds
// until ctx is done. It does nothing when autosave is disabled.
func (e *Engine) StartAutosave(ctx context.Context) {
	every := e.Conf().Autosave()
	if every <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := e.SaveAll(); n > 0 {
					log.Printf("autosave: saved %d players", n)
				}
			}
		}
	}()
}

// Close saves every online record and releases the store. It is safe to
// call more than once.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	n := e.SaveAll()
	log.Printf("server: saved %d players on shutdown", n)
	if e.chatlog != nil {
		e.chatlog.Close()
	}
	if e.ownsKV {
		if err := e.kv.Close(); err != nil {
			return fmt.Errorf("server: close store: %w", err)
		}
	}
	return nil
}
