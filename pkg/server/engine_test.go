package server

import (
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/crystal-mush/mushchat/pkg/archive"
	"github.com/crystal-mush/mushchat/pkg/chatdb"
	"github.com/crystal-mush/mushchat/pkg/events"
	"github.com/crystal-mush/mushchat/pkg/membership"
	"github.com/crystal-mush/mushchat/pkg/platform"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// session is a per-player subscriber recording everything it receives.
type session struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *session) Receive(ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *session) Closed() bool { return false }

func (s *session) texts(typ events.EventType) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, ev := range s.events {
		if ev.Type == typ {
			out = append(out, ev.Text)
		}
	}
	return out
}

func (s *session) saw(typ events.EventType, substr string) bool {
	for _, text := range s.texts(typ) {
		if strings.Contains(text, substr) {
			return true
		}
	}
	return false
}

func testChannels() []chatdb.RawChannelDef {
	near := 50
	return []chatdb.RawChannelDef{
		{Name: "global", DisplayPrefix: "&a[G]", Shortcut: "gl", AlwaysOn: true},
		{Name: "trade", DisplayPrefix: "&6[T]", Shortcut: "t"},
		{Name: "staff", DisplayPrefix: "&c[S]", Shortcut: "s", Permission: "chat.staff"},
		{Name: "local", DisplayPrefix: "&e[L]", Shortcut: "l", Range: &near, SpecialType: chatdb.SpecialLocal},
	}
}

func testConf() ChatConf {
	conf := DefaultChatConf()
	conf.ChatLog = false
	conf.AutosaveInterval = 0
	conf.Channels = testChannels()
	return conf
}

type engineEnv struct {
	engine   *Engine
	roster   *platform.MemoryRoster
	perms    *platform.StaticPermissions
	kv       *platform.MemoryKV
	sessions map[chatdb.PlayerID]*session
}

func newEngineEnv(t *testing.T, conf ChatConf) *engineEnv {
	t.Helper()
	env := &engineEnv{
		roster:   platform.NewMemoryRoster(),
		perms:    platform.NewStaticPermissions(),
		kv:       platform.NewMemoryKV(),
		sessions: make(map[chatdb.PlayerID]*session),
	}
	e, err := NewEngine(conf, Options{
		Roster:      env.roster,
		Permissions: env.perms,
		Store:       env.kv,
		Rand:        func() float64 { return 0 },
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	env.engine = e
	return env
}

// connect puts a player in the roster at x, subscribes a session and logs
// them in.
func (env *engineEnv) connect(id chatdb.PlayerID, name string, x float64) *session {
	env.roster.Add(platform.Player{ID: id, Username: strings.ToLower(name), DisplayName: name}, platform.Position{World: "overworld", X: x})
	env.perms.SetLevel(id, 0)
	s := &session{}
	env.sessions[id] = s
	env.engine.Bus().Subscribe(id, s)
	env.engine.Login(id)
	return s
}

func TestNewEngineRequiresRoster(t *testing.T) {
	if _, err := NewEngine(testConf(), Options{}); err == nil {
		t.Error("expected error without roster")
	}
}

func TestEngineChat(t *testing.T) {
	env := newEngineEnv(t, testConf())
	alice := env.connect("p1", "Alice", 0)
	bob := env.connect("p2", "Bob", 10)

	env.engine.Chat("p1", "hello")
	want := "[G] Alice: hello"
	for name, s := range map[string]*session{"alice": alice, "bob": bob} {
		got := s.texts(events.EvChannel)
		if len(got) != 1 || got[0] != want {
			t.Errorf("%s got %q, want [%q]", name, got, want)
		}
	}
	if got := testutil.ToFloat64(env.engine.Metrics().messagesRouted.WithLabelValues("channel")); got != 1 {
		t.Errorf("routed channel = %v", got)
	}
	if got := testutil.ToFloat64(env.engine.Metrics().deliveries.WithLabelValues("full")); got != 2 {
		t.Errorf("full deliveries = %v", got)
	}
	if got := testutil.ToFloat64(env.engine.Metrics().playersOnline); got != 2 {
		t.Errorf("players online = %v", got)
	}
}

func TestEngineDirectMessage(t *testing.T) {
	env := newEngineEnv(t, testConf())
	alice := env.connect("p1", "Alice", 0)
	bob := env.connect("p2", "Bob", 0)

	if err := env.engine.Manager().FocusDM("p1", "p2"); err != nil {
		t.Fatalf("FocusDM: %v", err)
	}
	env.engine.Chat("p1", "psst")
	if !alice.saw(events.EvDirect, "[You → Bob] psst") {
		t.Errorf("alice events = %q", alice.texts(events.EvDirect))
	}
	if !bob.saw(events.EvDirect, "[Alice → You] psst") {
		t.Errorf("bob events = %q", bob.texts(events.EvDirect))
	}

	env.engine.Chat("p2", "d:hi back")
	if !alice.saw(events.EvDirect, "[Bob → You] hi back") {
		t.Errorf("reply not delivered: %q", alice.texts(events.EvDirect))
	}
}

func TestEngineProximity(t *testing.T) {
	env := newEngineEnv(t, testConf())
	env.connect("p1", "Alice", 0)
	near := env.connect("p2", "Bob", 30)
	far := env.connect("p3", "Carol", 65)
	elsewhere := env.connect("p4", "Dave", 0)
	env.roster.Move("p4", platform.Position{World: "nether"})
	for _, id := range []chatdb.PlayerID{"p1", "p2", "p3", "p4"} {
		if err := env.engine.Manager().Join(id, "local"); err != nil {
			t.Fatalf("Join(%s): %v", id, err)
		}
	}

	text := "anyone there?"
	env.engine.Chat("p1", "l:"+text)
	if !near.saw(events.EvChannel, "[L] Alice asks: "+text) {
		t.Errorf("near got %q", near.texts(events.EvChannel))
	}
	// Rand always 0, so every character of the body is replaced.
	if !far.saw(events.EvChannel, "[L] Alice asks: "+strings.Repeat(".", len(text))) {
		t.Errorf("far got %q", far.texts(events.EvChannel))
	}
	if got := elsewhere.texts(events.EvChannel); len(got) != 0 {
		t.Errorf("player in another world got %q", got)
	}
	m := env.engine.Metrics()
	if got := testutil.ToFloat64(m.deliveries.WithLabelValues("obscured")); got != 1 {
		t.Errorf("obscured deliveries = %v", got)
	}
	if got := testutil.ToFloat64(m.deliveries.WithLabelValues("suppressed")); got != 1 {
		t.Errorf("suppressed deliveries = %v", got)
	}
}

func TestEngineReloadReconciles(t *testing.T) {
	env := newEngineEnv(t, testConf())
	alice := env.connect("p1", "Alice", 0)
	env.perms.Grant("p1", "chat.staff")
	if err := env.engine.Manager().Join("p1", "trade"); err != nil {
		t.Fatalf("Join trade: %v", err)
	}
	if err := env.engine.Manager().Join("p1", "staff"); err != nil {
		t.Fatalf("Join staff: %v", err)
	}
	if err := env.engine.Manager().Focus("p1", "trade"); err != nil {
		t.Fatalf("Focus: %v", err)
	}

	env.perms.Deny("p1", "chat.staff")
	conf := testConf()
	conf.Channels = append(conf.Channels[:1], conf.Channels[2:]...) // drop trade
	report := env.engine.Reload(conf)
	if report.Loaded != 3 {
		t.Errorf("Loaded = %d", report.Loaded)
	}

	rec, ok := env.engine.Manager().Record("p1")
	if !ok {
		t.Fatal("p1 offline after reload")
	}
	if rec.IsMember("trade") || rec.IsMember("staff") {
		t.Errorf("joined = %v", rec.JoinedNames())
	}
	if name, _ := chatdb.FocusChannel(rec.Focus); name != "global" {
		t.Errorf("focus = %v, want global", rec.Focus)
	}
	if !alice.saw(events.EvNotice, "trade no longer exists") {
		t.Errorf("missing removal notice: %q", alice.texts(events.EvNotice))
	}
	m := env.engine.Metrics()
	if got := testutil.ToFloat64(m.autoLeaves.WithLabelValues("staff")); got != 1 {
		t.Errorf("auto leaves = %v", got)
	}
	if got := testutil.ToFloat64(m.channelsLoaded); got != 3 {
		t.Errorf("channels loaded = %v", got)
	}
	if got := testutil.ToFloat64(m.configReloads.WithLabelValues("ok")); got != 2 {
		t.Errorf("ok reloads = %v, want 2 (startup + reload)", got)
	}
}

func TestEngineReloadPartial(t *testing.T) {
	env := newEngineEnv(t, testConf())
	conf := testConf()
	conf.Channels = append(conf.Channels, chatdb.RawChannelDef{Name: "market", DisplayPrefix: "[M]", Shortcut: "t"})
	report := env.engine.Reload(conf)
	if len(report.Rejected) != 1 {
		t.Errorf("Rejected = %v", report.Rejected)
	}
	if got := testutil.ToFloat64(env.engine.Metrics().configReloads.WithLabelValues("partial")); got != 1 {
		t.Errorf("partial reloads = %v", got)
	}
}

func TestEngineReloadObscureParams(t *testing.T) {
	env := newEngineEnv(t, testConf())
	env.connect("p1", "Alice", 0)
	far := env.connect("p2", "Bob", 65)
	env.engine.Manager().Join("p1", "local")
	env.engine.Manager().Join("p2", "local")

	conf := testConf()
	conf.Obscure.MaxObscure = 0
	env.engine.Reload(conf)
	env.engine.Chat("p1", "l:clear as day")
	if !far.saw(events.EvChannel, "[L] Alice says: clear as day") {
		t.Errorf("far got %q", far.texts(events.EvChannel))
	}
}

func TestEngineAnnounce(t *testing.T) {
	env := newEngineEnv(t, testConf())
	alice := env.connect("p1", "Alice", 0)
	bob := env.connect("p2", "Bob", 0)
	env.engine.Announce("&eServer restarting soon")
	for name, s := range map[string]*session{"alice": alice, "bob": bob} {
		if got := s.texts(events.EvBroadcast); len(got) != 1 || got[0] != "Server restarting soon" {
			t.Errorf("%s broadcasts = %q", name, got)
		}
	}
}

func TestEngineLogoutPersists(t *testing.T) {
	env := newEngineEnv(t, testConf())
	env.connect("p1", "Alice", 0)
	env.engine.Manager().Join("p1", "trade")
	env.engine.Manager().Focus("p1", "trade")
	env.engine.Logout("p1")

	if got := env.kv.GetString("p1", membership.KeyFocus); got != "trade" {
		t.Errorf("saved focus = %q", got)
	}
	if got := testutil.ToFloat64(env.engine.Metrics().playersOnline); got != 0 {
		t.Errorf("players online = %v", got)
	}

	rec := env.engine.Login("p1")
	if !rec.IsMember("trade") || !rec.FocusedOn("trade") {
		t.Errorf("restored record = %+v", rec)
	}
}

func TestEngineFileBackedRestart(t *testing.T) {
	dir := t.TempDir()
	conf := testConf()
	conf.Store = StoreConf{Backend: BackendSQLite, Path: filepath.Join(dir, "chat.db"), Timeout: 3}
	roster := platform.NewMemoryRoster()
	roster.Add(platform.Player{ID: "p1", Username: "alice"}, platform.Position{})

	e, err := NewEngine(conf, Options{Roster: roster})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	e.Login("p1")
	if err := e.Manager().Join("p1", "trade"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	e, err = NewEngine(conf, Options{Roster: roster})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e.Close()
	if rec := e.Login("p1"); !rec.IsMember("trade") {
		t.Errorf("joined after restart = %v", rec.JoinedNames())
	}
}

func TestEngineReloadFile(t *testing.T) {
	path := writeConfig(t, testConfig)
	e, err := LoadEngine(path, Options{Roster: platform.NewMemoryRoster()})
	if err != nil {
		t.Fatalf("LoadEngine: %v", err)
	}
	defer e.Close()
	if e.Registry().Len() != 3 {
		t.Fatalf("channels = %d", e.Registry().Len())
	}

	if err := os.WriteFile(path, []byte("channels: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ReloadFile(); err == nil {
		t.Error("expected reload error")
	}
	if e.Registry().Len() != 3 {
		t.Errorf("channels after failed reload = %d", e.Registry().Len())
	}
	if got := testutil.ToFloat64(e.Metrics().configReloads.WithLabelValues("error")); got != 1 {
		t.Errorf("error reloads = %v", got)
	}

	fresh := strings.Replace(testConfig, "channel_files:", "  - name: trade\n    display_prefix: \"[T]\"\n    shortcut: t\nchannel_files:", 1)
	if err := os.WriteFile(path, []byte(fresh), 0o644); err != nil {
		t.Fatal(err)
	}
	report, err := e.ReloadFile()
	if err != nil {
		t.Fatalf("ReloadFile: %v", err)
	}
	if report.Loaded != 4 {
		t.Errorf("Loaded = %d, want 4", report.Loaded)
	}
	if _, ok := e.Registry().ByShortcut("t"); !ok {
		t.Error("trade not loaded")
	}
}

func TestEngineReloadFileWithoutPath(t *testing.T) {
	env := newEngineEnv(t, testConf())
	if _, err := env.engine.ReloadFile(); err == nil {
		t.Error("expected error")
	}
	if err := env.engine.WatchConfig(context.Background()); err == nil {
		t.Error("expected error")
	}
}

func TestMetricsHandler(t *testing.T) {
	env := newEngineEnv(t, testConf())
	env.connect("p1", "Alice", 0)
	env.engine.Chat("p1", "hello")

	rec := httptest.NewRecorder()
	env.engine.Metrics().Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`mushchat_messages_routed_total{target="channel"} 1`,
		`mushchat_players_online 1`,
		`mushchat_channels_loaded 4`,
		`mushchat_uptime_seconds`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

// countingKV counts writes so autosave can be observed.
type countingKV struct {
	*platform.MemoryKV
	mu     sync.Mutex
	writes int
}

func (c *countingKV) SetString(player chatdb.PlayerID, key, value string) error {
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
	return c.MemoryKV.SetString(player, key, value)
}

func (c *countingKV) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

func TestAutosave(t *testing.T) {
	conf := testConf()
	conf.AutosaveInterval = 1
	roster := platform.NewMemoryRoster()
	roster.Add(platform.Player{ID: "p1", Username: "alice"}, platform.Position{})
	kv := &countingKV{MemoryKV: platform.NewMemoryKV()}
	e, err := NewEngine(conf, Options{Roster: roster, Store: kv})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer e.Close()
	e.Login("p1")
	before := kv.count()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.StartAutosave(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for kv.count() == before {
		if time.Now().After(deadline) {
			t.Fatal("autosave never wrote")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestEngineArchive(t *testing.T) {
	dir := t.TempDir()
	conf := strings.Replace(testConfig, "backend: memory", "backend: bolt\n  path: "+filepath.Join(dir, "data", "chat.bolt"), 1)
	path := filepath.Join(dir, "chat.yaml")
	if err := os.WriteFile(path, []byte(conf), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "staff.yaml"), []byte(testStaffChannels), 0o644); err != nil {
		t.Fatal(err)
	}
	roster := platform.NewMemoryRoster()
	roster.Add(platform.Player{ID: "p1", Username: "alice"}, platform.Position{})
	e, err := LoadEngine(path, Options{Roster: roster})
	if err != nil {
		t.Fatalf("LoadEngine: %v", err)
	}
	defer e.Close()
	e.Login("p1")

	out, err := e.Archive(filepath.Join(dir, "archives"))
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	infos, err := archive.List(filepath.Dir(out))
	if err != nil || len(infos) != 1 {
		t.Fatalf("List = %v, %v", infos, err)
	}
	if infos[0].Backend != BackendBolt || infos[0].Players != 1 || infos[0].Channels != 3 {
		t.Errorf("info = %+v", infos[0])
	}

	res, err := archive.Restore(archive.RestoreParams{
		ArchivePath: out,
		BoltDest:    filepath.Join(dir, "restored.bolt"),
		ConfDir:     filepath.Join(dir, "restored-conf"),
	})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	// bolt snapshot plus chat.yaml and staff.yaml
	if res.FilesRestored != 3 {
		t.Errorf("FilesRestored = %d, warnings %v", res.FilesRestored, res.Warnings)
	}
}
