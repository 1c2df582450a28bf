package format

import (
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/crystal-mush/mushchat/pkg/chatdb"
	"github.com/crystal-mush/mushchat/pkg/markup"
	"github.com/crystal-mush/mushchat/pkg/platform"
)

var alice = platform.Player{ID: "p1", Username: "alice", DisplayName: "Alice"}

func mustBuild(t *testing.T, d chatdb.RawChannelDef) chatdb.ChannelConfig {
	t.Helper()
	cfg, err := d.Build()
	if err != nil {
		t.Fatalf("Build(%s): %v", d.Name, err)
	}
	return cfg
}

func localChannel(t *testing.T) chatdb.ChannelConfig {
	rng := 50
	return mustBuild(t, chatdb.RawChannelDef{
		Name: "local", DisplayPrefix: "&e[L]", Shortcut: "l",
		Range: &rng, SpecialType: chatdb.SpecialLocal,
	})
}

func newFormatter(seed uint64) *Formatter {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return New(markup.New(), DefaultParams()).WithRand(r.Float64)
}

func TestParseSuffix(t *testing.T) {
	tests := []struct {
		in   string
		kind SuffixKind
		rng  int
		verb string
		body string
	}{
		{"hello", SuffixSay, 50, "says:", "hello"},
		{"watch out!!", SuffixShout, 100, "shouts:", "watch out!!"},
		{"wow!", SuffixExclaim, 75, "exclaims:", "wow!"},
		{"really?", SuffixAsk, 50, "asks:", "really?"},
		{"hi there*", SuffixWhisper, 10, "whispers:", "hi there"},
		{"grumble $", SuffixMutter, 3, "mutters:", "grumble"},
		{`nods "yes"+`, SuffixRoleplay, 50, "", `nods "yes"`},
		{"brb))", SuffixOOC, 0, "", "brb"},
		{"trailing space!  ", SuffixExclaim, 75, "exclaims:", "trailing space!  "},
	}
	for _, tt := range tests {
		got := ParseSuffix(tt.in)
		if got.Kind != tt.kind || got.Verb != tt.verb || got.Body != tt.body {
			t.Errorf("ParseSuffix(%q) = %+v", tt.in, got)
		}
		if tt.kind != SuffixOOC && got.Range != tt.rng {
			t.Errorf("ParseSuffix(%q).Range = %d, want %d", tt.in, got.Range, tt.rng)
		}
	}
}

func TestWhisperRender(t *testing.T) {
	f := newFormatter(1)
	r := f.Channel(localChannel(t), alice, "hi there*", platform.Caps{})
	if r.Range != 10 {
		t.Errorf("Range = %d, want 10", r.Range)
	}
	if got := r.Full().Plain(); got != "[L] Alice whispers: hi there" {
		t.Errorf("Plain = %q", got)
	}
	if r.Body.Plain() != "hi there" {
		t.Errorf("Body = %q", r.Body.Plain())
	}
}

func TestStandardChannelRender(t *testing.T) {
	f := newFormatter(1)
	cfg := mustBuild(t, chatdb.RawChannelDef{Name: "global", DisplayPrefix: "&a[G]", Shortcut: "gl", MessageColor: "&b"})
	r := f.Channel(cfg, alice, "hi &cthere", platform.Caps{Color: true})
	if got := r.Full().Plain(); got != "[G] Alice: hi there" {
		t.Errorf("Plain = %q", got)
	}
	segs := r.Body.Segments
	if len(segs) != 2 || segs[0].Color != "aqua" || segs[1].Color != "red" {
		t.Errorf("body segments = %+v", segs)
	}
	if r.Range != chatdb.Unbounded {
		t.Errorf("Range = %d", r.Range)
	}

	// without color permission the code is consumed and the message color applies
	r = f.Channel(cfg, alice, "hi &cthere", platform.Caps{})
	if len(r.Body.Segments) != 1 || r.Body.Segments[0].Color != "aqua" || r.Body.Plain() != "hi there" {
		t.Errorf("no-caps body = %+v", r.Body.Segments)
	}
}

func TestNameStyleAndEscaping(t *testing.T) {
	f := newFormatter(1)
	cfg := mustBuild(t, chatdb.RawChannelDef{Name: "trade", DisplayPrefix: "[T]", Shortcut: "t", NameStyle: chatdb.NameUsername})
	p := platform.Player{ID: "p2", Username: "b&cob", DisplayName: "Bob"}
	if got := f.Channel(cfg, p, "x", platform.Caps{}).Full().Plain(); got != "[T] b&cob: x" {
		t.Errorf("Plain = %q", got)
	}
}

func TestOOC(t *testing.T) {
	f := newFormatter(1)
	cfg := localChannel(t)
	r := f.Channel(cfg, alice, "brb))", platform.Caps{})
	if got := r.Full().Plain(); got != "[OOC] alice (Alice): brb" {
		t.Errorf("Plain = %q", got)
	}
	if r.Range != cfg.Range || r.Roleplay {
		t.Errorf("Range = %d roleplay = %v", r.Range, r.Roleplay)
	}
	for _, s := range r.Full().Segments {
		if s.Color != "gray" {
			t.Errorf("segment %q color = %q, want gray", s.Text, s.Color)
		}
	}
}

func TestRoleplayQuotes(t *testing.T) {
	f := newFormatter(1)
	r := f.Channel(localChannel(t), alice, `waves. "Hello \"friend\"" she says+`, platform.Caps{})
	if !r.Roleplay {
		t.Fatal("expected roleplay flag")
	}
	if got := r.Full().Plain(); got != `[L] Alice waves. "Hello "friend"" she says` {
		t.Errorf("Plain = %q", got)
	}
	want := []chatdb.Segment{
		{Text: "waves. ", Bold: true},
		{Text: `"`, Color: "dark_gray"},
		{Text: `Hello "friend"`, Color: "white"},
		{Text: `"`, Color: "dark_gray"},
		{Text: " she says", Bold: true},
	}
	got := r.Body.Segments
	if len(got) != len(want) {
		t.Fatalf("segments = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("segment %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	if _, d := f.ForRecipient(r, false, 80, true); d != DeliverSuppressed {
		t.Errorf("out-of-range roleplay delivery = %v, want suppressed", d)
	}
	if _, d := f.ForRecipient(r, false, 20, true); d != DeliverFull {
		t.Errorf("in-range roleplay delivery = %v, want full", d)
	}
}

func TestSuffixOnlyRendersEmpty(t *testing.T) {
	f := newFormatter(1)
	cfg := localChannel(t)
	for _, text := range []string{"*", "))", "$ ", "  +"} {
		if r := f.Channel(cfg, alice, text, platform.Caps{}); !r.Empty {
			t.Errorf("Channel(%q).Empty = false", text)
		}
	}
	for _, text := range []string{"!", "?", "hi*"} {
		if r := f.Channel(cfg, alice, text, platform.Caps{}); r.Empty {
			t.Errorf("Channel(%q).Empty = true", text)
		}
	}
}

func TestRoleplayParsesMarkup(t *testing.T) {
	f := newFormatter(1)
	r := f.Channel(localChannel(t), alice, `waves &cred &lloud "&aok"+`, platform.Caps{Color: true})
	want := []chatdb.Segment{
		{Text: "waves ", Bold: true},
		{Text: "red loud ", Color: "red", Bold: true},
		{Text: `"`, Color: "dark_gray"},
		{Text: "ok", Color: "green"},
		{Text: `"`, Color: "dark_gray"},
	}
	got := r.Body.Segments
	if len(got) != len(want) {
		t.Fatalf("segments = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("segment %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestForRecipientWithinRange(t *testing.T) {
	f := newFormatter(7)
	r := f.Channel(localChannel(t), alice, "a perfectly ordinary sentence", platform.Caps{})
	for _, d := range []float64{0, 12.5, 50} {
		m, mode := f.ForRecipient(r, false, d, true)
		if mode != DeliverFull {
			t.Errorf("d=%v mode = %v", d, mode)
		}
		if m.Plain() != r.Full().Plain() || m.Len() != r.Full().Len() {
			t.Errorf("d=%v got %q", d, m.Plain())
		}
	}
}

func TestForRecipientModes(t *testing.T) {
	f := newFormatter(7)
	r := f.Channel(localChannel(t), alice, "hello", platform.Caps{})
	if _, mode := f.ForRecipient(r, true, 1000, false); mode != DeliverFull {
		t.Errorf("sender mode = %v", mode)
	}
	if _, mode := f.ForRecipient(r, false, 0, false); mode != DeliverSuppressed {
		t.Errorf("cross-world mode = %v", mode)
	}
	cfg := mustBuild(t, chatdb.RawChannelDef{Name: "global", DisplayPrefix: "[G]", Shortcut: "gl"})
	g := f.Channel(cfg, alice, "hello", platform.Caps{})
	if _, mode := f.ForRecipient(g, false, 0, false); mode != DeliverFull {
		t.Errorf("unbounded mode = %v", mode)
	}
}

func TestObscurePercentage(t *testing.T) {
	p := DefaultParams()
	tests := []struct {
		d    float64
		rng  int
		want float64
	}{
		{10, 20, 0},
		{20, 20, 0},
		{40, 20, 0.6 * (20.0 / 30) * (20.0 / 30)},
		{50, 20, 0.6},
		{500, 20, 0.6},
	}
	for _, tt := range tests {
		got := ObscurePercentage(tt.d, tt.rng, p)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("ObscurePercentage(%v, %d) = %v, want %v", tt.d, tt.rng, got, tt.want)
		}
	}
	if got := ObscurePercentage(40, 20, p); math.Abs(got-0.2667) > 0.001 {
		t.Errorf("40/20 = %v, want ~0.267", got)
	}
}

// placeholderRatio sends a long body from d blocks away and returns the share
// of body characters that came back as placeholders.
func placeholderRatio(t *testing.T, f *Formatter, rng int, d float64) float64 {
	t.Helper()
	cfg := mustBuild(t, chatdb.RawChannelDef{Name: "yard", DisplayPrefix: "[Y]", Shortcut: "y", Range: &rng})
	const n = 20000
	r := f.Channel(cfg, alice, strings.Repeat("a", n), platform.Caps{})
	m, mode := f.ForRecipient(r, false, d, true)
	if mode != DeliverObscured {
		t.Fatalf("mode = %v", mode)
	}
	head := r.Head.Len()
	if m.Len() != head+n {
		t.Fatalf("obscured length = %d, want %d", m.Len(), head+n)
	}
	body := []rune(m.Plain())[head:]
	dots := 0
	for _, c := range body {
		if c == '.' {
			dots++
		}
	}
	return float64(dots) / n
}

func TestObscureSaturates(t *testing.T) {
	ratio := placeholderRatio(t, newFormatter(42), 20, 20+30+15)
	if ratio < 0.57 || ratio > 0.63 {
		t.Errorf("saturated ratio = %.3f, want ~0.60", ratio)
	}
}

func TestObscureMidFade(t *testing.T) {
	ratio := placeholderRatio(t, newFormatter(99), 20, 40)
	if ratio < 0.24 || ratio > 0.30 {
		t.Errorf("ratio at 40/20 = %.3f, want ~0.267", ratio)
	}
}

func TestObscureStyles(t *testing.T) {
	f := New(markup.New(), DefaultParams()).WithRand(func() float64 { return 0 })
	rng := 5
	cfg := mustBuild(t, chatdb.RawChannelDef{Name: "yard", DisplayPrefix: "[Y]", Shortcut: "y", Range: &rng, MessageColor: "&e"})
	r := f.Channel(cfg, alice, "hey", platform.Caps{})
	m, _ := f.ForRecipient(r, false, 100, true)
	last := m.Segments[len(m.Segments)-1]
	if last.Text != "..." || last.Color != "dark_gray" {
		t.Errorf("placeholder segment = %+v", last)
	}
	if !strings.HasPrefix(m.Plain(), "[Y] Alice: ") {
		t.Errorf("head obscured: %q", m.Plain())
	}

	f = f.WithRand(func() float64 { return 0.99 })
	m, _ = f.ForRecipient(r, false, 100, true)
	last = m.Segments[len(m.Segments)-1]
	if last.Text != "hey" || last.Color != "yellow" {
		t.Errorf("kept segment = %+v", last)
	}
}

func TestDeliveryString(t *testing.T) {
	for d, want := range map[Delivery]string{DeliverFull: "full", DeliverObscured: "obscured", DeliverSuppressed: "suppressed"} {
		if d.String() != want {
			t.Errorf("%d.String() = %q", d, d.String())
		}
	}
}
