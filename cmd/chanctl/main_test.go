package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const simConfig = `default_channel: global
chat_log: false
autosave_interval: 0
store:
  backend: memory
channels:
  - name: global
    display_prefix: "[G]"
    shortcut: gl
    always_on: true
  - name: staff
    display_prefix: "[S]"
    shortcut: s
    permission: chat.staff
  - name: local
    display_prefix: "[L]"
    shortcut: l
    range: 20
    special_channel_type: local
`

func runScript(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.yaml")
	if err := os.WriteFile(path, []byte(simConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := simulate(path, strings.NewReader(script), &out, 1); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	return out.String()
}

func TestSimulateSession(t *testing.T) {
	out := runScript(t, `
# two players in the same world
player p1 Alice 0 0 0
player p2 Bob 5 0 0
login p1
login p2
chat p1 hello everyone
join p1 local
join p2 local
chat p2 l:hi*
dm p1 bob
chat p1 secret
`)
	for _, want := range []string{
		"p1 joined global, focus channel:global",
		"-> p2     channel   [G] Alice: hello everyone",
		"-> p1     channel   [L] Bob whispers: hi",
		"-> p2     direct    [Alice → You] secret",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

func TestSimulatePermissions(t *testing.T) {
	out := runScript(t, `
player p1 Alice
login p1
join p1 staff
grant p1 chat.staff
join p1 staff
kick p1 p1 global
`)
	if !strings.Contains(out, "! line 4: no permission") {
		t.Errorf("expected permission failure:\n%s", out)
	}
	if strings.Contains(out, "! line 6") {
		t.Errorf("granted join failed:\n%s", out)
	}
	if !strings.Contains(out, "! line 7: channel is always on") {
		t.Errorf("expected always-on kick failure:\n%s", out)
	}
}

func TestSimulateBadLines(t *testing.T) {
	out := runScript(t, `
frobnicate
player p1
move ghost 1 2 3
player p2 Bob 1 2
`)
	for _, want := range []string{
		`! line 2: unknown command "frobnicate"`,
		"! line 3: player needs 2 arguments",
		"! line 4: unknown player ghost",
		"! line 5: position needs x y z",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

func TestPosition(t *testing.T) {
	pos, err := position([]string{"1", "2.5", "-3", "nether"})
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.X != 1 || pos.Y != 2.5 || pos.Z != -3 || pos.World != "nether" {
		t.Errorf("pos = %+v", pos)
	}
	if pos, _ := position(nil); pos.World != "world" {
		t.Errorf("default world = %q", pos.World)
	}
	if _, err := position([]string{"x", "0", "0"}); err == nil {
		t.Error("expected error for bad coordinate")
	}
}
