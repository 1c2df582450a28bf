package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"github.com/crystal-mush/mushchat/pkg/chatdb"
	"github.com/crystal-mush/mushchat/pkg/events"
	"github.com/crystal-mush/mushchat/pkg/platform"
	"github.com/crystal-mush/mushchat/pkg/server"
)

const scriptHelp = `Script commands, one per line ('#' starts a comment):
  player <id> <name> [x y z] [world]   add a player to the roster
  login <id>                           bring a player online
  logout <id>
  move <id> <x> <y> <z> [world]
  level <id> <n>                       set a player's privilege level
  grant <id> <node> / deny <id> <node>
  join <id> <channel> / leave <id> <channel>
  focus <id> <channel> / dm <id> <peer>
  kick <admin> <target> <channel>
  chat <id> <text...>                  send a line of chat as typed
  announce <text...>
  reload                               re-read the config file`

// printer is a session that writes every event it receives.
type printer struct {
	out    io.Writer
	player chatdb.PlayerID
}

func (p *printer) Receive(ev events.Event) {
	fmt.Fprintf(p.out, "  -> %-6s %-9s %s\n", p.player, ev.Type, ev.Text)
}

func (p *printer) Closed() bool { return false }

func runSimulate(args []string) error {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	confFile := fs.String("conf", envDefault("CHAT_CONF", ""), "Path to chat config file (env: CHAT_CONF)")
	script := fs.String("script", "", "Script file, - for stdin")
	seed := fs.Uint64("seed", 1, "Seed for distance obscuring")
	verbose := fs.Bool("v", false, "Show engine log output")
	fs.Usage = func() {
		fs.PrintDefaults()
		fmt.Fprintln(os.Stderr, scriptHelp)
	}
	fs.Parse(args)
	if *confFile == "" || *script == "" {
		fs.Usage()
		return fmt.Errorf("simulate: -conf and -script are required")
	}

	var in io.Reader = os.Stdin
	if *script != "-" {
		f, err := os.Open(*script)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	if !*verbose {
		log.SetOutput(io.Discard)
	}
	return simulate(*confFile, in, os.Stdout, *seed)
}

// simulate replays a script against the config at confFile using an
// in-memory roster and store, writing every delivered event to out.
func simulate(confFile string, in io.Reader, out io.Writer, seed uint64) error {
	roster := platform.NewMemoryRoster()
	perms := platform.NewStaticPermissions()
	rng := rand.New(rand.NewPCG(seed, seed))
	e, err := server.LoadEngine(confFile, server.Options{
		Roster:      roster,
		Permissions: perms,
		Store:       platform.NewMemoryKV(),
		Rand:        rng.Float64,
	})
	if err != nil {
		return err
	}
	defer e.Close()

	sc := bufio.NewScanner(in)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fmt.Fprintf(out, "> %s\n", line)
		if err := step(e, roster, perms, out, line); err != nil {
			fmt.Fprintf(out, "  ! line %d: %v\n", lineNo, err)
		}
	}
	return sc.Err()
}

func step(e *server.Engine, roster *platform.MemoryRoster, perms *platform.StaticPermissions, out io.Writer, line string) error {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	fields := strings.Fields(rest)
	need := func(n int) error {
		if len(fields) < n {
			return fmt.Errorf("%s needs %d arguments", cmd, n)
		}
		return nil
	}
	id := func() chatdb.PlayerID { return chatdb.PlayerID(fields[0]) }
	mgr := e.Manager()

	switch strings.ToLower(cmd) {
	case "player":
		if err := need(2); err != nil {
			return err
		}
		pos, err := position(fields[2:])
		if err != nil {
			return err
		}
		roster.Add(platform.Player{ID: id(), Username: strings.ToLower(fields[1]), DisplayName: fields[1]}, pos)
		e.Bus().Subscribe(id(), &printer{out: out, player: id()})
		return nil
	case "login":
		if err := need(1); err != nil {
			return err
		}
		if _, ok := roster.Player(id()); !ok {
			return fmt.Errorf("unknown player %s", fields[0])
		}
		rec := e.Login(id())
		fmt.Fprintf(out, "  %s joined %s, focus %v\n", fields[0], strings.Join(rec.JoinedNames(), ","), rec.Focus)
		return nil
	case "logout":
		if err := need(1); err != nil {
			return err
		}
		e.Logout(id())
		roster.Remove(id())
		return nil
	case "move":
		if err := need(4); err != nil {
			return err
		}
		pos, err := position(fields[1:])
		if err != nil {
			return err
		}
		if !roster.Move(id(), pos) {
			return fmt.Errorf("unknown player %s", fields[0])
		}
		return nil
	case "level":
		if err := need(2); err != nil {
			return err
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Errorf("bad level %q", fields[1])
		}
		perms.SetLevel(id(), n)
		return nil
	case "grant", "deny":
		if err := need(2); err != nil {
			return err
		}
		if strings.EqualFold(cmd, "grant") {
			perms.Grant(id(), fields[1])
		} else {
			perms.Deny(id(), fields[1])
		}
		return nil
	case "join":
		if err := need(2); err != nil {
			return err
		}
		return mgr.Join(id(), fields[1])
	case "leave":
		if err := need(2); err != nil {
			return err
		}
		return mgr.Leave(id(), fields[1])
	case "focus":
		if err := need(2); err != nil {
			return err
		}
		return mgr.Focus(id(), fields[1])
	case "dm":
		if err := need(2); err != nil {
			return err
		}
		return mgr.FocusDMByName(id(), fields[1])
	case "kick":
		if err := need(3); err != nil {
			return err
		}
		return mgr.Kick(chatdb.PlayerID(fields[1]), fields[2], id())
	case "chat":
		if err := need(2); err != nil {
			return err
		}
		_, text, _ := strings.Cut(rest, " ")
		e.Chat(id(), strings.TrimLeft(text, " "))
		return nil
	case "announce":
		e.Announce(rest)
		return nil
	case "reload":
		report, err := e.ReloadFile()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  %d channels loaded, %d rejected\n", report.Loaded, len(report.Rejected))
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}

// position parses [x y z] [world].
func position(f []string) (platform.Position, error) {
	pos := platform.Position{World: "world"}
	if len(f) == 0 {
		return pos, nil
	}
	if len(f) < 3 {
		return pos, fmt.Errorf("position needs x y z")
	}
	coords := []*float64{&pos.X, &pos.Y, &pos.Z}
	for i, c := range coords {
		v, err := strconv.ParseFloat(f[i], 64)
		if err != nil {
			return pos, fmt.Errorf("bad coordinate %q", f[i])
		}
		*c = v
	}
	if len(f) > 3 {
		pos.World = f[3]
	}
	return pos, nil
}
