// Command chanctl is the operator tool for the chat engine: it validates
// channel configs, inspects, migrates and archives stored player state, and
// replays scripted chat sessions against a config.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/crystal-mush/mushchat/pkg/chatdb"
	"github.com/crystal-mush/mushchat/pkg/registry"
	"github.com/crystal-mush/mushchat/pkg/server"
)

// envDefault returns the environment variable value if set, otherwise the fallback.
func envDefault(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: chanctl <command> [options]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  check     Load a chat config and print the channel registry")
	fmt.Fprintln(os.Stderr, "  dump      Print stored player chat state")
	fmt.Fprintln(os.Stderr, "  migrate   Copy stored player state between backends")
	fmt.Fprintln(os.Stderr, "  simulate  Replay a chat script against a config")
	fmt.Fprintln(os.Stderr, "  backup    Write a .tar.gz archive of stored state and config")
	fmt.Fprintln(os.Stderr, "  archives  List archives in a directory")
	fmt.Fprintln(os.Stderr, "  restore   Restore an archive into a store")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Environment variables (used as defaults when flags are not set):")
	fmt.Fprintln(os.Stderr, "  CHAT_CONF           Path to chat config file (.yaml)")
	fmt.Fprintln(os.Stderr, "  CHAT_STORE_BACKEND  Store backend: bolt, sqlite, redis")
	fmt.Fprintln(os.Stderr, "  CHAT_STORE_PATH     Path to the bolt or sqlite file")
	fmt.Fprintln(os.Stderr, "  CHAT_REDIS_ADDR     Redis address for the redis backend")
	fmt.Fprintln(os.Stderr, "  CHAT_ARCHIVE_DIR    Directory for backup archives")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "check":
		err = runCheck(args)
	case "dump":
		err = runDump(args)
	case "migrate":
		err = runMigrate(args)
	case "simulate":
		err = runSimulate(args)
	case "backup":
		err = runBackup(args)
	case "archives":
		err = runArchives(args)
	case "restore":
		err = runRestore(args)
	case "-h", "-help", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "chanctl: unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func runCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	confFile := fs.String("conf", envDefault("CHAT_CONF", ""), "Path to chat config file (env: CHAT_CONF)")
	fs.Parse(args)
	if *confFile == "" {
		return fmt.Errorf("check: -conf is required")
	}

	conf, err := server.LoadChatConf(*confFile)
	if err != nil {
		return err
	}
	reg := registry.New()
	report := reg.Load(conf.Channels, conf.DefaultChannel)
	printRegistry(reg, conf.DefaultChannel)

	if len(report.Rejected) > 0 {
		fmt.Println()
		fmt.Printf("=== REJECTED (%d) ===\n", len(report.Rejected))
		for _, line := range report.Rejected {
			fmt.Printf("  %s\n", line)
		}
		return fmt.Errorf("check: %d channel definitions rejected", len(report.Rejected))
	}
	if _, ok := reg.Default(); !ok {
		return fmt.Errorf("check: default channel %q is not defined", conf.DefaultChannel)
	}
	return nil
}

func printRegistry(reg *registry.Registry, defaultName string) {
	fmt.Printf("=== CHANNELS (%d) ===\n", reg.Len())
	fmt.Printf("%-12s %-8s %-7s %-14s %s\n", "NAME", "SHORT", "RANGE", "PERMISSION", "FLAGS")
	for _, c := range reg.All() {
		rng := "all"
		if c.Bounded() {
			rng = fmt.Sprintf("%d", c.Range)
		}
		perm := c.Permission
		if perm == "" {
			perm = "-"
		}
		var flags []string
		if strings.EqualFold(c.Name, defaultName) {
			flags = append(flags, "default")
		}
		if c.AlwaysOn {
			flags = append(flags, "always-on")
		}
		if c.Mature {
			flags = append(flags, "mature")
		}
		if c.IsLocal() {
			flags = append(flags, "local")
		}
		fmt.Printf("%-12s %-8s %-7s %-14s %s\n", c.Name, c.Shortcut, rng, perm, strings.Join(flags, ","))
	}
}

// storeFlags registers the backend selection flags on fs.
func storeFlags(fs *flag.FlagSet, prefix string) *server.StoreConf {
	c := server.DefaultChatConf().Store
	fs.StringVar(&c.Backend, prefix+"backend", envDefault("CHAT_STORE_BACKEND", c.Backend), "Store backend: bolt, sqlite, redis (env: CHAT_STORE_BACKEND)")
	fs.StringVar(&c.Path, prefix+"path", envDefault("CHAT_STORE_PATH", c.Path), "Path to the bolt or sqlite file (env: CHAT_STORE_PATH)")
	fs.StringVar(&c.RedisAddr, prefix+"redis", envDefault("CHAT_REDIS_ADDR", c.RedisAddr), "Redis address (env: CHAT_REDIS_ADDR)")
	fs.StringVar(&c.RedisPrefix, prefix+"redis-prefix", envDefault("CHAT_REDIS_PREFIX", c.RedisPrefix), "Redis key prefix (env: CHAT_REDIS_PREFIX)")
	return &c
}

func runDump(args []string) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	sc := storeFlags(fs, "")
	player := fs.String("player", "", "Only show this player ID")
	fs.Parse(args)

	kv, err := server.OpenStore(*sc)
	if err != nil {
		return err
	}
	defer kv.Close()

	data := make(map[chatdb.PlayerID]map[string]string)
	err = kv.ForEach(func(p chatdb.PlayerID, key, value string) error {
		if *player != "" && string(p) != *player {
			return nil
		}
		if data[p] == nil {
			data[p] = make(map[string]string)
		}
		data[p][key] = value
		return nil
	})
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(data))
	for p := range data {
		ids = append(ids, string(p))
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Printf("%s\n", id)
		keys := make([]string, 0, len(data[chatdb.PlayerID(id)]))
		for k := range data[chatdb.PlayerID(id)] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %-16s %s\n", k, data[chatdb.PlayerID(id)][k])
		}
	}
	fmt.Printf("%d players\n", len(ids))
	return nil
}

func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	from := storeFlags(fs, "from-")
	to := storeFlags(fs, "to-")
	fs.Parse(args)

	if from.Backend == to.Backend && from.Path == to.Path && from.Backend != server.BackendRedis {
		return fmt.Errorf("migrate: source and destination are the same store")
	}
	src, err := server.OpenStore(*from)
	if err != nil {
		return fmt.Errorf("migrate: open source: %w", err)
	}
	defer src.Close()
	dst, err := server.OpenStore(*to)
	if err != nil {
		return fmt.Errorf("migrate: open destination: %w", err)
	}
	defer dst.Close()

	n, err := server.Migrate(src, dst)
	if err != nil {
		return err
	}
	fmt.Printf("Migrated %d entries from %s to %s\n", n, from.Backend, to.Backend)
	return nil
}
