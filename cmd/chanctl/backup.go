package main

import (
	"flag"
	"fmt"

	"github.com/crystal-mush/mushchat/pkg/archive"
	"github.com/crystal-mush/mushchat/pkg/platform"
	"github.com/crystal-mush/mushchat/pkg/server"
)

func runBackup(args []string) error {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	sc := storeFlags(fs, "")
	dir := fs.String("dir", envDefault("CHAT_ARCHIVE_DIR", "archives"), "Archive output directory (env: CHAT_ARCHIVE_DIR)")
	confFile := fs.String("conf", envDefault("CHAT_CONF", ""), "Chat config file to include (env: CHAT_CONF)")
	fs.Parse(args)

	kv, err := server.OpenStore(*sc)
	if err != nil {
		return err
	}
	defer kv.Close()

	p := server.ArchiveParams(kv, sc.Backend, *dir)
	if *confFile != "" {
		conf, err := server.LoadChatConf(*confFile)
		if err != nil {
			return err
		}
		p.Channels = len(conf.Channels)
		p.ConfFiles = append([]string{*confFile}, conf.ChannelFiles...)
	}
	path, err := archive.Create(p)
	if err != nil {
		return err
	}
	fmt.Printf("Archive written: %s\n", path)
	return nil
}

func runArchives(args []string) error {
	fs := flag.NewFlagSet("archives", flag.ExitOnError)
	dir := fs.String("dir", envDefault("CHAT_ARCHIVE_DIR", "archives"), "Archive directory (env: CHAT_ARCHIVE_DIR)")
	fs.Parse(args)

	infos, err := archive.List(*dir)
	if err != nil {
		return err
	}
	fmt.Printf("%-36s %-8s %8s %8s %10s\n", "ARCHIVE", "BACKEND", "PLAYERS", "CHANNELS", "SIZE")
	for _, ai := range infos {
		fmt.Printf("%-36s %-8s %8d %8d %10d\n", ai.Filename, ai.Backend, ai.Players, ai.Channels, ai.Size)
	}
	return nil
}

func runRestore(args []string) error {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	sc := storeFlags(fs, "")
	from := fs.String("archive", "", "Archive to restore")
	confDir := fs.String("confdir", "", "Directory to restore config files into")
	overwrite := fs.Bool("overwrite", false, "Replace config files that differ from the archive")
	fs.Parse(args)
	if *from == "" {
		return fmt.Errorf("restore: -archive is required")
	}

	p := archive.RestoreParams{ArchivePath: *from, ConfDir: *confDir, Overwrite: *overwrite}
	switch sc.Backend {
	case server.BackendBolt:
		p.BoltDest = sc.Path
	case server.BackendSQLite:
		p.SQLDest = sc.Path
	}
	// Without a matching native snapshot, load the portable export.
	p.Import = func(entries []platform.Entry) error {
		kv, err := server.OpenStore(*sc)
		if err != nil {
			return err
		}
		defer kv.Close()
		return kv.Import(entries)
	}

	res, err := archive.Restore(p)
	if err != nil {
		return err
	}
	fmt.Printf("Restored %d files, imported %d entries from %s archive (%s)\n",
		res.FilesRestored, res.Imported, res.Manifest.Backend, res.Manifest.Timestamp)
	for _, w := range res.Warnings {
		fmt.Printf("WARNING: %s\n", w)
	}
	return nil
}
