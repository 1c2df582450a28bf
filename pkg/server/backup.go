package server

import (
	"log"
	"path/filepath"

	"github.com/crystal-mush/mushchat/pkg/archive"
	"github.com/crystal-mush/mushchat/pkg/boltstore"
	"github.com/crystal-mush/mushchat/pkg/sqlstore"
)

// ArchiveParams describes a backup of kv: a native snapshot for bolt and
// SQLite stores and a portable export for every backend.
func ArchiveParams(kv Backend, backend, dir string) archive.Params {
	p := archive.Params{Dir: dir, Backend: backend, Export: kv}
	switch s := kv.(type) {
	case *boltstore.Store:
		p.BoltSnapshotFunc = s.Backup
	case *sqlstore.Store:
		p.SQLPath = s.Path()
		p.SQLCheckpointFunc = s.Checkpoint
	}
	return p
}

// Archive saves every online record and writes a backup of the store and
// config files into dir. It returns the archive path.
func (e *Engine) Archive(dir string) (string, error) {
	e.SaveAll()
	p := ArchiveParams(e.kv, e.Conf().Store.Backend, dir)
	p.Channels = e.reg.Len()
	if e.confPath != "" {
		files, err := e.watchedFiles()
		if err == nil {
			p.ConfFiles = files
		}
	}
	path, err := archive.Create(p)
	if err != nil {
		return "", err
	}
	log.Printf("server: archive written to %s", filepath.Base(path))
	return path, nil
}
