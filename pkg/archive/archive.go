// Package archive writes and restores .tar.gz backups of chat data: a native
// snapshot of the bolt or SQLite store when there is one, a portable export
// of every stored player value, and the chat config files.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/crystal-mush/mushchat/pkg/chatdb"
	"github.com/crystal-mush/mushchat/pkg/platform"
	"gopkg.in/yaml.v3"
)

// Archive entry names.
const (
	manifestName = "manifest.json"
	boltName     = "data/chat.bolt"
	sqlName      = "data/chat.sqldb"
	exportName   = "data/players.yaml"
	confPrefix   = "conf/"
)

// Manifest describes the contents of an archive.
type Manifest struct {
	Version   int                  `json:"version"`
	Server    string               `json:"server"`
	Timestamp string               `json:"timestamp"`
	Backend   string               `json:"backend"`
	Players   int                  `json:"players"`
	Channels  int                  `json:"channels"`
	Files     map[string]FileEntry `json:"files"`
}

// FileEntry describes a single file within the archive.
type FileEntry struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
	Type   string `json:"type"` // "bolt", "sql", "export", "conf"
}

// Params holds all inputs needed to create an archive.
type Params struct {
	Dir               string                      // Output directory
	Backend           string                      // Store backend name for the manifest
	BoltSnapshotFunc  func(destPath string) error // Writes a consistent bolt copy (nil = skip)
	SQLPath           string                      // SQLite file to copy (empty = skip)
	SQLCheckpointFunc func() error                // Flushes the WAL before copying (nil = skip)
	Export            platform.Exporter           // Source of the portable export (nil = skip)
	ConfFiles         []string                    // Config and channel files
	Channels          int                         // Loaded channel count for the manifest
}

// export is the portable player data layout: player -> key -> value.
type export struct {
	Players map[chatdb.PlayerID]map[string]string `yaml:"players"`
}

// Create writes a .tar.gz archive of the chat data and returns its path.
func Create(p Params) (string, error) {
	if err := os.MkdirAll(p.Dir, 0755); err != nil {
		return "", fmt.Errorf("archive: create dir %s: %w", p.Dir, err)
	}
	archivePath := filepath.Join(p.Dir, fmt.Sprintf("chat-%s.tar.gz", time.Now().Format("20060102-150405.000")))

	tmpDir, err := os.MkdirTemp("", "mushchat-archive-*")
	if err != nil {
		return "", fmt.Errorf("archive: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	manifest := Manifest{
		Version:   1,
		Server:    "mushchat",
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Backend:   p.Backend,
		Channels:  p.Channels,
		Files:     make(map[string]FileEntry),
	}

	// Stage everything first so a failed snapshot leaves no partial archive.
	staged := map[string]string{} // archive name -> staged path
	if p.BoltSnapshotFunc != nil {
		dst := filepath.Join(tmpDir, "chat.bolt")
		if err := p.BoltSnapshotFunc(dst); err != nil {
			return "", fmt.Errorf("archive: bolt snapshot: %w", err)
		}
		staged[boltName] = dst
	}
	if p.SQLPath != "" {
		if p.SQLCheckpointFunc != nil {
			if err := p.SQLCheckpointFunc(); err != nil {
				return "", fmt.Errorf("archive: sql checkpoint: %w", err)
			}
		}
		dst := filepath.Join(tmpDir, "chat.sqldb")
		if err := copyFile(p.SQLPath, dst); err != nil {
			return "", fmt.Errorf("archive: copy sql: %w", err)
		}
		staged[sqlName] = dst
	}
	if p.Export != nil {
		dst := filepath.Join(tmpDir, "players.yaml")
		n, err := writeExport(p.Export, dst)
		if err != nil {
			return "", err
		}
		manifest.Players = n
		staged[exportName] = dst
	}

	outFile, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("archive: create %s: %w", archivePath, err)
	}
	ok := false
	defer func() {
		outFile.Close()
		if !ok {
			os.Remove(archivePath)
		}
	}()
	gw := gzip.NewWriter(outFile)
	tw := tar.NewWriter(gw)

	for _, name := range []string{boltName, sqlName, exportName} {
		src, present := staged[name]
		if !present {
			continue
		}
		entry, err := addFileToTar(tw, src, name)
		if err != nil {
			return "", err
		}
		entry.Type = fileType(name)
		manifest.Files[name] = entry
	}
	for _, cf := range p.ConfFiles {
		if _, err := os.Stat(cf); err != nil {
			continue
		}
		name := confPrefix + filepath.Base(cf)
		entry, err := addFileToTar(tw, cf, name)
		if err != nil {
			return "", err
		}
		entry.Type = "conf"
		manifest.Files[name] = entry
	}

	// The manifest goes last so it can describe everything before it.
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("archive: marshal manifest: %w", err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    manifestName,
		Size:    int64(len(manifestJSON)),
		Mode:    0644,
		ModTime: time.Now(),
	}); err != nil {
		return "", fmt.Errorf("archive: write manifest header: %w", err)
	}
	if _, err := tw.Write(manifestJSON); err != nil {
		return "", fmt.Errorf("archive: write manifest: %w", err)
	}
	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("archive: close tar: %w", err)
	}
	if err := gw.Close(); err != nil {
		return "", fmt.Errorf("archive: close gzip: %w", err)
	}
	ok = true
	return archivePath, nil
}

func fileType(name string) string {
	switch name {
	case boltName:
		return "bolt"
	case sqlName:
		return "sql"
	case exportName:
		return "export"
	}
	return "conf"
}

// writeExport dumps every stored value to a YAML file and returns the
// number of players written.
func writeExport(src platform.Exporter, path string) (int, error) {
	ex := export{Players: make(map[chatdb.PlayerID]map[string]string)}
	err := src.ForEach(func(player chatdb.PlayerID, key, value string) error {
		if ex.Players[player] == nil {
			ex.Players[player] = make(map[string]string)
		}
		ex.Players[player][key] = value
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("archive: export: %w", err)
	}
	data, err := yaml.Marshal(&ex)
	if err != nil {
		return 0, fmt.Errorf("archive: marshal export: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return 0, fmt.Errorf("archive: write export: %w", err)
	}
	return len(ex.Players), nil
}

// readExport loads a portable export as import entries, ordered by player
// then key.
func readExport(path string) ([]platform.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ex export
	if err := yaml.Unmarshal(data, &ex); err != nil {
		return nil, fmt.Errorf("parse export: %w", err)
	}
	var entries []platform.Entry
	for player, kv := range ex.Players {
		for k, v := range kv {
			entries = append(entries, platform.Entry{Player: player, Key: k, Value: v})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Player != entries[j].Player {
			return entries[i].Player < entries[j].Player
		}
		return entries[i].Key < entries[j].Key
	})
	return entries, nil
}

// Info holds metadata about an existing archive file.
type Info struct {
	Path      string
	Filename  string
	Size      int64
	Timestamp string // From manifest, or file mod time
	Backend   string
	Players   int
	Channels  int
}

// List scans dir for .tar.gz files and returns info about each, newest first.
func List(dir string) ([]Info, error) {
	pattern := filepath.Join(dir, "*.tar.gz")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("archive: glob %s: %w", pattern, err)
	}

	var archives []Info
	for _, path := range matches {
		st, err := os.Stat(path)
		if err != nil {
			continue
		}
		ai := Info{
			Path:      path,
			Filename:  filepath.Base(path),
			Size:      st.Size(),
			Timestamp: st.ModTime().UTC().Format(time.RFC3339Nano),
		}
		if m, err := readManifest(path); err == nil {
			ai.Timestamp = m.Timestamp
			ai.Backend = m.Backend
			ai.Players = m.Players
			ai.Channels = m.Channels
		}
		archives = append(archives, ai)
	}

	// RFC3339 sorts lexically.
	sort.Slice(archives, func(i, j int) bool {
		return archives[i].Timestamp > archives[j].Timestamp
	})
	return archives, nil
}

// readManifest extracts manifest.json from an archive without unpacking it.
func readManifest(archivePath string) (*Manifest, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if hdr.Name != manifestName {
			continue
		}
		var m Manifest
		if err := json.NewDecoder(tr).Decode(&m); err != nil {
			return nil, err
		}
		return &m, nil
	}
	return nil, fmt.Errorf("%s not found in archive", manifestName)
}

// addFileToTar adds srcPath under archName, hashing it while writing.
func addFileToTar(tw *tar.Writer, srcPath, archName string) (FileEntry, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return FileEntry{}, fmt.Errorf("archive: open %s: %w", srcPath, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return FileEntry{}, fmt.Errorf("archive: stat %s: %w", srcPath, err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    strings.ReplaceAll(archName, "\\", "/"),
		Size:    st.Size(),
		Mode:    0644,
		ModTime: st.ModTime(),
	}); err != nil {
		return FileEntry{}, fmt.Errorf("archive: header %s: %w", archName, err)
	}

	h := sha256.New()
	written, err := io.Copy(tw, io.TeeReader(f, h))
	if err != nil {
		return FileEntry{}, fmt.Errorf("archive: write %s: %w", archName, err)
	}
	return FileEntry{SHA256: hex.EncodeToString(h.Sum(nil)), Size: written}, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
