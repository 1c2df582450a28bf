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
	"strings"

	"github.com/crystal-mush/mushchat/pkg/platform"
)

// RestoreParams holds all inputs needed to restore an archive.
type RestoreParams struct {
	ArchivePath string
	// BoltDest and SQLDest receive the native snapshot of the matching
	// kind, if the archive has one.
	BoltDest string
	SQLDest  string
	// Import loads the portable export when no native snapshot was
	// restored (nil = skip).
	Import func(entries []platform.Entry) error
	// ConfDir receives the archived config files (empty = skip). Existing
	// files that differ are kept unless Overwrite is set.
	ConfDir   string
	Overwrite bool
}

// RestoreResult summarizes a completed restore.
type RestoreResult struct {
	Manifest      Manifest
	FilesRestored int
	Imported      int // entries loaded from the portable export
	Warnings      []string
}

// Restore extracts and verifies an archive, then restores its contents.
func Restore(p RestoreParams) (*RestoreResult, error) {
	tmpDir, err := os.MkdirTemp("", "mushchat-restore-*")
	if err != nil {
		return nil, fmt.Errorf("restore: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := extractArchive(p.ArchivePath, tmpDir); err != nil {
		return nil, fmt.Errorf("restore: extract: %w", err)
	}
	data, err := os.ReadFile(filepath.Join(tmpDir, manifestName))
	if err != nil {
		return nil, fmt.Errorf("restore: %s not found in archive", manifestName)
	}
	result := &RestoreResult{}
	if err := json.Unmarshal(data, &result.Manifest); err != nil {
		return nil, fmt.Errorf("restore: parse manifest: %w", err)
	}

	// Verify everything before touching any destination.
	for name, entry := range result.Manifest.Files {
		ok, err := validateChecksum(filepath.Join(tmpDir, filepath.FromSlash(name)), entry.SHA256)
		if err != nil {
			return nil, fmt.Errorf("restore: checksum %s: %w", name, err)
		}
		if !ok {
			return nil, fmt.Errorf("restore: checksum mismatch for %s, archive may be corrupt", name)
		}
	}

	native := false
	for _, r := range []struct{ name, dest string }{
		{boltName, p.BoltDest},
		{sqlName, p.SQLDest},
	} {
		src := filepath.Join(tmpDir, filepath.FromSlash(r.name))
		if r.dest == "" {
			continue
		}
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(r.dest), 0755); err != nil {
			return nil, fmt.Errorf("restore: create dir for %s: %w", r.dest, err)
		}
		if err := copyFile(src, r.dest); err != nil {
			return nil, fmt.Errorf("restore: copy %s: %w", r.name, err)
		}
		result.FilesRestored++
		native = true
	}

	exportPath := filepath.Join(tmpDir, filepath.FromSlash(exportName))
	if !native && p.Import != nil {
		if _, err := os.Stat(exportPath); err == nil {
			entries, err := readExport(exportPath)
			if err != nil {
				return nil, fmt.Errorf("restore: %w", err)
			}
			if err := p.Import(entries); err != nil {
				return nil, fmt.Errorf("restore: import: %w", err)
			}
			result.Imported = len(entries)
		}
	}
	if !native && result.Imported == 0 && (p.BoltDest != "" || p.SQLDest != "" || p.Import != nil) {
		result.Warnings = append(result.Warnings, "archive holds no player data for the requested destination")
	}

	if p.ConfDir != "" {
		if err := restoreConf(tmpDir, p, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func restoreConf(tmpDir string, p RestoreParams, result *RestoreResult) error {
	confSrc := filepath.Join(tmpDir, strings.TrimSuffix(confPrefix, "/"))
	entries, err := os.ReadDir(confSrc)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore: read conf dir: %w", err)
	}
	if err := os.MkdirAll(p.ConfDir, 0755); err != nil {
		return fmt.Errorf("restore: create conf dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		src := filepath.Join(confSrc, entry.Name())
		dst := filepath.Join(p.ConfDir, entry.Name())
		same, err := sameContent(src, dst)
		if err != nil {
			return fmt.Errorf("restore: compare %s: %w", entry.Name(), err)
		}
		if same {
			continue
		}
		if _, err := os.Stat(dst); err == nil && !p.Overwrite {
			result.Warnings = append(result.Warnings, fmt.Sprintf("kept current config: %s", entry.Name()))
			continue
		}
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("restore: copy conf %s: %w", entry.Name(), err)
		}
		result.FilesRestored++
	}
	return nil
}

// sameContent reports whether dst exists with the same bytes as src.
func sameContent(src, dst string) (bool, error) {
	want, err := os.ReadFile(src)
	if err != nil {
		return false, err
	}
	have, err := os.ReadFile(dst)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return string(want) == string(have), nil
}

// extractArchive extracts a .tar.gz into destDir.
func extractArchive(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		// Reject entries that would escape destDir.
		target := filepath.Join(destDir, filepath.FromSlash(hdr.Name))
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("invalid archive entry: %s", hdr.Name)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
	}
}

// validateChecksum checks a file's SHA-256 against the expected hex string.
func validateChecksum(path, expected string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	return hex.EncodeToString(h.Sum(nil)) == expected, nil
}
