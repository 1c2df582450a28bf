package server

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay collapses the burst of events an editor save produces.
var reloadDelay = 250 * time.Millisecond

// watchedFiles returns the config file and its channel files as absolute
// paths.
func (e *Engine) watchedFiles() ([]string, error) {
	confFile, err := filepath.Abs(e.confPath)
	if err != nil {
		return nil, err
	}
	files := []string{confFile}
	dir := filepath.Dir(confFile)
	for _, f := range e.Conf().ChannelFiles {
		if !filepath.IsAbs(f) {
			f = filepath.Join(dir, f)
		}
		files = append(files, filepath.Clean(f))
	}
	return files, nil
}

// WatchConfig reloads the configuration whenever the config file or one of
// its channel files changes on disk, until ctx is done. The directories are
// watched rather than the files so editors that replace on save are seen.
func (e *Engine) WatchConfig(ctx context.Context) error {
	if e.confPath == "" {
		return fmt.Errorf("server: engine has no config file")
	}
	files, err := e.watchedFiles()
	if err != nil {
		return fmt.Errorf("server: watch config: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("server: watch config: %w", err)
	}
	tracked := make(map[string]bool, len(files))
	dirs := make(map[string]bool)
	for _, f := range files {
		tracked[f] = true
		dirs[filepath.Dir(f)] = true
	}
	for d := range dirs {
		if err := watcher.Add(d); err != nil {
			watcher.Close()
			return fmt.Errorf("server: watch %s: %w", d, err)
		}
	}

	var mu sync.Mutex
	var pending *time.Timer
	schedule := func() {
		mu.Lock()
		defer mu.Unlock()
		if pending != nil {
			pending.Stop()
		}
		pending = time.AfterFunc(reloadDelay, func() {
			if ctx.Err() != nil {
				return
			}
			report, err := e.ReloadFile()
			if err == nil {
				log.Printf("watcher: reloaded chat config (%d channels, %d rejected)", report.Loaded, len(report.Rejected))
			}
		})
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				mu.Lock()
				if pending != nil {
					pending.Stop()
				}
				mu.Unlock()
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if !tracked[filepath.Clean(event.Name)] {
					continue
				}
				log.Printf("watcher: config file changed: %s", filepath.Base(event.Name))
				schedule()

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("watcher: error: %v", err)
			}
		}
	}()
	return nil
}
