package daemon

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/Ajith-Anand-R/VANGUARD/internal/store"
)

// WatchState tracks file modification times and hashes.
type WatchState struct {
	Path     string `json:"path"`
	ModTime  string `json:"mod_time"`
	Hash     string `json:"hash"`
	LastSeen string `json:"last_seen"`
}

// watchFile checks if a single file has changed since last check.
func watchFile(ctx context.Context, st *store.Store, filePath, kvKey string) (bool, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return false, err
		}
		stateJSON, err := st.GetKV(ctx, kvKey)
		if err != nil {
			return false, fmt.Errorf("get watch state: %w", err)
		}
		if stateJSON == "" {
			return false, nil
		}
		// Deleted since the last check. Forget it so the deletion reports once.
		if err := st.SetKV(ctx, kvKey, ""); err != nil {
			return false, fmt.Errorf("clear watch state: %w", err)
		}
		return true, nil
	}

	hash, err := hashFile(filePath)
	if err != nil {
		return false, fmt.Errorf("hash file: %w", err)
	}

	stateJSON, err := st.GetKV(ctx, kvKey)
	if err != nil {
		return false, fmt.Errorf("get watch state: %w", err)
	}
	var prevState WatchState
	if stateJSON != "" {
		if err := json.Unmarshal([]byte(stateJSON), &prevState); err != nil {
			return false, fmt.Errorf("parse watch state: %w", err)
		}
	}
	changed := prevState.Hash != hash

	newState := WatchState{
		Path:     filePath,
		ModTime:  info.ModTime().UTC().Format(time.RFC3339),
		Hash:     hash,
		LastSeen: time.Now().UTC().Format(time.RFC3339),
	}
	newStateJSON, err := json.Marshal(newState)
	if err != nil {
		return false, fmt.Errorf("marshal watch state: %w", err)
	}
	if err := st.SetKV(ctx, kvKey, string(newStateJSON)); err != nil {
		return false, fmt.Errorf("save watch state: %w", err)
	}
	return changed, nil
}

// watchDirectory reports the JSON files in dirPath that are new or changed
// since the last check, sorted. Deleted files are forgotten.
func watchDirectory(ctx context.Context, st *store.Store, dirPath, kvKeyPrefix string) ([]string, error) {
	currentFiles := make(map[string]WatchState)
	err := filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".json") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hash, err := hashFile(path)
		if err != nil {
			return fmt.Errorf("hash file %s: %w", path, err)
		}
		currentFiles[path] = WatchState{
			Path:     path,
			ModTime:  info.ModTime().UTC().Format(time.RFC3339),
			Hash:     hash,
			LastSeen: time.Now().UTC().Format(time.RFC3339),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}

	stateKey := kvKeyPrefix + "_state"
	stateJSON, err := st.GetKV(ctx, stateKey)
	if err != nil {
		return nil, fmt.Errorf("get watch state: %w", err)
	}
	prevFiles := make(map[string]WatchState)
	if stateJSON != "" {
		if err := json.Unmarshal([]byte(stateJSON), &prevFiles); err != nil {
			return nil, fmt.Errorf("parse watch state: %w", err)
		}
	}

	var changedFiles []string
	for path, currentState := range currentFiles {
		prevState, existed := prevFiles[path]
		if !existed || prevState.Hash != currentState.Hash {
			changedFiles = append(changedFiles, path)
		}
	}
	sort.Strings(changedFiles)

	newStateJSON, err := json.Marshal(currentFiles)
	if err != nil {
		return nil, fmt.Errorf("marshal watch state: %w", err)
	}
	if err := st.SetKV(ctx, stateKey, string(newStateJSON)); err != nil {
		return nil, fmt.Errorf("save watch state: %w", err)
	}
	return changedFiles, nil
}

// hashFile computes the BLAKE3 hash of a file's contents.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// fileWatcher delivers filesystem events for a set of files and directories.
// Parent directories are watched so editors that replace files atomically are
// still seen.
type fileWatcher struct {
	watcher *fsnotify.Watcher
	files   map[string]bool
	dirs    map[string]bool
	logger  *zap.Logger
}

func newFileWatcher(logger *zap.Logger, files, dirs []string) (*fileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	fw := &fileWatcher{watcher: w, files: map[string]bool{}, dirs: map[string]bool{}, logger: logger}
	added := map[string]bool{}
	add := func(dir string) error {
		if added[dir] {
			return nil
		}
		added[dir] = true
		return w.Add(dir)
	}
	for _, f := range files {
		f = filepath.Clean(f)
		fw.files[f] = true
		if err := add(filepath.Dir(f)); err != nil {
			w.Close()
			return nil, fmt.Errorf("watch %s: %w", filepath.Dir(f), err)
		}
	}
	for _, d := range dirs {
		d = filepath.Clean(d)
		fw.dirs[d] = true
		if err := add(d); err != nil {
			w.Close()
			return nil, fmt.Errorf("watch %s: %w", d, err)
		}
	}
	return fw, nil
}

// run calls onFile for writes to a watched file and onDir for changes inside
// a watched directory, until ctx is done.
func (fw *fileWatcher) run(ctx context.Context, onFile, onDir func(path string)) {
	defer fw.watcher.Close()
	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&relevant == 0 {
				continue
			}
			name := filepath.Clean(ev.Name)
			switch {
			case fw.files[name]:
				onFile(name)
			case fw.dirs[filepath.Dir(name)]:
				onDir(name)
			}
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn("file watch error", zap.Error(err))
		}
	}
}
