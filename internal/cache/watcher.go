package cache

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"

	"github.com/timepulse/timepulse/pkg/logger"
)

// ManifestWatcher reloads the manifest file when it changes on disk and
// hands changed manifests to a callback.
type ManifestWatcher struct {
	fs       afero.Fs
	path     string
	debounce time.Duration
	onChange func(Manifest)
	log      logger.Logger

	fsw     *fsnotify.Watcher
	current Manifest

	wg        sync.WaitGroup
	closeMu   sync.Mutex
	closed    bool
	cancel    context.CancelFunc
	timerMu   sync.Mutex
	debounceT *time.Timer
}

// NewManifestWatcher watches the directory holding path and rereads the
// manifest through fsys. Editors replace files by rename, so the file itself
// is not watched directly.
func NewManifestWatcher(fsys afero.Fs, path string, current Manifest, l logger.Logger, onChange func(Manifest)) (*ManifestWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}
	return &ManifestWatcher{
		fs:       fsys,
		path:     filepath.Clean(path),
		debounce: 200 * time.Millisecond,
		onChange: onChange,
		log:      logger.WithPrefix(l, "manifest"),
		fsw:      fsw,
		current:  current,
	}, nil
}

// Start processes events until ctx is done or Close is called.
func (w *ManifestWatcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
}

func (w *ManifestWatcher) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			w.schedule()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warning("watch error: %v", err)
		}
	}
}

func (w *ManifestWatcher) schedule() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.debounceT != nil {
		w.debounceT.Stop()
	}
	w.debounceT = time.AfterFunc(w.debounce, w.reload)
}

func (w *ManifestWatcher) reload() {
	m, err := LoadManifest(w.fs, w.path)
	if err != nil {
		w.log.Warning("ignoring manifest change: %v", err)
		return
	}
	w.timerMu.Lock()
	changed := !m.Equal(w.current)
	if changed {
		w.current = m
	}
	w.timerMu.Unlock()
	if !changed {
		return
	}
	w.log.Info("manifest changed, version %s", m.Version)
	w.onChange(m)
}

// Close stops watching.
func (w *ManifestWatcher) Close() error {
	w.closeMu.Lock()
	if w.closed {
		w.closeMu.Unlock()
		return nil
	}
	w.closed = true
	w.closeMu.Unlock()

	if w.cancel != nil {
		w.cancel()
	}
	err := w.fsw.Close()
	w.wg.Wait()
	w.timerMu.Lock()
	if w.debounceT != nil {
		w.debounceT.Stop()
	}
	w.timerMu.Unlock()
	return err
}
