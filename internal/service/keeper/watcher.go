package keeper

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/oshokin/alarm-keeper/internal/logger"
)

const (
	// reloadDebounce absorbs the burst of events an editor save produces.
	reloadDebounce = 250 * time.Millisecond

	restartBackoffBase = 250 * time.Millisecond
	restartBackoffMax  = 5 * time.Second
)

// watchFile signals changed after path was written, created, renamed or
// removed, debounced. It watches the parent directory so editors that
// replace the file are followed. A broken watcher is recreated with a
// jittered backoff. It returns when ctx is done.
func watchFile(ctx context.Context, path string, changed chan<- struct{}) {
	dir := filepath.Dir(path)
	file := filepath.Base(path)
	backoff := restartBackoffBase

	signal := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}

	debounce := time.AfterFunc(time.Hour, signal)
	debounce.Stop()

	defer debounce.Stop()

	wait := func() bool {
		delay := backoff + rand.N(backoff/2+1)
		backoff = min(backoff*2, restartBackoffMax)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
			return true
		}
	}

	for ctx.Err() == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			logger.WarnKV(ctx, "Schedule file watch init failed", "dir", dir, "error", err)

			if !wait() {
				return
			}

			continue
		}

		if err := w.Add(dir); err != nil {
			_ = w.Close()

			logger.WarnKV(ctx, "Schedule file watch add failed", "dir", dir, "error", err)

			if !wait() {
				return
			}

			continue
		}

		backoff = restartBackoffBase

		logger.DebugKV(ctx, "Schedule file watcher started", "dir", dir, "file", file)

		watchLoop(ctx, w, file, func() { debounce.Reset(reloadDebounce) })

		_ = w.Close()

		if ctx.Err() != nil {
			return
		}

		logger.WarnKV(ctx, "Schedule file watcher stopped, restarting", "dir", dir)

		if !wait() {
			return
		}
	}
}

// watchLoop runs until ctx is done or w breaks.
func watchLoop(ctx context.Context, w *fsnotify.Watcher, file string, touched func()) {
	const interesting = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}

			if strings.EqualFold(filepath.Base(ev.Name), file) && ev.Op&interesting != 0 {
				touched()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}

			// Events may be lost: reload once and keep going.
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				logger.WarnKV(ctx, "Schedule file watch overflow, forcing reload", "error", err)
				touched()

				continue
			}

			logger.WarnKV(ctx, "Schedule file watch error", "error", err)
		}
	}
}
