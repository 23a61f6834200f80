// SPDX-License-Identifier: MIT

package audiofetch

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/tubescribe/tubescribe/internal/log"
)

// CookieJar tracks an operator-supplied cookies.txt file. The file is
// watched so the operator can rotate cookies without a restart; the
// cookie-file strategy only runs while the file is present and non-empty.
type CookieJar struct {
	path string

	mu        sync.Mutex
	available bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewCookieJar starts watching path. An empty path yields a jar that is
// never available.
func NewCookieJar(path string) *CookieJar {
	j := &CookieJar{path: path, done: make(chan struct{})}
	if path == "" {
		close(j.done)
		return j
	}
	j.refresh()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithComponent("audiofetch").Warn().Err(err).Msg("cookie watcher unavailable, file checked once")
		close(j.done)
		return j
	}
	// Watch the directory: editors and scp replace the file, which drops
	// a watch set on the file itself.
	if err := w.Add(filepath.Dir(path)); err != nil {
		log.WithComponent("audiofetch").Warn().Err(err).Str(log.FieldPath, path).Msg("cookie dir watch failed")
		_ = w.Close()
		close(j.done)
		return j
	}
	j.watcher = w
	go j.loop()
	return j
}

func (j *CookieJar) loop() {
	defer close(j.done)
	for {
		select {
		case ev, ok := <-j.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) == filepath.Clean(j.path) {
				j.refresh()
				log.WithComponent("audiofetch").Info().
					Str(log.FieldPath, j.path).
					Bool("available", j.Available()).
					Msg("cookie file changed")
			}
		case _, ok := <-j.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (j *CookieJar) refresh() {
	info, err := os.Stat(j.path)
	ok := err == nil && !info.IsDir() && info.Size() > 0

	j.mu.Lock()
	j.available = ok
	j.mu.Unlock()
}

// Available reports whether the cookie file is currently usable.
func (j *CookieJar) Available() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.available
}

// Path returns the configured cookie file path.
func (j *CookieJar) Path() string { return j.path }

// Close stops the watcher.
func (j *CookieJar) Close() {
	if j.watcher != nil {
		_ = j.watcher.Close()
		<-j.done
	}
}
