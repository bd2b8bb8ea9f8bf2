// Package watchlist keeps a file of addresses resolved: every address in the
// file is re-resolved on a fixed interval and whenever the file changes.
package watchlist

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	logging "github.com/ipfs/go-log/v2"

	"github.com/ipshipyard/dnsbl-cache/resolver"
)

var log = logging.Logger("dnsbl/watchlist")

const defaultRefresh = time.Hour

// Processor resolves a batch of addresses.
type Processor interface {
	Process(ctx context.Context, addrs []string) []resolver.Outcome
}

// Config holds configuration for a file-based watchlist.
type Config struct {
	Path    string        // absolute or relative path to file
	BaseDir string        // base directory for relative paths
	Refresh time.Duration // re-resolve interval (default: 1h)
}

// Watchlist re-resolves the addresses listed in a file.
type Watchlist struct {
	path    string
	name    string
	refresh time.Duration
	proc    Processor

	watcher *fsnotify.Watcher
	addrs   []string
	lastRun time.Time
	mu      sync.RWMutex

	reload    chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New loads the file, starts watching it and resolves its addresses in the
// background, first immediately and then every cfg.Refresh.
func New(cfg Config, proc Processor) (*Watchlist, error) {
	path := cfg.Path
	if !filepath.IsAbs(path) && cfg.BaseDir != "" {
		path = filepath.Join(cfg.BaseDir, path)
	}

	refresh := cfg.Refresh
	if refresh <= 0 {
		refresh = defaultRefresh
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watchlist{
		path:    path,
		name:    filepath.Base(path),
		refresh: refresh,
		proc:    proc,
		reload:  make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	if err := w.load(); err != nil {
		cancel()
		return nil, err
	}
	log.Infof("watchlist %s: loaded %d addresses", w.name, len(w.Addresses()))

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, err
	}
	w.watcher = watcher

	// Watch the directory (more reliable than watching the file directly)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		cancel()
		return nil, err
	}

	go w.run()

	return w, nil
}

func (w *Watchlist) load() error {
	addrs, err := parseFile(w.path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.addrs = addrs
	w.mu.Unlock()
	updateEntries(w.name, len(addrs))
	return nil
}

// Addresses returns the addresses currently listed.
func (w *Watchlist) Addresses() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.addrs...)
}

// LastRun returns when the addresses were last resolved.
func (w *Watchlist) LastRun() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastRun
}

// resolveAll resolves the current addresses once.
func (w *Watchlist) resolveAll() {
	addrs := w.Addresses()
	outcomes := w.proc.Process(w.ctx, addrs)

	var failed int
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}

	now := time.Now()
	w.mu.Lock()
	w.lastRun = now
	w.mu.Unlock()
	updateLastRun(w.name, now.Unix())

	if failed > 0 {
		log.Warnf("watchlist %s: %d of %d addresses failed", w.name, failed, len(addrs))
	} else {
		log.Infof("watchlist %s: resolved %d addresses", w.name, len(addrs))
	}
}

func (w *Watchlist) run() {
	defer close(w.done)

	go w.watchLoop()

	w.resolveAll()

	ticker := time.NewTicker(w.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.resolveAll()
		case <-w.reload:
			w.resolveAll()
		}
	}
}

func (w *Watchlist) watchLoop() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			// Only reload if our file was modified
			if filepath.Base(event.Name) != w.name {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				// Small delay to let writes complete
				time.Sleep(100 * time.Millisecond)
				if err := w.load(); err != nil {
					log.Warnf("watchlist %s: reload failed: %v", w.name, err)
					continue
				}
				log.Infof("watchlist %s: reloaded, %d addresses", w.name, len(w.Addresses()))
				select {
				case w.reload <- struct{}{}:
				default:
				}
			}
		case err, ok := <-w.watcher.Errors:
			if ok && err != nil {
				log.Warnf("watchlist %s: watcher error: %v", w.name, err)
			}
		}
	}
}

// Close stops watching and waits for a running resolution to finish. Safe to
// call multiple times.
func (w *Watchlist) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.cancel()
		err = w.watcher.Close()
		<-w.done
	})
	return err
}
