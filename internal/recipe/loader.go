package recipe

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// LoadFile reads one recipe from a JSON file.
func LoadFile(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recipe: %w", err)
	}
	r, err := ParseRecipe(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if r.Name == "" {
		r.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return r, nil
}

// LoadDir reads every *.json recipe in a directory.
func LoadDir(dir string) ([]*Recipe, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read recipe dir: %w", err)
	}
	var out []*Recipe
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		r, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Watch reloads a recipe file whenever it changes and delivers it on the
// returned channel until stop is closed. Broken intermediate saves are
// logged and skipped.
func Watch(path string, stop <-chan struct{}, log *zap.Logger) (<-chan *Recipe, error) {
	if log == nil {
		log = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: editors replace files on save, which drops
	// watches registered on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	out := make(chan *Recipe, 1)
	go func() {
		defer close(out)
		defer watcher.Close()
		target := filepath.Clean(path)
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				r, err := LoadFile(path)
				if err != nil {
					log.Warn("recipe reload skipped", zap.String("path", path), zap.Error(err))
					continue
				}
				select {
				case out <- r:
				case <-stop:
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("recipe watcher error", zap.Error(err))
			}
		}
	}()
	return out, nil
}
