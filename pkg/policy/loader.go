package policy

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/Raoof128/ILAE/pkg/engine"
)

// Load reads and validates a rule file. Unknown fields are rejected so a
// misspelled section cannot silently grant nothing.
func Load(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewPolicyError("cannot read rule file", err)
	}
	return Parse(data)
}

// Parse decodes and validates rule file contents.
func Parse(data []byte) (*RuleSet, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var rules RuleSet
	if err := dec.Decode(&rules); err != nil {
		return nil, engine.NewPolicyError("cannot parse rule file", err)
	}
	if err := rules.Validate(); err != nil {
		return nil, engine.NewPolicyError("rule file rejected", err)
	}
	return &rules, nil
}

// Watcher reloads a rule file into a resolver when it changes on disk. A
// reload that fails validation keeps the previous snapshot.
type Watcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Watch starts watching the rule file. Editors typically replace files by
// rename, so the watch is on the containing directory.
func Watch(path string, resolver *Resolver, logger zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("cannot create rule watcher: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("cannot resolve rule file path: %w", err)
	}
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("cannot watch rule directory: %w", err)
	}

	log := logger.With().Str("component", "policy").Str("path", absPath).Logger()
	w := &Watcher{watcher: fsw, done: make(chan struct{})}

	go func() {
		defer close(w.done)
		for {
			select {
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != absPath {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				rules, err := Load(absPath)
				if err != nil {
					log.Warn().Err(err).Msg("rule reload rejected, keeping previous snapshot")
					continue
				}
				if err := resolver.Swap(rules); err != nil {
					log.Warn().Err(err).Msg("rule reload rejected, keeping previous snapshot")
					continue
				}
				log.Info().Msg("rule set reloaded")
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("rule watcher error")
			}
		}
	}()

	return w, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
