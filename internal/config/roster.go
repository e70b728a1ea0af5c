package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/loomchat/loom/internal/logging"
	"github.com/loomchat/loom/pkg/types"
)

// rosterFile is the on-disk shape of a default agent roster.
type rosterFile struct {
	Agents []types.AgentSpec `json:"agents" yaml:"agents"`
}

// LoadRoster reads the default agent roster from a JSON or YAML file.
func LoadRoster(path string) ([]types.AgentSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read roster %s: %w", path, err)
	}

	var file rosterFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("config: parse roster %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(data), &file); err != nil {
			return nil, fmt.Errorf("config: parse roster %s: %w", path, err)
		}
	}

	for i := range file.Agents {
		file.Agents[i].Trigger = file.Agents[i].Trigger.Normalize()
		if file.Agents[i].Method == "" {
			file.Agents[i].Method = "POST"
		}
	}
	return file.Agents, nil
}

// WatchRoster reloads the roster whenever the file changes and hands the new
// specs to apply. The returned function stops the watcher. Reload errors are
// logged and the previous roster stays in effect.
func WatchRoster(path string, apply func([]types.AgentSpec)) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	// Watch the directory: editors replace files by rename, which would
	// silently drop a watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	target := filepath.Clean(path)
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				specs, err := LoadRoster(path)
				if err != nil {
					logging.Warn().Str("path", path).Err(err).Msg("roster reload failed")
					continue
				}
				logging.Info().Str("path", path).Int("agents", len(specs)).Msg("roster reloaded")
				apply(specs)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn().Err(err).Msg("roster watcher error")
			}
		}
	}()

	return watcher.Close, nil
}
