// Package profile loads named sets of potentiometer values from YAML files
// and re-applies them whenever such a file changes.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
	"lautenbacher.net/potchain/frame"
)

// Profile is the content of a profile file.
type Profile struct {
	Values []uint16 `yaml:"Values"`
}

// Load reads and checks a profile file. Value ranges are left to the device.
func Load(path string) (*Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var p Profile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	if len(p.Values) != frame.Channels {
		return nil, fmt.Errorf("profile %s: Values must list %d entries, got %d", path, frame.Channels, len(p.Values))
	}
	return &p, nil
}

// Watch applies the profile at path once and then again after every change
// to the file, waiting for debounce to pass without further events. A file
// that fails to load is logged and skipped; an apply error ends the watch.
// Watch returns nil when ctx is cancelled.
func Watch(ctx context.Context, path string, debounce time.Duration, apply func(*Profile) error) error {
	p, err := Load(path)
	if err != nil {
		return err
	}
	if err := apply(p); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory so editors that replace the file are seen.
	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}
	slog.Info("Watching profile", "file", target)

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			slog.Debug("Profile changed", "event", event.Op.String())
			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watching %s: %w", target, err)
		case <-timer.C:
			p, err := Load(target)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					slog.Debug("Profile missing, waiting", "file", target)
				} else {
					slog.Warn("Ignoring invalid profile", "error", err)
				}
				continue
			}
			if err := apply(p); err != nil {
				return err
			}
			slog.Info("Profile applied", "file", target, "values", p.Values)
		}
	}
}
