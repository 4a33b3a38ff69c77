package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/kinrule/internal/compiler"
	"github.com/roach88/kinrule/internal/rules"
)

// DefaultReloadDebounce batches the burst of events an editor emits on save.
const DefaultReloadDebounce = 300 * time.Millisecond

// ruleReloader swaps the active rule set. Implemented by *engine.Engine.
type ruleReloader interface {
	Reload(set []rules.Rule) bool
}

// watchRules recompiles the rules directory whenever a .cue file changes
// and hands the new set to r. A set that fails to compile is logged and
// the previous set stays active. Blocks until ctx is cancelled.
func watchRules(ctx context.Context, logger *slog.Logger, dir string, r ruleReloader, debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	logger.Info("watching rules", "dir", dir)

	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isRuleChange(ev) {
				continue
			}
			logger.Debug("rules changed", "file", ev.Name, "op", ev.Op.String())
			reload = time.After(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("rules watcher error", "error", err)

		case <-reload:
			reload = nil
			set, err := compiler.LoadRuleSet(dir)
			if err != nil {
				logger.Error("rules reload failed, keeping previous rules", "error", err)
				continue
			}
			if !r.Reload(set) {
				return nil
			}
			logger.Info("rules reloaded", "rules", len(set))
		}
	}
}

func isRuleChange(ev fsnotify.Event) bool {
	if filepath.Ext(ev.Name) != ".cue" {
		return false
	}
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}
