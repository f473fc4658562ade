package alerts

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watch reloads the rule file whenever it is written and hands the new rules
// to onChange. A file that fails to parse is logged and the previous rules
// stay active. Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, logger zerolog.Logger, onChange func([]Rule)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}
	logger.Info().Str("path", path).Msg("watching alert rules")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors often save via rename, which shows up as Create.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			rules, err := LoadRules(path)
			if err != nil {
				logger.Error().Err(err).Str("path", path).Msg("alert rule reload failed, keeping previous rules")
				continue
			}
			logger.Info().Str("path", path).Int("rules", len(rules)).Msg("alert rules reloaded")
			onChange(rules)

			// Re-add in case an atomic save replaced the inode.
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error().Err(err).Msg("alert rule watcher error")
		}
	}
}
