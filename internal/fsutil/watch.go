package fsutil

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WaitForQuiet blocks until no image or RAW file anywhere under dir has been
// created or written for the quiet duration. Subdirectories created while
// waiting are watched too. It is used before stitching a directory
// that a camera or sync tool may still be filling. A non-positive quiet
// returns immediately.
func WaitForQuiet(ctx context.Context, dir string, quiet time.Duration) error {
	if quiet <= 0 {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watchTree(watcher, dir); err != nil {
		return err
	}
	slog.Debug("waiting for directory to settle", "dir", dir, "quiet", quiet)

	timer := time.NewTimer(quiet)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watchTree(watcher, event.Name); err != nil {
						slog.Warn("failed to watch new directory", "dir", event.Name, "error", err)
					}
					continue
				}
			}
			if !IsImageFile(event.Name) && !IsRAWFile(event.Name) {
				continue
			}
			slog.Debug("directory still changing", "path", event.Name, "op", event.Op.String())
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(quiet)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("filesystem watcher error", "dir", dir, "error", err)
		}
	}
}

// watchTree adds root and every directory below it to watcher.
func watchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
