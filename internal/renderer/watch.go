package renderer

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// watchOutputDir is a supplemental progress signal: it logs when the
// render binary writes a new file into the per-task output directory.
// This never substitutes for the canonical stdout-line-based completion
// detection in run — it exists only to give operators a second, file-level
// view of progress for slow frame ranges where stdout goes quiet between
// frames.
func (s *Supervisor) watchOutputDir() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Debug("output dir watch unavailable", "error", err)
		return
	}
	if err := watcher.Add(s.outputDir); err != nil {
		s.logger.Debug("watching output dir failed", "error", err)
		watcher.Close()
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					s.logger.Debug("output file event", "path", ev.Name, "op", ev.Op.String())
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Debug("output dir watch error", "error", err)
			case <-s.watchDone():
				return
			}
		}
	}()
}

// watchDone returns a channel that closes once the render goroutine has
// exited, so watchOutputDir's goroutine does not outlive the task.
func (s *Supervisor) watchDone() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		s.renderWG.Wait()
		close(done)
	}()
	return done
}
