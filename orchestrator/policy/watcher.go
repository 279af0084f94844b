// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package policy

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-redis/redis/v8"
)

// Watcher triggers Engine.Reload on file changes, Redis notifications and a
// periodic poll, whichever are configured.
type Watcher struct {
	engine   *Engine
	file     string
	redisSrc *RedisSource
	interval time.Duration
	debounce time.Duration
	logger   *log.Logger
	reloaded func(error)
}

type WatcherOption func(*Watcher)

// WatchFile reloads when the file is written, created or replaced. The
// parent directory is watched so atomic renames are seen.
func WatchFile(path string) WatcherOption {
	return func(w *Watcher) { w.file = filepath.Clean(path) }
}

// WatchRedis reloads when a message arrives on the source's updates channel.
func WatchRedis(src *RedisSource) WatcherOption {
	return func(w *Watcher) { w.redisSrc = src }
}

// PollEvery reloads on a fixed interval. Zero disables polling.
func PollEvery(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.interval = d }
}

func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

func WithWatcherLogger(logger *log.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// OnReload is called after every reload attempt (tests, metrics).
func OnReload(fn func(error)) WatcherOption {
	return func(w *Watcher) { w.reloaded = fn }
}

func NewWatcher(engine *Engine, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		engine:   engine,
		debounce: 250 * time.Millisecond,
		logger:   log.New(os.Stdout, "[POLICY] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	var fileEvents <-chan fsnotify.Event
	var fileErrors <-chan error
	if w.file != "" {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create file watcher: %w", err)
		}
		defer func() {
			_ = fsw.Close()
		}()
		if err := fsw.Add(filepath.Dir(w.file)); err != nil {
			return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.file), err)
		}
		fileEvents, fileErrors = fsw.Events, fsw.Errors
	}

	var redisMessages <-chan *redis.Message
	if w.redisSrc != nil {
		sub := w.redisSrc.Subscribe(ctx)
		defer func() {
			_ = sub.Close()
		}()
		redisMessages = sub.Channel()
	}

	var poll <-chan time.Time
	if w.interval > 0 {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		poll = ticker.C
	}

	var debounced <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fileEvents:
			if !ok {
				fileEvents = nil
				continue
			}
			if filepath.Clean(event.Name) != w.file {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounced = time.After(w.debounce)
			}

		case err, ok := <-fileErrors:
			if !ok {
				fileErrors = nil
				continue
			}
			w.logger.Printf("File watcher error: %v", err)

		case <-debounced:
			debounced = nil
			w.reload(ctx, "file change")

		case _, ok := <-redisMessages:
			if !ok {
				redisMessages = nil
				continue
			}
			w.reload(ctx, "redis notification")

		case <-poll:
			w.reload(ctx, "poll")
		}
	}
}

func (w *Watcher) reload(ctx context.Context, trigger string) {
	err := w.engine.Reload(ctx)
	if err != nil && ctx.Err() == nil {
		w.logger.Printf("Reload on %s failed: %v", trigger, err)
	}
	if w.reloaded != nil {
		w.reloaded(err)
	}
}
