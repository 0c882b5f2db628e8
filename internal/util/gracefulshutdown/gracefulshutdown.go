/*
Copyright 2025 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package gracefulshutdown scopes cleanup work to process lifetime: hooks
// registered against a shutdown scope run exactly once, whether the
// process finishes normally or is interrupted. Lab teardown must run
// under all exit paths; this is the piece that guarantees the interrupt
// path.
package gracefulshutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-logr/logr"
)

// GracefulShutdown holds a signal-cancelable context and the hooks to run
// when the scope ends.
type GracefulShutdown struct {
	ctx    context.Context
	cancel context.CancelFunc
	name   string
	log    logr.Logger

	once sync.Once

	mu    sync.Mutex
	hooks []func()
}

// New creates a shutdown scope canceled by SIGTERM or SIGINT.
func New(name string, log logr.Logger) *GracefulShutdown {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)

	return &GracefulShutdown{
		ctx:    ctx,
		cancel: cancel,
		name:   name,
		log:    log,
	}
}

// Context returns the scope's context. It is done once a shutdown signal
// arrives or Shutdown is called.
func (s *GracefulShutdown) Context() context.Context {
	return s.ctx
}

// OnShutdown registers a hook. Hooks run in reverse registration order,
// mirroring defer semantics.
func (s *GracefulShutdown) OnShutdown(hook func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// Shutdown cancels the context and runs every registered hook. It is
// safe to call multiple times; only the first call has any effect.
func (s *GracefulShutdown) Shutdown() {
	s.once.Do(func() {
		s.log.Info("shutting down", "name", s.name)
		s.cancel()

		s.mu.Lock()
		hooks := s.hooks
		s.hooks = nil
		s.mu.Unlock()

		for i := len(hooks) - 1; i >= 0; i-- {
			hooks[i]()
		}
	})
}
