package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is a long-lived loop that returns only on failure or cancellation.
type Task func(ctx context.Context) error

// Supervisor restarts tasks that fail or panic until the context ends.
type Supervisor struct {
	delay time.Duration
	log   *zap.Logger
	wg    sync.WaitGroup
}

func New(restartDelay time.Duration, log *zap.Logger) *Supervisor {
	if log == nil {
		log = zap.NewNop()
	}
	if restartDelay <= 0 {
		restartDelay = 5 * time.Second
	}
	return &Supervisor{delay: restartDelay, log: log}
}

// Go starts fn under supervision.
func (s *Supervisor) Go(ctx context.Context, name string, fn Task) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log := s.log.With(zap.String("task", name))
		for {
			err := runOnce(ctx, fn)
			if ctx.Err() != nil {
				log.Info("task stopped")
				return
			}
			if err != nil {
				log.Error("task failed, restarting", zap.Error(err), zap.Duration("delay", s.delay))
			} else {
				log.Warn("task returned, restarting", zap.Duration("delay", s.delay))
			}
			t := time.NewTimer(s.delay)
			select {
			case <-ctx.Done():
				t.Stop()
				log.Info("task stopped")
				return
			case <-t.C:
			}
		}
	}()
}

// Wait blocks until every supervised task has stopped.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func runOnce(ctx context.Context, fn Task) error {
	return Catch(func() error { return fn(ctx) })
}

// Catch runs fn and returns a recovered panic as an error. Goroutines a
// task spawns must go through it, since Go only recovers the goroutine
// that runs the task itself.
func Catch(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}
