package inject_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/centraunit/inject"
)

type Namer interface {
	Name() string
}

type Widget struct {
	ID int64
}

func (w *Widget) Name() string { return "widget" }

// Missing is never bound.
type Missing interface {
	Missing()
}

type counter struct {
	n     atomic.Int64
	delay time.Duration
}

func (c *counter) newWidget() *Widget {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return &Widget{ID: c.n.Add(1)}
}

func (c *counter) calls() int64 { return c.n.Load() }

type Repo struct {
	DSN string `inject:"name=dsn"`
}

type Lazy struct {
	Widget inject.ProviderOf[*Widget] `inject:""`
}

type lifecycleTracker struct {
	mu     sync.Mutex
	events []string
}

func (t *lifecycleTracker) add(event string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
}

func (t *lifecycleTracker) Events() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.events...)
}

type lifecycleService struct {
	name         string
	dep          *lifecycleService
	tracker      *lifecycleTracker
	failShutdown bool
}

func (s *lifecycleService) OnBoot(ctx context.Context) error {
	s.tracker.add("boot " + s.name)
	return nil
}

func (s *lifecycleService) OnShutdown(ctx context.Context) error {
	s.tracker.add("shutdown " + s.name)
	if s.failShutdown {
		return errors.New("connection still in use")
	}
	return nil
}
