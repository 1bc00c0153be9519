package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"
)

// ErrUnknownJob is returned by Cancel for a name that was never registered.
var ErrUnknownJob = errors.New("unknown job")

// Scheduler runs named cron jobs. Specs use the six-field format with seconds,
// and descriptors such as "@every 1m".
type Scheduler struct {
	Cron *cron.Cron
	mu   sync.Mutex
	jobs map[string]cron.EntryID
}

// NewScheduler creates a scheduler. A job still running when its next tick
// arrives skips that tick.
func NewScheduler() *Scheduler {
	return &Scheduler{
		Cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		jobs: make(map[string]cron.EntryID),
	}
}

// Register adds fn under name, replacing any job already registered with it.
func (s *Scheduler) Register(name, spec string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.Cron.AddFunc(spec, fn)
	if err != nil {
		return fmt.Errorf("register %s task: %w", name, err)
	}
	if old, ok := s.jobs[name]; ok {
		s.Cron.Remove(old)
	}
	s.jobs[name] = id
	return nil
}

// Cancel removes a registered job.
func (s *Scheduler) Cancel(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	s.Cron.Remove(id)
	delete(s.jobs, name)
	return nil
}

// Jobs lists registered job names in order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Println("[INFO] scheduler started")
}

// Stop stops the scheduler and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.Cron.Stop().Done():
	case <-ctx.Done():
		log.Println("[WARN] scheduler stop timed out with jobs still running")
	}
	log.Println("[INFO] scheduler stopped")
}
