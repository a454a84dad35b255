package scheduler

import (
	"fmt"
	"sync"

	"calendar/internal/pkg/logger"

	"github.com/robfig/cron/v3"
)

// parser accepts optional seconds and descriptors such as "@every 1m".
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule parses a cron spec (5 or 6 fields) or a descriptor.
func ParseSchedule(spec string) (cron.Schedule, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return sched, nil
}

// Scheduler manages cron jobs.
type Scheduler struct {
	cron    *cron.Cron
	log     logger.Logger
	mu      sync.Mutex // To protect access to job management
	started bool
}

// NewScheduler creates a cron scheduler. Jobs added before Start run only
// once Start is called.
func NewScheduler(log logger.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithParser(parser)),
		log:  log,
	}
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.cron.Start()
	s.started = true
	s.log.Info("Cron scheduler started.")
}

// AddJob adds a new job to the scheduler.
// spec follows the cron format (e.g., "0 30 * * * *" or "@hourly").
// Returns the EntryID of the added job and an error if any.
func (s *Scheduler) AddJob(spec string, cmd func()) (cron.EntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(spec, cmd)
	if err != nil {
		s.log.Error("Failed to add cron job", err)
		return 0, fmt.Errorf("failed to add cron job: %w", err)
	}
	s.log.Info(fmt.Sprintf("Added cron job with ID %d, spec: %s", id, spec))
	return id, nil
}

// RemoveJob removes a job from the scheduler by its EntryID.
func (s *Scheduler) RemoveJob(id cron.EntryID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cron.Remove(id)
	s.log.Info(fmt.Sprintf("Removed cron job with ID %d", id))
}

// Stop stops the cron scheduler and waits for running jobs to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.started = false
	s.log.Info("Cron scheduler stopped.")
}

// GetEntries returns the list of scheduled entries. Useful for debugging.
func (s *Scheduler) GetEntries() []cron.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron.Entries()
}
