package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"
)

// ErrJobLocked is returned when another process holds the job's lock.
var ErrJobLocked = errors.New("job is already running elsewhere")

// Job is a scheduled unit of work. Spec uses the standard five field cron
// syntax or a descriptor such as "@every 1h".
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Manager schedules jobs and makes sure a job runs in at most one process at a
// time.
type Manager struct {
	cron    *cron.Cron
	locker  Locker
	jobs    map[string]Job
	mu      sync.Mutex
	running bool
}

// NewManager creates a manager. locker may be nil for single-process setups.
func NewManager(locker Locker) *Manager {
	return &Manager{
		cron:   cron.New(),
		locker: locker,
		jobs:   make(map[string]Job),
	}
}

// Register adds a job to the schedule.
func (m *Manager) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("job needs a name and a run function")
	}
	if job.Timeout <= 0 {
		job.Timeout = 10 * time.Minute
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.Name]; exists {
		return fmt.Errorf("job %q already registered", job.Name)
	}
	if _, err := m.cron.AddFunc(job.Spec, func() {
		if err := m.run(context.Background(), job); err != nil && !errors.Is(err, ErrJobLocked) {
			log.Errorf("[JobQueue] job %s failed: %v", job.Name, err)
		}
	}); err != nil {
		return fmt.Errorf("job %q: invalid schedule %q: %w", job.Name, job.Spec, err)
	}
	m.jobs[job.Name] = job
	return nil
}

// RunNow executes a registered job immediately, honoring the lock.
func (m *Manager) RunNow(ctx context.Context, name string) error {
	m.mu.Lock()
	job, ok := m.jobs[name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q is not registered", name)
	}
	return m.run(ctx, job)
}

func (m *Manager) run(ctx context.Context, job Job) error {
	ctx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	if m.locker != nil {
		unlock, err := m.locker.TryLock(ctx, lockName(job.Name), job.Timeout)
		if err != nil {
			if errors.Is(err, ErrJobLocked) {
				log.Infof("[JobQueue] job %s skipped, lock held by another process", job.Name)
			}
			return err
		}
		defer unlock()
	}

	started := time.Now()
	log.Infof("[JobQueue] job %s started", job.Name)
	if err := job.Run(ctx); err != nil {
		return err
	}
	log.Infof("[JobQueue] job %s finished in %s", job.Name, time.Since(started).Round(time.Millisecond))
	return nil
}

// Start starts the scheduler.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	m.cron.Start()
	log.Infof("[JobQueue Manager] Started with %d jobs", len(m.jobs))
}

// Stop stops scheduling and waits up to timeout for running jobs.
func (m *Manager) Stop(timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false
	ctx := m.cron.Stop()
	select {
	case <-ctx.Done():
		log.Info("[JobQueue Manager] Stopped gracefully")
	case <-time.After(timeout):
		log.Warn("[JobQueue Manager] Forced stop after timeout")
	}
}

func lockName(job string) string {
	return "jobqueue:lock:" + job
}
