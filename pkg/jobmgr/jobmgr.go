// Package jobmgr runs named background jobs, one-shot or periodic, with
// cancellation and in-memory tracking of what is running.
//
//	jm := jobmgr.NewManager()
//	_ = jm.Every(ctx, "cookies", 30*time.Minute, fetcher.Fetch)
//	...
//	jm.StopAll()
package jobmgr

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Job is a running unit of work. Jobs are added and removed by Manager.
type Job struct {
	Name    string
	Started time.Time
	cancel  context.CancelFunc
}

// Runner is the body of a job. It must return when ctx is cancelled.
type Runner func(ctx context.Context) error

// Manager starts, stops and tracks jobs. It is safe for concurrent use.
type Manager struct {
	mu   sync.Mutex
	jobs map[string]*Job
	wg   sync.WaitGroup
}

func NewManager() *Manager {
	return &Manager{jobs: make(map[string]*Job)}
}

// Start runs runner once in its own goroutine. The job is cancelled with
// ctx or by Stop, and removed when runner returns.
func (m *Manager) Start(ctx context.Context, name string, runner Runner) error {
	jobCtx, job, err := m.add(ctx, name)
	if err != nil {
		return err
	}
	go func() {
		defer m.done(job)
		if err := runner(jobCtx); err != nil && jobCtx.Err() == nil {
			log.Error().Str("component", "jobmgr").Str("job", name).Err(err).Msg("job failed")
			return
		}
		log.Debug().Str("component", "jobmgr").Str("job", name).Msg("job done")
	}()
	return nil
}

// Every runs runner immediately and then every interval until cancelled.
// A failed run is logged and does not stop the schedule.
func (m *Manager) Every(ctx context.Context, name string, interval time.Duration, runner Runner) error {
	if interval <= 0 {
		return fmt.Errorf("job '%s': interval must be positive", name)
	}
	jobCtx, job, err := m.add(ctx, name)
	if err != nil {
		return err
	}
	go func() {
		defer m.done(job)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			if err := runner(jobCtx); err != nil && jobCtx.Err() == nil {
				log.Warn().Str("component", "jobmgr").Str("job", name).Err(err).Dur("next_in", interval).Msg("periodic job failed")
			}
			select {
			case <-jobCtx.Done():
				return
			case <-t.C:
			}
		}
	}()
	return nil
}

func (m *Manager) add(ctx context.Context, name string) (context.Context, *Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[name]; exists {
		return nil, nil, fmt.Errorf("job '%s' is already running", name)
	}
	jobCtx, cancel := context.WithCancel(ctx)
	job := &Job{Name: name, Started: time.Now(), cancel: cancel}
	m.jobs[name] = job
	m.wg.Add(1)
	log.Debug().Str("component", "jobmgr").Str("job", name).Msg("job running")
	return jobCtx, job, nil
}

func (m *Manager) done(job *Job) {
	job.cancel()
	m.mu.Lock()
	if m.jobs[job.Name] == job {
		delete(m.jobs, job.Name)
	}
	m.mu.Unlock()
	m.wg.Done()
}

// Stop cancels a running job by name.
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	job, ok := m.jobs[name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("job '%s' not running", name)
	}
	job.cancel()
	return nil
}

// StopAll cancels every job and waits for them to return.
func (m *Manager) StopAll() {
	m.mu.Lock()
	for _, job := range m.jobs {
		job.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// List returns the names of the running jobs, sorted.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.jobs))
	for k := range m.jobs {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
