package monitoring

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dealmesh/dealmesh/pkg/observability"
)

// JobStatus tracks a warming job's last outcome.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// WarmingFunc pre-populates cache entries likely to be requested soon
// and returns how many items it warmed.
type WarmingFunc func(ctx context.Context) (int, error)

// WarmingJob is a registered warming unit of work.
type WarmingJob struct {
	Name        string    `json:"name"`
	Priority    int       `json:"priority"`
	Status      JobStatus `json:"status"`
	LastRun     time.Time `json:"last_run,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
	ItemsWarmed int       `json:"items_warmed"`

	run WarmingFunc
}

// JobResult is the outcome of one warming-job execution.
type JobResult struct {
	Name        string
	Status      JobStatus
	ItemsWarmed int
	Err         error
	Duration    time.Duration
}

// WarmingRegistry holds registered warming jobs and executes them in
// descending priority order with bounded concurrency. One job's
// failure never blocks the others.
type WarmingRegistry struct {
	mu          sync.Mutex
	jobs        map[string]*WarmingJob
	concurrency int
	logger      observability.Logger
}

// NewWarmingRegistry creates a registry executing at most concurrency
// jobs at once.
func NewWarmingRegistry(concurrency int, logger observability.Logger) *WarmingRegistry {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &WarmingRegistry{
		jobs:        make(map[string]*WarmingJob),
		concurrency: concurrency,
		logger:      logger.WithPrefix("cache.warming"),
	}
}

// RegisterJob adds or replaces a warming job. Higher priority jobs run
// first.
func (r *WarmingRegistry) RegisterJob(name string, priority int, fn WarmingFunc) error {
	if name == "" {
		return fmt.Errorf("warming job name must not be empty")
	}
	if fn == nil {
		return fmt.Errorf("warming job %q has no function", name)
	}

	r.mu.Lock()
	r.jobs[name] = &WarmingJob{
		Name:     name,
		Priority: priority,
		Status:   JobPending,
		run:      fn,
	}
	r.mu.Unlock()
	return nil
}

// RemoveJob unregisters a job.
func (r *WarmingRegistry) RemoveJob(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[name]; !ok {
		return false
	}
	delete(r.jobs, name)
	return true
}

// Jobs returns a snapshot of registered jobs, highest priority first.
func (r *WarmingRegistry) Jobs() []WarmingJob {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobs := make([]WarmingJob, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, *j)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].Priority > jobs[j].Priority
	})
	return jobs
}

// ExecuteWarmingJobs runs every registered job in descending priority
// order. Each job's error or panic is caught and recorded on that job
// alone; the rest proceed.
func (r *WarmingRegistry) ExecuteWarmingJobs(ctx context.Context) []JobResult {
	jobs := r.Jobs()
	if len(jobs) == 0 {
		return nil
	}

	results := make([]JobResult, len(jobs))

	g := &errgroup.Group{}
	g.SetLimit(r.concurrency)

	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			results[i] = r.runJob(ctx, job.Name)
			return nil
		})
	}
	_ = g.Wait()

	completed, failed, warmed := 0, 0, 0
	for _, res := range results {
		switch res.Status {
		case JobCompleted:
			completed++
			warmed += res.ItemsWarmed
		case JobFailed:
			failed++
		}
	}
	r.logger.Info("warming cycle finished", map[string]interface{}{
		"jobs":      len(jobs),
		"completed": completed,
		"failed":    failed,
		"warmed":    warmed,
	})

	return results
}

func (r *WarmingRegistry) runJob(ctx context.Context, name string) (result JobResult) {
	r.mu.Lock()
	job, ok := r.jobs[name]
	r.mu.Unlock()
	if !ok {
		return JobResult{Name: name, Status: JobFailed, Err: fmt.Errorf("job %q no longer registered", name)}
	}

	start := time.Now()
	result = JobResult{Name: name}

	defer func() {
		if rec := recover(); rec != nil {
			result.Status = JobFailed
			result.Err = fmt.Errorf("panic in warming job %q: %v", name, rec)
			r.logger.Error("warming job panicked", map[string]interface{}{
				"job":   name,
				"panic": rec,
				"stack": string(debug.Stack()),
			})
		}
		result.Duration = time.Since(start)
		r.record(name, result)
	}()

	warmed, err := job.run(ctx)
	if err != nil {
		result.Status = JobFailed
		result.Err = err
		r.logger.Warn("warming job failed", map[string]interface{}{
			"job":   name,
			"error": err.Error(),
		})
		return result
	}

	result.Status = JobCompleted
	result.ItemsWarmed = warmed
	return result
}

func (r *WarmingRegistry) record(name string, result JobResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[name]
	if !ok {
		return
	}
	job.Status = result.Status
	job.LastRun = time.Now()
	job.ItemsWarmed = result.ItemsWarmed
	if result.Err != nil {
		job.LastError = result.Err.Error()
	} else {
		job.LastError = ""
	}
}
