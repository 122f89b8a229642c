// Package worker runs the long-lived background jobs of the compilation
// pipeline. Each queue has capacity one: a second request against a busy
// queue is refused immediately rather than piling up foma compiles.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

// ErrBusy is returned by Enqueue when the queue already holds a job.
var ErrBusy = errors.New("worker: queue is busy")

// ErrShutDown is returned by Enqueue after Shutdown.
var ErrShutDown = errors.New("worker: queue is shut down")

var (
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "old_worker_queue_depth",
		Help: "Jobs waiting in a background queue.",
	}, []string{"queue"})
	jobsRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "old_worker_jobs_running",
		Help: "Jobs currently executing.",
	}, []string{"queue"})
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "old_worker_jobs_total",
		Help: "Completed jobs by result.",
	}, []string{"queue", "result"})
	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "old_worker_job_duration_seconds",
		Help:    "Job execution time.",
		Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
	}, []string{"queue"})
)

// Job is one unit of background work. Attempt carries the nonce the job
// writes back when it finishes, so pollers can detect completion.
type Job struct {
	Name    string
	Attempt string
	Run     func(ctx context.Context) error
}

// drainers is the number of goroutines draining each queue.
const drainers = 2

// Queue is a single-slot job queue drained by two long-lived worker
// goroutines. The slot bounds the backlog to one pending job; at most two
// jobs of a family execute at a time.
type Queue struct {
	name   string
	jobs   chan Job
	logger *logrus.Logger

	mu       sync.Mutex
	started  bool
	shutdown bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewQueue creates a queue. A nil logger falls back to the standard one.
func NewQueue(name string, logger *logrus.Logger) *Queue {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Queue{
		name:   name,
		jobs:   make(chan Job, 1),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start launches the worker goroutines.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	ctx, q.cancel = context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(drainers)
	for i := 0; i < drainers; i++ {
		go func() {
			defer wg.Done()
			q.worker(ctx)
		}()
	}
	go func() {
		wg.Wait()
		close(q.done)
	}()
}

// Enqueue offers a job without blocking. A full queue refuses the job; the
// HTTP layer translates ErrBusy into a retry-later response.
func (q *Queue) Enqueue(job Job) (err error) {
	q.mu.Lock()
	if q.shutdown {
		q.mu.Unlock()
		return ErrShutDown
	}
	q.mu.Unlock()

	// Shutdown may close the channel between the check above and the send
	// below; surface that as ErrShutDown rather than a panic.
	defer func() {
		if r := recover(); r != nil {
			err = ErrShutDown
		}
	}()

	select {
	case q.jobs <- job:
		queueDepth.WithLabelValues(q.name).Inc()
		q.logger.WithFields(logrus.Fields{
			"queue": q.name,
			"job":   job.Name,
		}).Info("job enqueued")
		return nil
	default:
		return ErrBusy
	}
}

// Shutdown stops the workers, waiting up to timeout for running jobs.
func (q *Queue) Shutdown(timeout time.Duration) error {
	q.mu.Lock()
	if q.shutdown {
		q.mu.Unlock()
		return nil
	}
	q.shutdown = true
	started := q.started
	q.mu.Unlock()

	close(q.jobs)
	if !started {
		return nil
	}
	select {
	case <-q.done:
		return nil
	case <-time.After(timeout):
		q.cancel()
		return fmt.Errorf("queue %s shutdown timed out after %v", q.name, timeout)
	}
}

func (q *Queue) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			queueDepth.WithLabelValues(q.name).Dec()
			q.run(ctx, job)
		}
	}
}

func (q *Queue) run(ctx context.Context, job Job) {
	logger := q.logger.WithFields(logrus.Fields{
		"queue":   q.name,
		"job":     job.Name,
		"attempt": job.Attempt,
	})
	jobsRunning.WithLabelValues(q.name).Inc()
	start := time.Now()
	defer func() {
		jobsRunning.WithLabelValues(q.name).Dec()
		jobDuration.WithLabelValues(q.name).Observe(time.Since(start).Seconds())

		// A panicking job must not take the worker down with it; the
		// resource keeps its stale attempt nonce and the failure is logged.
		if r := recover(); r != nil {
			jobsTotal.WithLabelValues(q.name, "panic").Inc()
			logger.WithField("panic", r).
				Errorf("job panicked:\n%s", debug.Stack())
		}
	}()

	logger.Info("job started")
	if err := job.Run(ctx); err != nil {
		jobsTotal.WithLabelValues(q.name, "error").Inc()
		logger.WithError(err).Error("job failed")
		return
	}
	jobsTotal.WithLabelValues(q.name, "ok").Inc()
	logger.WithField("elapsed", time.Since(start).String()).Info("job finished")
}

// Pool bundles the two background queues: compile jobs (foma, estimate-ngram)
// and the lighter corpus/reference jobs.
type Pool struct {
	Compile *Queue
	Corpus  *Queue
}

// NewPool creates and starts both queues.
func NewPool(ctx context.Context, logger *logrus.Logger) *Pool {
	p := &Pool{
		Compile: NewQueue("compile", logger),
		Corpus:  NewQueue("corpus", logger),
	}
	p.Compile.Start(ctx)
	p.Corpus.Start(ctx)
	return p
}

// Shutdown stops both queues.
func (p *Pool) Shutdown(timeout time.Duration) error {
	if err := p.Compile.Shutdown(timeout); err != nil {
		return err
	}
	return p.Corpus.Shutdown(timeout)
}
