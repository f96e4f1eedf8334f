// Package jobs runs fire-and-forget work (audit writes) off the request path.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultQueueSize = 128

type Service struct {
	queue   chan job
	timeout time.Duration

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
	wg      sync.WaitGroup
}

type job struct {
	Type string
	Run  func(context.Context) error
}

// New returns a queue holding up to size pending jobs. Each job gets timeout
// to finish; zero disables the per-job deadline.
func New(size int, timeout time.Duration) *Service {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Service{
		queue:   make(chan job, size),
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

func (s *Service) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
}

// Enqueue never blocks: when the queue is full or stopped the job is dropped.
func (s *Service) Enqueue(jobType string, run func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		slog.Warn("job queue stopped", "jobType", jobType)
		return
	}
	select {
	case s.queue <- job{Type: jobType, Run: run}:
	default:
		slog.Warn("job queue full", "jobType", jobType)
	}
}

// Every enqueues run each interval until ctx ends or the service stops.
func (s *Service) Every(ctx context.Context, interval time.Duration, jobType string, run func(context.Context) error) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-ticker.C:
				s.Enqueue(jobType, run)
			}
		}
	}()
}

func (s *Service) RunNow(ctx context.Context, jobType string, run func(context.Context) error) error {
	return s.runJob(ctx, job{Type: jobType, Run: run})
}

// Stop closes the queue and waits for the workers to drain it.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.done)
	close(s.queue)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Service) Pending() int {
	return len(s.queue)
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-s.queue:
			if !ok {
				return
			}
			if err := s.runJob(ctx, j); err != nil {
				slog.Warn("job run failed", "jobType", j.Type, "err", err)
			}
		}
	}
}

func (s *Service) runJob(ctx context.Context, j job) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	err := j.Run(ctx)
	slog.Debug("job finished", "jobType", j.Type, "duration", time.Since(start), "ok", err == nil)
	return err
}
