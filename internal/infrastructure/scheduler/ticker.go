package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"truckpress/internal/ports"
)

type job struct {
	name     string
	interval time.Duration
	run      func(context.Context)
}

// IntervalScheduler runs registered jobs on independent fixed-interval
// tickers. Jobs are registered before Start and run until Stop or context
// cancellation.
type IntervalScheduler struct {
	jobs []job
	stop chan struct{}
	wg   sync.WaitGroup
	log  zerolog.Logger
}

var _ ports.Scheduler = (*IntervalScheduler)(nil)

// NewIntervalScheduler builds an empty scheduler.
func NewIntervalScheduler(log zerolog.Logger) *IntervalScheduler {
	return &IntervalScheduler{log: log}
}

// Every registers a named periodic job.
func (s *IntervalScheduler) Every(name string, interval time.Duration, run func(context.Context)) {
	s.jobs = append(s.jobs, job{name: name, interval: interval, run: run})
}

// Start launches one goroutine per registered job.
func (s *IntervalScheduler) Start(ctx context.Context) error {
	if s.stop != nil {
		return nil
	}
	s.stop = make(chan struct{})

	for _, j := range s.jobs {
		s.wg.Add(1)
		go func(j job) {
			defer s.wg.Done()
			ticker := time.NewTicker(j.interval)
			defer ticker.Stop()

			s.log.Info().Str("job", j.name).Dur("interval", j.interval).Msg("job scheduled")
			for {
				select {
				case <-ticker.C:
					j.run(ctx)
				case <-ctx.Done():
					return
				case <-s.stop:
					return
				}
			}
		}(j)
	}
	return nil
}

// Stop halts all job goroutines and waits for in-flight runs to finish.
func (s *IntervalScheduler) Stop(ctx context.Context) error {
	if s.stop == nil {
		return nil
	}
	close(s.stop)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.stop = nil
	return nil
}
