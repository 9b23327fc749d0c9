package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// DefaultReportInterval ...
const DefaultReportInterval = 5 * time.Second

// Reporter is a Counter that periodically logs how much was uploaded and how fast.
type Reporter struct {
	*Counter

	logger   log.Logger
	interval time.Duration
	now      func() time.Time
	started  time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

// NewReporter creates a Reporter logging every interval once started. Rates are
// measured from the moment the Reporter is created.
// A non-positive interval falls back to DefaultReportInterval.
func NewReporter(logger log.Logger, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = DefaultReportInterval
	}
	r := &Reporter{
		Counter:  NewCounter(),
		logger:   logger,
		interval: interval,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	r.started = r.now()
	return r
}

// Start begins periodic reporting. It returns immediately.
func (r *Reporter) Start() {
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go r.run()
	})
}

// Stop ends periodic reporting and waits for the reporting goroutine to exit.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	r.wg.Wait()
}

// Finish records the terminal state and logs a summary line.
func (r *Reporter) Finish(message string) {
	if !r.Counter.finish(message) {
		return
	}
	r.logger.Donef("%s %s", r.line(r.Bytes(), r.elapsed()), message)
}

func (r *Reporter) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-r.Done():
			return
		case <-ticker.C:
			r.logger.Infof("%s", r.line(r.Bytes(), r.elapsed()))
		}
	}
}

func (r *Reporter) elapsed() time.Duration {
	return r.now().Sub(r.started)
}

func (r *Reporter) line(bytes int64, elapsed time.Duration) string {
	size := units.HumanSizeWithPrecision(float64(bytes), 3)
	if elapsed < time.Second {
		return fmt.Sprintf("%s uploaded", size)
	}
	rate := float64(bytes) / elapsed.Seconds()
	return fmt.Sprintf("%s uploaded at %s/s", size, units.HumanSizeWithPrecision(rate, 3))
}
