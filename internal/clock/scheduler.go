package clock

import (
	"sort"
	"time"

	"go.uber.org/zap"
)

// Scheduler drives the cooperative dispatch loop: on every call to
// Tick, it fires all jobs whose deadlines are due, in the documented
// priority order (Layer-1 < Layer-2 < Layer-3 < daily), and at most
// once per period per job. A job's panic or error is caught and
// recorded; it never prevents sibling jobs in the same Tick from running.
type Scheduler struct {
	clock  *Clock
	logger *zap.Logger
	jobs   []*Job

	onJobError func(job string, err any)
}

// NewScheduler creates a Scheduler bound to clock.
func NewScheduler(c *Clock, logger *zap.Logger, onJobError func(job string, err any)) *Scheduler {
	return &Scheduler{clock: c, logger: logger.Named("scheduler"), onJobError: onJobError}
}

// Register adds a job. Jobs are re-sorted by priority on each Tick so
// registration order does not matter.
func (s *Scheduler) Register(j *Job) {
	s.jobs = append(s.jobs, j)
}

// Tick evaluates every registered job against the clock's current
// instant and runs those that are due, in priority order. Periodic
// jobs fire at most once per period; daily HH:MM jobs fire at most
// once per broker-local date.
func (s *Scheduler) Tick() {
	now := s.clock.Now()

	due := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if s.isDue(j, now) {
			due = append(due, j)
		}
	}

	sort.SliceStable(due, func(i, k int) bool {
		return due[i].Priority < due[k].Priority
	})

	for _, j := range due {
		s.runJob(j, now)
	}
}

func (s *Scheduler) isDue(j *Job, now time.Time) bool {
	if j.HHMM != "" {
		if s.clock.LocalHHMM() != j.HHMM {
			return false
		}
		date := s.clock.TodayLocal().Format("2006-01-02")
		return j.lastFiredDate != date
	}
	if j.Period <= 0 {
		return false
	}
	bucket := periodBucket(now, j.Period, j.Phase)
	return !j.firedOnce || bucket != j.lastFiredPeriod
}

func periodBucket(now time.Time, period, phase time.Duration) int64 {
	return (now.UnixNano() - int64(phase)) / int64(period)
}

func (s *Scheduler) runJob(j *Job, now time.Time) {
	if j.HHMM != "" {
		j.lastFiredDate = s.clock.TodayLocal().Format("2006-01-02")
	} else {
		j.lastFiredPeriod = periodBucket(now, j.Period, j.Phase)
		j.firedOnce = true
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled job panicked", zap.String("job", j.Name), zap.Any("panic", r))
			if s.onJobError != nil {
				s.onJobError(j.Name, r)
			}
		}
	}()
	j.Run(now)
}
