package scheduler

import (
	"iter"
	"math/rand/v2"
	"sync"
	"time"

	"autoposter/internal/config"
	"autoposter/internal/models"
)

// Slot is one planned upload: a run number, the account and when it fires.
type Slot struct {
	Run     int
	Index   int
	Account *models.Account
	At      time.Time
}

// Planner draws the random parts of a day plan.
type Planner struct {
	mu          sync.Mutex
	rng         *rand.Rand
	runsMin     int
	runsMax     int
	intervalMin time.Duration
	intervalMax time.Duration
}

// NewPlanner builds a planner from scheduler settings. A nil rng uses a
// randomly seeded source.
func NewPlanner(cfg config.SchedulerConfig, rng *rand.Rand) *Planner {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Planner{
		rng:         rng,
		runsMin:     cfg.RunsMin,
		runsMax:     cfg.RunsMax,
		intervalMin: cfg.IntervalMin,
		intervalMax: cfg.IntervalMax,
	}
}

// Runs returns the number of runs for a day, uniform in [runsMin, runsMax].
func (p *Planner) Runs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runsMin + p.rng.IntN(p.runsMax-p.runsMin+1)
}

// Interval returns the spacing between consecutive slots, uniform in
// [intervalMin, intervalMax] at whole-second granularity.
func (p *Planner) Interval() time.Duration {
	lo := int64(p.intervalMin / time.Second)
	hi := int64(p.intervalMax / time.Second)
	if lo < 1 {
		lo = 1
	}
	if hi < lo {
		hi = lo
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Duration(lo+p.rng.Int64N(hi-lo+1)) * time.Second
}

// Plan yields runs*len(accounts) slots, run-major then account order. Slot k
// fires at start + k*interval, so times are unique and strictly increasing.
func Plan(start time.Time, runs int, interval time.Duration, accounts []*models.Account) iter.Seq[Slot] {
	return func(yield func(Slot) bool) {
		n := len(accounts)
		for run := 0; run < runs; run++ {
			for idx, account := range accounts {
				k := run*n + idx
				slot := Slot{
					Run:     run,
					Index:   idx,
					Account: account,
					At:      start.Add(time.Duration(k) * interval),
				}
				if !yield(slot) {
					return
				}
			}
		}
	}
}
