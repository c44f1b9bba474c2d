package symtest

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Runner defaults.
const (
	DefaultWorkers     = 1
	DefaultTestTimeout = 60 * time.Second
)

// Runner explores every test registered in a target and aggregates the
// verdicts. Each test is explored exactly once, by one worker, under its
// own timeout.
type Runner struct {
	Engine Engine

	// Workers bounds how many tests explore concurrently.
	Workers int

	// TestTimeout bounds one test's exploration. A test still live at
	// expiry is force-terminated and reported as anomalous.
	TestTimeout time.Duration

	// Verbose enables per-test progress logging.
	Verbose bool
}

// NewRunner returns a runner over eng with default settings.
func NewRunner(eng Engine) *Runner {
	return &Runner{
		Engine:      eng,
		Workers:     DefaultWorkers,
		TestTimeout: DefaultTestTimeout,
	}
}

// Run resolves the target's primitive table, discovers its tests and
// explores each one over a bounded worker pool. Only setup faults abort the
// run; any fault inside one test's exploration is contained to that test's
// verdicts.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	api, err := ResolveAPI(r.Engine)
	if err != nil {
		return nil, err
	}
	tests, err := DiscoverTests(r.Engine)
	if err != nil {
		return nil, err
	}
	if r.Verbose {
		log.Printf("[runner] discovered %d tests, input buffer [%#x, %#x)",
			len(tests), api.InputBegin, api.InputEnd)
	}

	workers := r.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	var mu sync.Mutex
	report := &Report{}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, tc := range tests {
		tc := tc
		g.Go(func() error {
			verdicts := r.exploreTest(ctx, api, tc)
			mu.Lock()
			report.Verdicts = append(report.Verdicts, verdicts...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return report, nil
}

// exploreTest drives one test to completion. It never panics or returns an
// error to the pool; a fault becomes the test's anomalous verdict so
// sibling tests keep running.
func (r *Runner) exploreTest(ctx context.Context, api *API, tc TestCase) (verdicts []Verdict) {
	defer func() {
		if e := recover(); e != nil {
			log.Printf("[runner] test %s: worker panic: %v", tc.Name, e)
			verdicts = append(verdicts, Verdict{
				Test:    tc.Name,
				Outcome: OutcomeAnomalous,
				Reason:  fmt.Sprintf("worker panic: %v", e),
			})
		}
	}()

	timeout := r.TestTimeout
	if timeout <= 0 {
		timeout = DefaultTestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if r.Verbose {
		log.Printf("[runner] test %s: exploring entry %#x", tc.Name, tc.Entry)
	}

	expl, err := r.Engine.NewExploration(tc.Entry)
	if err != nil {
		return []Verdict{{
			Test:    tc.Name,
			Outcome: OutcomeAnomalous,
			Reason:  fmt.Sprintf("cannot start exploration: %v", err),
		}}
	}
	if _, err := InjectInput(expl.Root(), api); err != nil {
		return []Verdict{{
			Test:    tc.Name,
			Outcome: OutcomeAnomalous,
			Reason:  fmt.Sprintf("cannot inject input: %v", err),
		}}
	}
	installHooks(expl, api)

	expl.OnPathTerminated(func(p Path, tag string) {
		v := normalizeTermination(tc.Name, p, tag)
		if r.Verbose {
			log.Printf("[runner] test %s: path terminated: %s", tc.Name, v.Outcome)
		}
		verdicts = append(verdicts, v)
	})

	runErr := expl.Run(ctx)
	if runErr != nil && len(verdicts) == 0 {
		verdicts = append(verdicts, Verdict{
			Test:    tc.Name,
			Outcome: OutcomeAnomalous,
			Reason:  fmt.Sprintf("exploration failed: %v", runErr),
		})
	}
	return verdicts
}
