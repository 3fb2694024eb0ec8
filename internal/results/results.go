// Package results implements the result aggregator: a growable ordered
// store of TestResult values plus a pass/fail/setup-error summary.
package results

import "fmt"

// Status is a TestResult's terminal disposition.
type Status string

const (
	StatusPassed     Status = "passed"
	StatusFailed     Status = "failed"
	StatusSetupError Status = "setup-error"
	StatusCancelled  Status = "cancelled"
)

// TestResult records the outcome of one test.
type TestResult struct {
	Index    int
	Status   Status
	ExitCode int
	Notes    string
	ElapsedS float64
}

// Store accumulates results in test order.
type Store struct {
	results []TestResult
}

// New returns an empty store.
func New() *Store { return &Store{} }

// Add appends a result. Callers add in increasing Index order, but the
// store does not enforce it.
func (s *Store) Add(r TestResult) { s.results = append(s.results, r) }

// All returns every recorded result, in insertion order.
func (s *Store) All() []TestResult {
	cp := make([]TestResult, len(s.results))
	copy(cp, s.results)
	return cp
}

// Summary is the suite-level rollup.
type Summary struct {
	Passed     int
	Failed     int
	SetupError int
	Cancelled  int
	Total      int
}

// Summarize computes the pass/fail/setup-error counts over every recorded
// result.
func (s *Store) Summarize() Summary {
	var sum Summary
	for _, r := range s.results {
		sum.Total++
		switch r.Status {
		case StatusPassed:
			sum.Passed++
		case StatusFailed:
			sum.Failed++
		case StatusSetupError:
			sum.SetupError++
		case StatusCancelled:
			sum.Cancelled++
		}
	}
	return sum
}

// AllPassed reports whether every recorded test passed, the condition the
// start subcommand's exit code is based on.
func (s *Store) AllPassed() bool {
	sum := s.Summarize()
	return sum.Total > 0 && sum.Passed == sum.Total
}

// FailingIndexes returns the indexes of every non-passed test, for a
// failure dump.
func (s *Store) FailingIndexes() []int {
	var out []int
	for _, r := range s.results {
		if r.Status != StatusPassed {
			out = append(out, r.Index)
		}
	}
	return out
}

func (r TestResult) String() string {
	return fmt.Sprintf("test %d: %s (exit=%d, %.3fs) %s", r.Index, r.Status, r.ExitCode, r.ElapsedS, r.Notes)
}
