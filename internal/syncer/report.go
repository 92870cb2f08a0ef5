package syncer

import (
	"sort"
	"strings"
	"time"
)

// Report describes the outcome of one sync cycle.
type Report struct {
	Pushed     map[string]int
	PushErrors map[string]error
	Pulled     map[string]int
	PullErr    error
	// OverwrittenPending counts pulled rows that replaced unpushed local edits.
	OverwrittenPending int
	Duration           time.Duration
}

func newReport() Report {
	return Report{
		Pushed:     make(map[string]int),
		PushErrors: make(map[string]error),
		Pulled:     make(map[string]int),
	}
}

// TotalPushed sums the pushed rows across tables.
func (r Report) TotalPushed() int {
	return sum(r.Pushed)
}

// TotalPulled sums the pulled rows across tables.
func (r Report) TotalPulled() int {
	return sum(r.Pulled)
}

// Failed reports whether any phase of the cycle failed.
func (r Report) Failed() bool {
	return r.PullErr != nil || len(r.PushErrors) > 0
}

func (r Report) pushErrorSummary() string {
	if len(r.PushErrors) == 0 {
		return ""
	}
	tables := make([]string, 0, len(r.PushErrors))
	for table := range r.PushErrors {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	parts := make([]string, 0, len(tables))
	for _, table := range tables {
		parts = append(parts, "push "+table+": "+r.PushErrors[table].Error())
	}
	return strings.Join(parts, "; ")
}

func sum(counts map[string]int) int {
	total := 0
	for _, count := range counts {
		total += count
	}
	return total
}
