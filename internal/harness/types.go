package harness

import "github.com/yamada-sexta/touitomamout-next/internal/engine"

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every run expectation and assertion held.
	Pass bool `json:"pass"`

	// Runs holds one snapshot per executed run.
	Runs []RunSnapshot `json:"runs"`

	// Errors contains validation error messages.
	Errors []string `json:"errors,omitempty"`
}

// RunSnapshot captures what one run did.
type RunSnapshot struct {
	Run    int            `json:"run"`
	Mode   string         `json:"mode"`
	Report ReportSnapshot `json:"report"`
	// Posted lists, per platform, the posts that reached the network in
	// this run.
	Posted map[string][]string `json:"posted"`
	// Cached lists, per platform, the posts answered from a stored entry in
	// this run.
	Cached map[string][]string `json:"cached"`
}

// ReportSnapshot is the serializable form of engine.Report.
type ReportSnapshot struct {
	Pulled      int  `json:"pulled"`
	Invalid     int  `json:"invalid"`
	Cached      int  `json:"cached"`
	Dispatched  int  `json:"dispatched"`
	Recorded    int  `json:"recorded"`
	Skipped     int  `json:"skipped"`
	Failures    int  `json:"failures"`
	CaughtUp    bool `json:"caught_up"`
	Interrupted bool `json:"interrupted"`
}

// reportFields are the counters a run expectation may name.
var reportFields = map[string]bool{
	"pulled": true, "invalid": true, "cached": true, "dispatched": true,
	"recorded": true, "skipped": true, "failures": true,
	"caught_up": true, "interrupted": true,
}

func snapshotReport(r engine.Report) ReportSnapshot {
	return ReportSnapshot{
		Pulled:      r.Pulled,
		Invalid:     r.Invalid,
		Cached:      r.Cached,
		Dispatched:  r.Dispatched,
		Recorded:    r.Recorded,
		Skipped:     r.Skipped,
		Failures:    r.Failures,
		CaughtUp:    r.CaughtUp,
		Interrupted: r.Interrupted,
	}
}

func (r ReportSnapshot) fields() map[string]any {
	return map[string]any{
		"pulled":      r.Pulled,
		"invalid":     r.Invalid,
		"cached":      r.Cached,
		"dispatched":  r.Dispatched,
		"recorded":    r.Recorded,
		"skipped":     r.Skipped,
		"failures":    r.Failures,
		"caught_up":   r.CaughtUp,
		"interrupted": r.Interrupted,
	}
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{Pass: true, Runs: []RunSnapshot{}, Errors: []string{}}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
