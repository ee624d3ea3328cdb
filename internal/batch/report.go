/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package batch

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// Failure is one failed item in a report.
type Failure struct {
	Item     string
	Category Category
	Message  string
}

// Report aggregates the outcomes of one stage.
type Report struct {
	Stage       string
	Total       int
	Succeeded   int
	Skipped     int
	Failures    []Failure
	ByCategory  map[Category]int
	Outputs     []string
	Interrupted bool
	Started     time.Time
	Finished    time.Time
}

func NewReport(stage string) *Report {
	return &Report{Stage: stage, ByCategory: map[Category]int{}, Started: time.Now()}
}

// Add counts one outcome.
func (r *Report) Add(o Outcome) {
	r.Total++
	switch o.Status {
	case StatusOK:
		r.Succeeded++
		if o.Output.Path != "" {
			r.Outputs = append(r.Outputs, o.Output.Path)
		}
	case StatusSkipped:
		r.Skipped++
	default:
		cat := o.Category
		if cat == "" {
			cat = CategoryUnexpected
		}
		msg := "unknown error"
		if o.Err != nil {
			msg = o.Err.Error()
		}
		r.ByCategory[cat]++
		r.Failures = append(r.Failures, Failure{Item: o.Item, Category: cat, Message: msg})
	}
}

// Finish stamps the end time.
func (r *Report) Finish() { r.Finished = time.Now() }

// Failed is the number of failed items.
func (r *Report) Failed() int { return len(r.Failures) }

// OK reports whether the stage finished without failures.
func (r *Report) OK() bool { return r.Failed() == 0 && !r.Interrupted }

// WriteTo prints the human-readable summary.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "== %s ==\n", r.Stage)
	fmt.Fprintf(&b, "total: %d  ok: %d  skipped: %d  failed: %d\n", r.Total, r.Succeeded, r.Skipped, r.Failed())
	if len(r.ByCategory) > 0 {
		cats := make([]string, 0, len(r.ByCategory))
		for c := range r.ByCategory {
			cats = append(cats, string(c))
		}
		sort.Strings(cats)
		for _, c := range cats {
			fmt.Fprintf(&b, "  %-20s %d\n", c, r.ByCategory[Category(c)])
		}
	}
	for _, f := range r.Failures {
		fmt.Fprintf(&b, "  x %s [%s] %s\n", f.Item, f.Category, f.Message)
	}
	if r.Interrupted {
		b.WriteString("interrupted before all items were processed\n")
	}
	if !r.Finished.IsZero() {
		fmt.Fprintf(&b, "took %s\n", r.Finished.Sub(r.Started).Round(time.Millisecond))
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// Merge folds the counts of other into a combined summary.
func (r *Report) Merge(other *Report) {
	r.Total += other.Total
	r.Succeeded += other.Succeeded
	r.Skipped += other.Skipped
	r.Failures = append(r.Failures, other.Failures...)
	for c, n := range other.ByCategory {
		r.ByCategory[c] += n
	}
	r.Outputs = append(r.Outputs, other.Outputs...)
	r.Interrupted = r.Interrupted || other.Interrupted
}

// Combine sums reports into one summary named stage. The summary spans from
// the first report's start to the last report's finish.
func Combine(stage string, reps []*Report) *Report {
	sum := NewReport(stage)
	for i, r := range reps {
		if r == nil {
			continue
		}
		if i == 0 || r.Started.Before(sum.Started) {
			sum.Started = r.Started
		}
		if r.Finished.After(sum.Finished) {
			sum.Finished = r.Finished
		}
		sum.Merge(r)
	}
	return sum
}
