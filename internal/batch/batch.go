/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package batch runs one stage over a list of files. Every item either
// succeeds, is skipped, or fails with a classified error; a failing or
// panicking item never stops the batch.
package batch

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	applog "artemisport/internal/log"
)

// Status is the outcome of one item.
type Status string

const (
	StatusOK      Status = "ok"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Output describes what an item produced. Hashes are optional.
type Output struct {
	Path       string
	InputHash  string
	OutputHash string
}

// Func processes one item.
type Func func(ctx context.Context, item string) (Output, error)

// Outcome is the record of one processed item.
type Outcome struct {
	Item     string
	Output   Output
	Status   Status
	Category Category // set for failures
	Err      error
	Duration time.Duration
}

// Runner applies a Func to each item of a stage.
type Runner struct {
	Stage string
	// OnItem, when set, observes every outcome after it is counted.
	OnItem func(Outcome)
}

// Run processes items in order. It stops early only when ctx is cancelled.
func (r Runner) Run(ctx context.Context, items []string, fn Func) *Report {
	l := applog.WithOperation(applog.WithComponent("batch"), r.Stage)
	rep := NewReport(r.Stage)
	l.Info("stage started", slog.Int("items", len(items)))
	for _, item := range items {
		if ctx.Err() != nil {
			rep.Interrupted = true
			l.Warn("stage interrupted", slog.Any("err", ctx.Err()))
			break
		}
		o := r.runOne(ctx, item, fn)
		rep.Add(o)
		switch o.Status {
		case StatusFailed:
			attrs := []any{slog.String("item", item), slog.String("category", string(o.Category)), slog.Any("err", o.Err)}
			var pe *PanicError
			if errors.As(o.Err, &pe) {
				attrs = append(attrs, slog.String("stack", string(pe.Stack)))
			}
			l.ErrorContext(ctx, "item failed", attrs...)
		case StatusSkipped:
			l.DebugContext(ctx, "item skipped", slog.String("item", item), slog.Any("reason", o.Err))
		default:
			l.DebugContext(ctx, "item done", slog.String("item", item), slog.String("output", o.Output.Path))
		}
		if r.OnItem != nil {
			r.OnItem(o)
		}
	}
	rep.Finish()
	l.Info("stage finished",
		slog.Int("total", rep.Total),
		slog.Int("ok", rep.Succeeded),
		slog.Int("skipped", rep.Skipped),
		slog.Int("failed", rep.Failed()),
		slog.Duration("took", rep.Finished.Sub(rep.Started)))
	return rep
}

func (r Runner) runOne(ctx context.Context, item string, fn Func) (o Outcome) {
	start := time.Now()
	o.Item = item
	defer func() {
		if v := recover(); v != nil {
			o.Err = &PanicError{Value: v, Stack: debug.Stack()}
			o.Status = StatusFailed
			o.Category = CategoryUnexpected
		}
		o.Duration = time.Since(start)
	}()
	out, err := fn(ctx, item)
	o.Output = out
	switch {
	case err == nil:
		o.Status = StatusOK
	case errors.Is(err, ErrSkip):
		o.Status = StatusSkipped
		o.Err = err
	default:
		o.Status = StatusFailed
		o.Err = err
		o.Category = Classify(err)
	}
	return o
}
