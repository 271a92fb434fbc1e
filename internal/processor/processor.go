// Package processor runs one spreadsheet through filtering, header
// resolution, normalization and reconciliation.
package processor

import (
	"context"
	"errors"
	"fmt"

	"contact-import/internal/logging"
	"contact-import/internal/normalize"
	"contact-import/internal/reconcile"
	"contact-import/internal/report"
	"contact-import/internal/schema"
	"contact-import/internal/util"

	"github.com/Knetic/govaluate"
)

// firstDataLine is the sheet line of the first record; line 1 is the header.
const firstDataLine = 2

// previewSampleSize limits the rows logged by Preview.
const previewSampleSize = 5

// Processor defines the interface for importing records.
// This allows mocking the processor implementation in tests.
type Processor interface {
	// Process imports records and returns the run report. An error is only
	// returned when the run could not complete, e.g. a cancelled context.
	Process(ctx context.Context, records []map[string]interface{}) (*report.Report, error)
	// Preview resolves, filters and normalizes records without writing.
	Preview(records []map[string]interface{}) *report.Report
}

// expressionEvaluator defines the interface for evaluating filter expressions.
// This allows mocking the govaluate dependency.
type expressionEvaluator interface {
	Evaluate(map[string]interface{}) (interface{}, error)
}

// newExpressionEvaluatorFunc wraps govaluate and can be overridden in tests.
var newExpressionEvaluatorFunc = func(expr string) (expressionEvaluator, error) {
	evalExpr, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return nil, err
	}
	return evalExpr, nil
}

// processorImpl implements the Processor interface.
type processorImpl struct {
	engine     *reconcile.Engine
	filter     expressionEvaluator
	filterExpr string
}

// NewProcessor creates a Processor writing to store. store may be nil for a
// processor that only previews. filter is an optional govaluate expression
// over raw header names; rows for which it is not true are not imported.
func NewProcessor(store reconcile.Store, filter string, opts reconcile.Options) (Processor, error) {
	p := &processorImpl{filterExpr: filter}
	if store != nil {
		p.engine = reconcile.NewEngine(store, opts)
	}
	if filter != "" {
		evaluator, err := newExpressionEvaluatorFunc(filter)
		if err != nil {
			return nil, fmt.Errorf("invalid filter expression '%s': %w", filter, err)
		}
		p.filter = evaluator
	}
	return p, nil
}

// Process imports records. Rows without customer or contact name are skipped;
// store failures are recorded per row and never abort the batch.
func (p *processorImpl) Process(ctx context.Context, records []map[string]interface{}) (*report.Report, error) {
	if p.engine == nil {
		return nil, errors.New("processor has no store; use Preview")
	}
	rep := report.New(len(records))
	if len(records) == 0 {
		logging.Logf(logging.Info, "Processor: No input records to process.")
		rep.Finish()
		return rep, nil
	}

	rows := p.prepare(records, rep)
	logging.Logf(logging.Info, "Processor: Importing %d of %d rows.", len(rows), len(records))

	err := p.engine.Run(ctx, rows, rep)
	rep.Finish()
	if err != nil {
		return rep, fmt.Errorf("import interrupted: %w", err)
	}

	if failed := len(rep.FailedLines()); failed > 0 {
		logging.Logf(logging.Warning, "Processor: %d rows failed; see the failure details for lines %v.", failed, rep.FailedLines())
	}
	return rep, nil
}

// Preview runs everything except the store writes.
func (p *processorImpl) Preview(records []map[string]interface{}) *report.Report {
	rep := report.New(len(records))
	rows := p.prepare(records, rep)

	sampleSize := previewSampleSize
	if len(rows) < sampleSize {
		sampleSize = len(rows)
	}
	for _, row := range rows[:sampleSize] {
		logging.Logf(logging.Debug, "DRY RUN line %d: %q / %q flags=%v data (masked): %v",
			row.Line, row.CustomerName, row.ContactName, row.Flags, util.MaskSensitiveData(row.Raw))
	}
	rep.Finish()
	return rep
}

// prepare resolves the header mapping once, then filters and normalizes each
// record, counting excluded rows in rep.
func (p *processorImpl) prepare(records []map[string]interface{}, rep *report.Report) []normalize.Row {
	mapping := schema.ResolveRows(records)
	logMapping(mapping)

	rows := make([]normalize.Row, 0, len(records))
	for i, raw := range records {
		line := i + firstDataLine
		if !p.keep(line, raw) {
			rep.RecordFiltered()
			continue
		}
		res := normalize.Normalize(line, raw, mapping)
		if !res.Valid {
			logging.Logf(logging.Warning, "Line %d skipped: %s", line, res.Reason)
			rep.RecordSkip()
			continue
		}
		rep.RecordValid()
		rows = append(rows, res.Row)
	}
	return rows
}

// keep evaluates the row filter. Evaluation errors and non-boolean results
// exclude the row.
func (p *processorImpl) keep(line int, raw map[string]interface{}) bool {
	if p.filter == nil {
		return true
	}
	result, err := p.filter.Evaluate(raw)
	if err != nil {
		logging.Logf(logging.Warning, "Filter '%s' failed on line %d: %v. Row excluded. Data (masked): %v", p.filterExpr, line, err, util.MaskSensitiveData(raw))
		return false
	}
	keep, isBool := result.(bool)
	if !isBool {
		logging.Logf(logging.Warning, "Filter '%s' returned non-bool %T (%v) on line %d. Row excluded.", p.filterExpr, result, result, line)
		return false
	}
	if !keep {
		logging.Logf(logging.Debug, "Line %d excluded by filter.", line)
	}
	return keep
}

func logMapping(m schema.Mapping) {
	for _, f := range m.Defaulted() {
		logging.Logf(logging.Warning, "No column found for %s (expected one of %v); assuming '%s'. Rows will be skipped if it is missing.",
			f, schema.Aliases(f), m.Header(f))
	}
	for _, f := range m.Unresolved() {
		if !m[f].Default {
			logging.Logf(logging.Debug, "Optional field %s not present in sheet.", f)
		}
	}
}
