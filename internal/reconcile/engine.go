// Package reconcile merges normalized rows into the customer, contact and
// action-flag tables.
package reconcile

import (
	"context"
	"fmt"
	"hash/fnv"

	"contact-import/internal/logging"
	"contact-import/internal/normalize"
	"contact-import/internal/report"
	"contact-import/internal/util"

	"golang.org/x/sync/errgroup"
)

// FailureSink receives every failed row, e.g. to write a re-importable file.
type FailureSink interface {
	Write(f report.RowFailure) error
}

// Options controls how the engine writes rows.
type Options struct {
	// Atomic runs the three phases of a row in one transaction when the store
	// implements Transactor. Otherwise earlier phases stay committed when a
	// later phase fails.
	Atomic bool
	// Workers is the number of lanes. Values below 2 process strictly in order.
	Workers int
	// Failures, if set, gets a copy of each failed row.
	Failures FailureSink
}

// Engine performs the customer → contact → flags cascade for each row.
type Engine struct {
	store Store
	opts  Options
	tx    Transactor
}

// NewEngine creates an engine writing to store.
func NewEngine(store Store, opts Options) *Engine {
	e := &Engine{store: store, opts: opts}
	if opts.Atomic {
		if tx, ok := store.(Transactor); ok {
			e.tx = tx
		} else {
			logging.Logf(logging.Warning, "Store %T does not support transactions; rows are written without rollback.", store)
		}
	}
	return e
}

// Run imports rows in order and records each outcome in rep. Row failures
// never abort the run; only a cancelled context does, in which case rows not
// yet started are left untouched and ctx.Err() is returned.
func (e *Engine) Run(ctx context.Context, rows []normalize.Row, rep *report.Report) error {
	if e.opts.Workers < 2 || len(rows) < 2 {
		return e.runLane(ctx, rows, rep)
	}

	lanes := partition(rows, e.opts.Workers)
	logging.Logf(logging.Debug, "Reconciling %d rows in %d lanes", len(rows), len(lanes))

	var g errgroup.Group
	for _, lane := range lanes {
		lane := lane
		g.Go(func() error {
			return e.runLane(ctx, lane, rep)
		})
	}
	return g.Wait()
}

// partition spreads rows over n lanes by customer name. Rows of one customer
// (and therefore of one contact) land in the same lane in input order.
func partition(rows []normalize.Row, n int) [][]normalize.Row {
	buckets := make([][]normalize.Row, n)
	for _, row := range rows {
		h := fnv.New32a()
		_, _ = h.Write([]byte(row.CustomerKey()))
		idx := int(h.Sum32() % uint32(n))
		buckets[idx] = append(buckets[idx], row)
	}
	lanes := buckets[:0]
	for _, b := range buckets {
		if len(b) > 0 {
			lanes = append(lanes, b)
		}
	}
	return lanes
}

func (e *Engine) runLane(ctx context.Context, rows []normalize.Row, rep *report.Report) error {
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			logging.Logf(logging.Warning, "Import interrupted before line %d: %v", row.Line, err)
			return err
		}
		e.importRow(ctx, row, rep)
	}
	return nil
}

func (e *Engine) importRow(ctx context.Context, row normalize.Row, rep *report.Report) {
	phase, err := e.apply(ctx, row)
	if err != nil {
		e.fail(rep, row, phase, err)
		return
	}
	logging.Logf(logging.Debug, "Line %d imported: %q / %q", row.Line, row.CustomerName, row.ContactName)
	rep.RecordSuccess()
}

func (e *Engine) apply(ctx context.Context, row normalize.Row) (report.Phase, error) {
	if e.tx == nil {
		return cascade(ctx, e.store, row)
	}
	var failed report.Phase
	err := e.tx.WithinTx(ctx, func(s Store) error {
		p, err := cascade(ctx, s, row)
		failed = p
		return err
	})
	if err != nil && failed == "" {
		failed = report.PhaseCommit
	}
	return failed, err
}

// cascade runs the three upserts and stops at the first failing phase.
func cascade(ctx context.Context, s Store, row normalize.Row) (report.Phase, error) {
	customerID, err := s.UpsertCustomer(ctx, Customer{
		Name:    row.CustomerName,
		Street:  row.Street,
		Zip:     row.Zip,
		City:    row.City,
		Country: row.Country,
	})
	if err != nil {
		return report.PhaseCustomer, fmt.Errorf("upsert customer %q: %w", row.CustomerName, err)
	}

	contactID, err := s.UpsertContact(ctx, Contact{
		CustomerID: customerID,
		Name:       row.ContactName,
		Email:      row.Email,
		Phone:      row.Phone,
		Notes:      row.Notes,
	})
	if err != nil {
		return report.PhaseContact, fmt.Errorf("upsert contact %q: %w", row.ContactName, err)
	}

	if err := s.UpsertActionFlags(ctx, contactID, row.Flags); err != nil {
		return report.PhaseFlags, fmt.Errorf("upsert action flags for contact %d: %w", contactID, err)
	}
	return "", nil
}

func (e *Engine) fail(rep *report.Report, row normalize.Row, phase report.Phase, err error) {
	f := report.RowFailure{Line: row.Line, Phase: phase, Error: err.Error(), Raw: row.Raw}
	rep.RecordFailure(f)
	logging.Logf(logging.Warning, "Line %d failed in %s phase: %v", row.Line, phase, err)
	logging.Logf(logging.Debug, "Line %d data (masked): %v", row.Line, util.MaskSensitiveData(row.Raw))

	if e.opts.Failures != nil {
		if werr := e.opts.Failures.Write(f); werr != nil {
			logging.Logf(logging.Error, "Failed to record failed line %d: %v", row.Line, werr)
		}
	}
}
