package loader

import (
	"context"
	"fmt"

	"ingestor/internal/schema"
	"ingestor/internal/storage"
)

// corrector applies load-time schema widenings. Corrections are monotonic:
// a column only ever moves up the widening lattice, and a bounded budget
// covers the whole load. Both properties together guarantee the retry loop
// terminates.
type corrector struct {
	repo    storage.Repository
	table   string
	schema  schema.TableSchema
	budget  int
	applied []Correction
	log     Logger
}

func (c *corrector) correct(ctx context.Context, diag storage.Diagnostic) error {
	if len(c.applied) >= c.budget {
		return fmt.Errorf("loader: correction budget (%d) exhausted on %s: %s",
			c.budget, c.table, diag.Message)
	}

	i := c.schema.IndexOf(diag.Column)
	if i < 0 {
		return fmt.Errorf("loader: engine blamed unknown column %q on %s: %s",
			diag.Column, c.table, diag.Message)
	}
	cur := c.schema.Columns[i].Type

	target := diag.Suggested
	if target == "" || !schema.IsWider(target, cur) {
		// No usable suggestion, or a stale one that would not widen.
		// Step up the lattice from the current type instead.
		target = schema.Widen(cur)
	}
	if target == cur {
		return fmt.Errorf("loader: column %s.%s already %s but engine still rejects values: %s",
			c.table, diag.Column, cur, diag.Message)
	}

	c.log.Printf("loader: widening %s.%s %s -> %s (%s)", c.table, diag.Column, cur, target, diag.Code)
	if err := c.repo.AlterColumnType(ctx, c.table, diag.Column, target); err != nil {
		return err
	}

	c.schema.Columns[i].Type = target
	c.applied = append(c.applied, Correction{
		Column: diag.Column,
		From:   cur,
		To:     target,
		Code:   diag.Code,
	})
	return nil
}
