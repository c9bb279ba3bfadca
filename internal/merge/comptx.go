package merge

import (
	"context"
	"log/slog"
)

// compTx is an ordered list of (do, undo) pairs: each completed step
// registers its inverse, and a later failure unwinds them newest-first.
// Commit disarms the undos.
type compTx struct {
	logger *slog.Logger
	undos  []compStep
	done   bool
}

type compStep struct {
	name string
	undo func(ctx context.Context) error
}

func newCompTx(logger *slog.Logger) *compTx {
	return &compTx{logger: logger}
}

// register records the inverse of a completed step.
func (t *compTx) register(name string, undo func(ctx context.Context) error) {
	t.undos = append(t.undos, compStep{name: name, undo: undo})
}

// rollback runs the registered undos in LIFO order. A failing undo is
// logged and the remaining ones still run: reversal is best-effort.
func (t *compTx) rollback(ctx context.Context) {
	if t.done {
		return
	}
	for i := len(t.undos) - 1; i >= 0; i-- {
		step := t.undos[i]
		if err := step.undo(ctx); err != nil {
			t.logger.Warn("merge: compensation failed", "step", step.name, "error", err)
		}
	}
	t.undos = nil
}

// commit disarms the undos; rollback becomes a no-op.
func (t *compTx) commit() {
	t.done = true
	t.undos = nil
}
