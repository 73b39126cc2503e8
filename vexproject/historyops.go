package vexproject

import (
	"github.com/imbal/vex/vexerr"
	"github.com/imbal/vex/vexmodel"
)

// Undo reverses the last action in the history log, applying its
// backward effects via applyBackward.
func (p *Project) Undo() (action vexmodel.Action, err error) {
	defer vexerr.Recover(&err)
	return p.engine.Undo(p.applyBackward)
}

// Redo re-applies the nth choice (0-indexed, most-recently-undone first)
// from RedoChoices, forward via applyForward.
func (p *Project) Redo(n int) (action vexmodel.Action, err error) {
	defer vexerr.Recover(&err)
	return p.engine.Redo(n, p.applyForward)
}

// RedoChoices lists the actions available to Redo, in the order Redo
// indexes them.
func (p *Project) RedoChoices() (choices []vexmodel.Action, err error) {
	defer vexerr.Recover(&err)
	return p.engine.RedoChoices()
}
