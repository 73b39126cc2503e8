package vexhistory

import (
	"fmt"

	"github.com/imbal/vex/vexerr"
	"github.com/imbal/vex/vexhash"
	"github.com/imbal/vex/vexmodel"
)

// Engine implements the do/undo/redo/rollback/restart protocol over a
// HistoryStore (§4.3). Every operation requires CleanState(); callers are
// expected to call RollbackNew or RestartNew first if it is not.
type Engine struct {
	store *HistoryStore
}

func NewEngine(store *HistoryStore) *Engine {
	return &Engine{store: store}
}

// Apply is the callback a caller supplies to Do/Undo/Redo: it performs
// the physical side effects (blob promotion, FileStore writes, working
// directory updates) described by action, and must not fail partway
// without leaving the filesystem in a state RollbackNew/RestartNew can
// reconcile.
type Apply func(action vexmodel.Action) error

func (e *Engine) requireClean() error {
	clean, err := e.store.CleanState()
	if err != nil {
		return err
	}
	if !clean {
		return vexerr.ErrUnclean
	}
	return nil
}

// Do appends action as the new current state, invoking apply between
// recording the in-flight proposal and committing it - the ordering
// guarantee that makes a crash mid-operation recoverable.
func (e *Engine) Do(action vexmodel.Action, apply Apply) (vexhash.Address, error) {
	if err := e.requireClean(); err != nil {
		return "", err
	}
	cur, err := e.store.Current()
	if err != nil {
		return "", err
	}
	addr, err := e.store.PutAction(cur, action)
	if err != nil {
		return "", err
	}
	if err := e.store.setNext(Next{Mode: ModeDo, Value: addr, CurrentAtTime: cur}); err != nil {
		return "", err
	}
	if err := apply(action); err != nil {
		return "", fmt.Errorf("vexhistory: applying action: %w", err)
	}
	if err := e.store.setCurrent(addr); err != nil {
		return "", err
	}
	return addr, nil
}

// DoWithoutUndo records action for replay (it is observable via the dos
// table) without advancing current, so it is invisible to Undo/Redo.
func (e *Engine) DoWithoutUndo(action vexmodel.Action, apply Apply) (vexhash.Address, error) {
	if err := e.requireClean(); err != nil {
		return "", err
	}
	cur, err := e.store.Current()
	if err != nil {
		return "", err
	}
	addr, err := e.store.PutAction(cur, action)
	if err != nil {
		return "", err
	}
	if err := e.store.setNext(Next{Mode: ModeQuiet, Value: addr, CurrentAtTime: cur}); err != nil {
		return "", err
	}
	if err := apply(action); err != nil {
		return "", fmt.Errorf("vexhistory: applying quiet action: %w", err)
	}
	if err := e.store.setNext(Next{Mode: ModeDo, Value: cur, CurrentAtTime: cur}); err != nil {
		return "", err
	}
	return addr, nil
}

// Undo reverts the effect of the current Action, pushing it onto the
// redo stack for its predecessor state. unapply must invert action's
// physical effects (writing Old back over New for every staged field).
func (e *Engine) Undo(unapply Apply) (vexmodel.Action, error) {
	if err := e.requireClean(); err != nil {
		return nil, err
	}
	cur, err := e.store.Current()
	if err != nil {
		return nil, err
	}
	if cur == Sentinel {
		return nil, nil
	}
	prev, action, err := e.store.GetDo(cur)
	if err != nil {
		return nil, err
	}
	redos, err := e.store.getRedos(prev)
	if err != nil {
		return nil, err
	}
	redos = append([]vexhash.Address{cur}, redos...)

	if err := e.store.setNext(Next{Mode: ModeUndo, Value: prev, CurrentAtTime: cur}); err != nil {
		return nil, err
	}
	if err := unapply(action); err != nil {
		return nil, fmt.Errorf("vexhistory: undoing action: %w", err)
	}
	if err := e.store.setRedos(prev, redos); err != nil {
		return nil, err
	}
	if err := e.store.setCurrent(prev); err != nil {
		return nil, err
	}
	return action, nil
}

// RedoChoices lists the Actions available to redo from the current
// state, most-recently-undone first.
func (e *Engine) RedoChoices() ([]vexmodel.Action, error) {
	cur, err := e.store.Current()
	if err != nil {
		return nil, err
	}
	addrs, err := e.store.RedoChoices(cur)
	if err != nil {
		return nil, err
	}
	actions := make([]vexmodel.Action, 0, len(addrs))
	for _, a := range addrs {
		_, action, err := e.store.GetDo(a)
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	return actions, nil
}

// Redo re-applies the nth most-recently-undone Action from the current
// state (0 is the most recent).
func (e *Engine) Redo(n int, reapply Apply) (vexmodel.Action, error) {
	if err := e.requireClean(); err != nil {
		return nil, err
	}
	cur, err := e.store.Current()
	if err != nil {
		return nil, err
	}
	redos, err := e.store.getRedos(cur)
	if err != nil {
		return nil, err
	}
	if n < 0 || n >= len(redos) {
		return nil, fmt.Errorf("%w: no redo choice %d (have %d)", vexerr.ErrArgument, n, len(redos))
	}
	popped := redos[n]
	remaining := append(append([]vexhash.Address{}, redos[:n]...), redos[n+1:]...)

	_, action, err := e.store.GetDo(popped)
	if err != nil {
		return nil, err
	}

	if err := e.store.setNext(Next{Mode: ModeRedo, Value: popped, CurrentAtTime: cur}); err != nil {
		return nil, err
	}
	if err := reapply(action); err != nil {
		return nil, fmt.Errorf("vexhistory: redoing action: %w", err)
	}
	if err := e.store.setRedos(cur, remaining); err != nil {
		return nil, err
	}
	if err := e.store.setCurrent(popped); err != nil {
		return nil, err
	}
	return action, nil
}

// PendingRecovery describes an in-flight operation discovered at startup
// (or after a crash) that must be reconciled before any new operation
// can proceed.
type PendingRecovery struct {
	Mode   Mode
	Action vexmodel.Action
	// Forward is true when the partial operation was moving current
	// forward (Do/DoWithoutUndo/Redo - the caller should undo whatever
	// partial physical effects it already performed for Action) and
	// false when it was moving current backward (Undo - the caller
	// should re-apply Action's effects to restore the pre-undo state).
	Forward bool
}

// pending inspects the current next pointer and resolves which Action it
// refers to and which direction reconciliation must run, without
// mutating anything.
func (e *Engine) pending() (*PendingRecovery, error) {
	next, err := e.store.GetNext()
	if err != nil {
		return nil, err
	}
	if next == nil {
		return nil, nil
	}
	cur, err := e.store.Current()
	if err != nil {
		return nil, err
	}
	if next.Value == cur {
		return nil, nil
	}

	switch next.Mode {
	case ModeDo, ModeQuiet:
		_, action, err := e.store.GetDo(next.Value)
		if err != nil {
			return nil, err
		}
		return &PendingRecovery{Mode: next.Mode, Action: action, Forward: true}, nil
	case ModeRedo:
		_, action, err := e.store.GetDo(next.Value)
		if err != nil {
			return nil, err
		}
		return &PendingRecovery{Mode: next.Mode, Action: action, Forward: true}, nil
	case ModeUndo:
		_, action, err := e.store.GetDo(next.CurrentAtTime)
		if err != nil {
			return nil, err
		}
		return &PendingRecovery{Mode: next.Mode, Action: action, Forward: false}, nil
	default:
		return nil, fmt.Errorf("%w: unrecognised pending mode %q", vexerr.ErrCorruption, next.Mode)
	}
}

// RollbackNew reconciles a crash between next being written and current
// being updated by undoing whatever partial effects the in-flight
// operation performed, then clearing next back to the clean state. A
// no-op if the state is already clean.
func (e *Engine) RollbackNew(undoPartial Apply) error {
	p, err := e.pending()
	if err != nil {
		return err
	}
	if p == nil {
		return nil
	}
	if err := undoPartial(p.Action); err != nil {
		return fmt.Errorf("vexhistory: rolling back partial action: %w", err)
	}
	cur, err := e.store.Current()
	if err != nil {
		return err
	}
	return e.store.setNext(Next{Mode: ModeRollback, Value: cur, CurrentAtTime: ""})
}

// RestartNew reconciles a crash by completing the in-flight operation
// instead of reverting it: it re-applies the partial effects and
// advances current to next.value (except for a quiet proposal, which
// only clears next since current never moves for DoWithoutUndo).
func (e *Engine) RestartNew(finishPartial Apply) error {
	p, err := e.pending()
	if err != nil {
		return err
	}
	if p == nil {
		return nil
	}
	next, err := e.store.GetNext()
	if err != nil {
		return err
	}
	if err := finishPartial(p.Action); err != nil {
		return fmt.Errorf("vexhistory: restarting partial action: %w", err)
	}
	if next.Mode == ModeQuiet {
		cur, err := e.store.Current()
		if err != nil {
			return err
		}
		return e.store.setNext(Next{Mode: ModeDo, Value: cur, CurrentAtTime: cur})
	}
	return e.store.setCurrent(next.Value)
}
