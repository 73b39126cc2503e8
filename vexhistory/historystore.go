// Package vexhistory implements the reversible command journal: the
// append-only HistoryStore tables and the do/undo/redo/rollback/restart
// protocol layered over them.
//
// The ordering guarantee - next is written before an operation's physical
// effects and cleared after them - is modelled on the teacher's own
// ref-update protocol (storage/filesystem/dotgit's lock-check-write-unlock
// shape in dotgit_setref.go): a crash between those two writes leaves a
// recoverable state, the same property go-git relies on for its packed-refs
// rewrite.
package vexhistory

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/imbal/vex/vexerr"
	"github.com/imbal/vex/vexhash"
	"github.com/imbal/vex/vexmodel"
	"github.com/imbal/vex/vexstore"
)

// Sentinel is the well-known "no action yet" address current/prev hold
// before any Action has ever been recorded.
const Sentinel vexhash.Address = "history:init"

// Mode enumerates what next.mode was proposing when it was last written.
type Mode string

const (
	ModeDo       Mode = "do"
	ModeQuiet    Mode = "quiet"
	ModeUndo     Mode = "undo"
	ModeRedo     Mode = "redo"
	ModeRollback Mode = "rollback"
)

// Next is the singleton "in-flight Action" record: the proposed new
// current, and the current it was proposed against.
type Next struct {
	Mode          Mode            `json:"mode"`
	Value         vexhash.Address `json:"value"`
	CurrentAtTime vexhash.Address `json:"current_at_time"`
}

// doRecord is what the dos table stores per Action address.
type doRecord struct {
	Prev   vexhash.Address `json:"prev"`
	Action []byte          `json:"action"`
}

// HistoryStore persists the four tables described in §4.3: a singleton
// current pointer, a singleton next pointer, an append-only dos table,
// and a redos table of undone-action stacks.
type HistoryStore struct {
	state *vexstore.FileStore // current, next
	dos   *vexstore.FileStore // keyed by action address
	redos *vexstore.FileStore // keyed by "from" state address
}

func NewHistoryStore(dir string) (*HistoryStore, error) {
	state, err := vexstore.NewFileStore(dir + "/state")
	if err != nil {
		return nil, err
	}
	dos, err := vexstore.NewFileStore(dir + "/dos")
	if err != nil {
		return nil, err
	}
	redos, err := vexstore.NewFileStore(dir + "/redos")
	if err != nil {
		return nil, err
	}
	return &HistoryStore{state: state, dos: dos, redos: redos}, nil
}

// Current returns the address of the most recently applied Action, or
// Sentinel if the log is empty.
func (h *HistoryStore) Current() (vexhash.Address, error) {
	ok, err := h.state.Has("current")
	if err != nil {
		return "", err
	}
	if !ok {
		return Sentinel, nil
	}
	data, err := h.state.Get("current")
	if err != nil {
		return "", err
	}
	return vexhash.Address(data), nil
}

func (h *HistoryStore) setCurrent(addr vexhash.Address) error {
	return h.state.Put("current", []byte(addr))
}

// GetNext returns the in-flight proposal, or nil if the state is clean
// (there is no next pointer, which is itself the clean state per the
// first write of history ever).
func (h *HistoryStore) GetNext() (*Next, error) {
	ok, err := h.state.Has("next")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	data, err := h.state.Get("next")
	if err != nil {
		return nil, err
	}
	var n Next
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("%w: decoding next pointer: %v", vexerr.ErrCorruption, err)
	}
	return &n, nil
}

func (h *HistoryStore) setNext(n Next) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return h.state.Put("next", data)
}

// CleanState reports whether next.value == current (§4.3).
func (h *HistoryStore) CleanState() (bool, error) {
	cur, err := h.Current()
	if err != nil {
		return false, err
	}
	next, err := h.GetNext()
	if err != nil {
		return false, err
	}
	if next == nil {
		return true, nil
	}
	return next.Value == cur, nil
}

// PutAction appends action to the dos table, recording prev as its
// predecessor. The entry's address is derived from prev and the action's
// encoding together, so the same action recorded at two points in the
// history gets two distinct entries. Returns that address.
func (h *HistoryStore) PutAction(prev vexhash.Address, action vexmodel.Action) (vexhash.Address, error) {
	data, err := vexmodel.EncodeAction(action)
	if err != nil {
		return "", err
	}
	addr, err := vexhash.NewAddress("action", append([]byte(string(prev)+"\x00"), data...))
	if err != nil {
		return "", err
	}
	rec := doRecord{Prev: prev, Action: data}
	recData, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	if err := h.dos.Put(addr.Hex(), recData); err != nil {
		return "", err
	}
	return addr, nil
}

// GetDo reads back the (prev, action) pair stored at addr.
func (h *HistoryStore) GetDo(addr vexhash.Address) (vexhash.Address, vexmodel.Action, error) {
	if addr == Sentinel {
		return "", nil, errors.New("vexhistory: sentinel has no do record")
	}
	data, err := h.dos.Get(addr.Hex())
	if err != nil {
		return "", nil, fmt.Errorf("%w: action %s not found: %v", vexerr.ErrCorruption, addr, err)
	}
	var rec doRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", nil, fmt.Errorf("%w: decoding do record: %v", vexerr.ErrCorruption, err)
	}
	action, err := vexmodel.DecodeAction(rec.Action)
	if err != nil {
		return "", nil, fmt.Errorf("%w: decoding action: %v", vexerr.ErrCorruption, err)
	}
	return rec.Prev, action, nil
}

// redoStack is the JSON shape of a redos[key] entry: an ordered list of
// undone Action addresses, most-recently-undone first.
type redoStack struct {
	Addrs []vexhash.Address `json:"addrs"`
}

func (h *HistoryStore) getRedos(key vexhash.Address) ([]vexhash.Address, error) {
	ok, err := h.redos.Has(key.Hex())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	data, err := h.redos.Get(key.Hex())
	if err != nil {
		return nil, err
	}
	var s redoStack
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: decoding redo stack: %v", vexerr.ErrCorruption, err)
	}
	return s.Addrs, nil
}

func (h *HistoryStore) setRedos(key vexhash.Address, addrs []vexhash.Address) error {
	if len(addrs) == 0 {
		return h.redos.Delete(key.Hex())
	}
	data, err := json.Marshal(redoStack{Addrs: addrs})
	if err != nil {
		return err
	}
	return h.redos.Put(key.Hex(), data)
}

// RedoChoices lists the Action addresses available to redo from the
// given state, most-recently-undone first.
func (h *HistoryStore) RedoChoices(from vexhash.Address) ([]vexhash.Address, error) {
	return h.getRedos(from)
}
