package vexproject

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/imbal/vex/vexerr"
	"github.com/imbal/vex/vexmodel"
	"github.com/imbal/vex/vextxn"
)

func newUUID() string { return uuid.NewString() }

func (p *Project) currentPrefix() (string, error) {
	data, err := p.state.Get("prefix")
	if err != nil {
		return "/", nil
	}
	return string(data), nil
}

// Switch materialises newPrefix from the active session's current
// commit, stashing whatever local modifications fall out of view and
// restoring whatever falls back into it.
func (p *Project) Switch(newPrefix string) (err error) {
	defer vexerr.Recover(&err)

	activeUUID, err := p.getActiveSessionUUID()
	if err != nil {
		return err
	}
	oldPrefix, err := p.currentPrefix()
	if err != nil {
		return err
	}
	if oldPrefix == newPrefix {
		return nil
	}

	tx := vextxn.NewSwitchTransaction("switch", now(), oldPrefix, activeUUID)
	tx.SetPrefix(newPrefix)
	if err := p.switchMaterialize(tx, activeUUID, oldPrefix, activeUUID, newPrefix); err != nil {
		return err
	}
	action, err := tx.Action()
	if err != nil {
		return err
	}
	_, err = p.engine.Do(*action, p.applyForward)
	return err
}

// OpenBranch attaches the active session's owner to the named branch,
// creating both the branch and a fresh attached session if create is
// true and the name is not already bound.
func (p *Project) OpenBranch(name string, create bool) (err error) {
	defer vexerr.Recover(&err)

	branch, berr := p.getBranchByName(name)
	oldUUID, err := p.getActiveSessionUUID()
	if err != nil {
		return err
	}
	oldPrefix, err := p.currentPrefix()
	if err != nil {
		return err
	}

	tx := vextxn.NewSwitchTransaction("open_branch", now(), oldPrefix, oldUUID)

	if berr != nil {
		if !create {
			return fmt.Errorf("%w: no branch named %q", vexerr.ErrArgument, name)
		}
		branch = &vexmodel.Branch{UUID: newUUID(), Name: name, State: vexmodel.BranchCreated}
		tx.SetBranch(branch.UUID, nil, mustEncode(branch))
		tx.BindName(name, "", branch.UUID)
	}

	var sessUUID string
	if len(branch.Sessions) > 0 {
		sessUUID = branch.Sessions[0]
	} else {
		newSession := &vexmodel.Session{
			UUID:    newUUID(),
			Branch:  branch.UUID,
			State:   vexmodel.SessionAttached,
			Prefix:  branch.Prefix,
			Prepare: branch.Head,
			Commit:  branch.Head,
			Files:   map[string]vexmodel.Tracked{},
		}
		tx.SetSession(newSession.UUID, nil, mustEncode(newSession))
		oldBranchBytes := mustEncode(branch)
		branch.Sessions = append(branch.Sessions, newSession.UUID)
		tx.SetBranch(branch.UUID, oldBranchBytes, mustEncode(branch))
		sessUUID = newSession.UUID
	}

	tx.SetActive(sessUUID)
	tx.SetPrefix(branch.Prefix)
	if err := p.switchMaterialize(tx, oldUUID, oldPrefix, sessUUID, branch.Prefix); err != nil {
		return err
	}
	action, err := tx.Action()
	if err != nil {
		return err
	}
	_, err = p.engine.Do(*action, p.applyForward)
	return err
}

// NewBranch allocates a fresh branch named name, forked from the active
// session's current head when fork is true (otherwise starting empty),
// with a new attached session, and switches active to it.
func (p *Project) NewBranch(name string, fork bool) (err error) {
	defer vexerr.Recover(&err)

	if _, err := p.getBranchByName(name); err == nil {
		return fmt.Errorf("%w: branch %q already exists", vexerr.ErrArgument, name)
	}

	oldUUID, err := p.getActiveSessionUUID()
	if err != nil {
		return err
	}
	oldPrefix, err := p.currentPrefix()
	if err != nil {
		return err
	}
	oldSession, err := p.getSession(oldUUID)
	if err != nil {
		return err
	}

	newBranch := &vexmodel.Branch{UUID: newUUID(), Name: name, State: vexmodel.BranchCreated, Prefix: oldPrefix}
	if fork {
		newBranch.Head = oldSession.Commit
		newBranch.Base = oldSession.Commit
		newBranch.Init = oldSession.Commit
		newBranch.Upstream = oldSession.Branch
	}
	newSession := &vexmodel.Session{
		UUID:    newUUID(),
		Branch:  newBranch.UUID,
		State:   vexmodel.SessionAttached,
		Prefix:  oldPrefix,
		Prepare: newBranch.Head,
		Commit:  newBranch.Head,
		Files:   map[string]vexmodel.Tracked{},
	}
	newBranch.Sessions = []string{newSession.UUID}

	tx := vextxn.NewSwitchTransaction("new_branch", now(), oldPrefix, oldUUID)
	tx.SetBranch(newBranch.UUID, nil, mustEncode(newBranch))
	tx.SetSession(newSession.UUID, nil, mustEncode(newSession))
	tx.BindName(name, "", newBranch.UUID)
	tx.SetActive(newSession.UUID)
	tx.SetPrefix(oldPrefix)

	if err := p.switchMaterialize(tx, oldUUID, oldPrefix, newSession.UUID, oldPrefix); err != nil {
		return err
	}
	action, err := tx.Action()
	if err != nil {
		return err
	}
	_, err = p.engine.Do(*action, p.applyForward)
	return err
}

// SaveAs re-parents the active session onto a freshly allocated branch
// at the session's current head, leaving the working directory and
// prefix untouched.
func (p *Project) SaveAs(name string) (err error) {
	defer vexerr.Recover(&err)

	if _, err := p.getBranchByName(name); err == nil {
		return fmt.Errorf("%w: branch %q already exists", vexerr.ErrArgument, name)
	}

	activeUUID, err := p.getActiveSessionUUID()
	if err != nil {
		return err
	}
	sess, err := p.getSession(activeUUID)
	if err != nil {
		return err
	}
	oldBranch, err := p.getBranchByUUID(sess.Branch)
	if err != nil {
		return err
	}

	newBranch := &vexmodel.Branch{
		UUID:     newUUID(),
		Name:     name,
		State:    vexmodel.BranchActive,
		Prefix:   oldBranch.Prefix,
		Head:     sess.Commit,
		Base:     sess.Commit,
		Init:     oldBranch.Init,
		Upstream: oldBranch.UUID,
		Sessions: []string{activeUUID},
	}

	tx := vextxn.NewSwitchTransaction("save_as", now(), oldBranch.Prefix, activeUUID)
	tx.SetBranch(newBranch.UUID, nil, mustEncode(newBranch))
	tx.BindName(name, "", newBranch.UUID)

	oldBranchBytes, err := oldBranch.Encode()
	if err != nil {
		return err
	}
	oldBranch.Sessions = removeString(oldBranch.Sessions, activeUUID)
	tx.SetBranch(oldBranch.UUID, oldBranchBytes, mustEncode(oldBranch))

	oldSessionBytes, err := sess.Encode()
	if err != nil {
		return err
	}
	sess.Branch = newBranch.UUID
	tx.SetSession(activeUUID, oldSessionBytes, mustEncode(sess))

	action, err := tx.Action()
	if err != nil {
		return err
	}
	_, err = p.engine.Do(*action, p.applyForward)
	return err
}

func removeString(list []string, s string) []string {
	out := list[:0:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func mustEncode(e interface{ Encode() ([]byte, error) }) []byte {
	data, err := e.Encode()
	if err != nil {
		vexerr.Raise(fmt.Sprintf("encoding record: %v", err))
	}
	return data
}
