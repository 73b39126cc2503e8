// Command vex is the thin cobra-driven front end over vexproject.Project:
// every subcommand opens a Project rooted at the current directory, runs
// exactly one façade call, and closes it. No flag parses an argument the
// façade does not already accept, and no subcommand duplicates logic the
// façade itself owns (the same "thin command, fat package" split the
// teacher's own git-go plumbing/porcelain boundary draws).
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/imbal/vex/vexmodel"
	"github.com/imbal/vex/vexproject"
)

func main() {
	if os.Getenv("VEX_DEBUG") == "" {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "vex:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "vex",
		Short:         "a local, file-based version-control engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newInitCommand(),
		newAddCommand(),
		newForgetCommand(),
		newRemoveCommand(),
		newRestoreCommand(),
		newPrepareCommand(),
		newCommitCommand(),
		newAmendCommand(),
		newSwitchCommand(),
		newBranchCommand(),
		newUndoCommand(),
		newRedoCommand(),
		newStatusCommand(),
		newLogCommand(),
		newDiffCommand(),
		newRenameCommand(),
		newGCCommand(),
	)
	return root
}

// configAndWorkDir resolves the pair of directories every command opens
// a Project against: the working directory is always the process' cwd,
// and the settings directory is its "<workDir>/.vex" child, matching
// vexproject.SettingsDir.
func configAndWorkDir() (configDir, workDir string, err error) {
	workDir, err = os.Getwd()
	if err != nil {
		return "", "", err
	}
	return filepath.Join(workDir, vexproject.SettingsDir), workDir, nil
}

func withProject(fn func(p *vexproject.Project) error) error {
	configDir, workDir, err := configAndWorkDir()
	if err != nil {
		return err
	}
	p, err := vexproject.Open(configDir, workDir)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := p.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("vex: closing project")
		}
	}()
	return fn(p)
}

func newInitCommand() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "initialise a repository in the current directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, workDir, err := configAndWorkDir()
			if err != nil {
				return err
			}
			p, err := vexproject.Init(configDir, workDir, prefix, nil, nil, nil)
			if err != nil {
				return err
			}
			return p.Close()
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "/", "repo path this working directory materialises")
	return cmd
}

func newAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add <path>...",
		Short: "start tracking files, or refresh already-tracked ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(func(p *vexproject.Project) error {
				return p.Add(args, nil, nil)
			})
		},
	}
}

func newForgetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "forget <path>...",
		Short: "stop tracking files without touching the working copy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(func(p *vexproject.Project) error {
				return p.Forget(args)
			})
		},
	}
}

func newRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <path>...",
		Short: "stop tracking files and delete them from the working copy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(func(p *vexproject.Project) error {
				return p.Remove(args)
			})
		},
	}
}

func newRestoreCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <path>...",
		Short: "reset files back to their last tracked content",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(func(p *vexproject.Project) error {
				return p.Restore(args)
			})
		},
	}
}

func newPrepareCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prepare [path]...",
		Short: "stage the active changeset onto the session's prepare chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(func(p *vexproject.Project) error {
				return p.Prepare(args)
			})
		},
	}
}

func newCommitCommand() *cobra.Command {
	var author, message string
	cmd := &cobra.Command{
		Use:   "commit [path]...",
		Short: "fold the prepare chain and any remaining changes into a new commit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(func(p *vexproject.Project) error {
				return p.Commit(args, author, message)
			})
		},
	}
	cmd.Flags().StringVar(&author, "author", "", "author identity recorded on the commit")
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message (falls back to the template setting)")
	return cmd
}

func newAmendCommand() *cobra.Command {
	var author, message string
	cmd := &cobra.Command{
		Use:   "amend [path]...",
		Short: "fold changes into the branch's current commit instead of a new one",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(func(p *vexproject.Project) error {
				return p.Amend(args, author, message)
			})
		},
	}
	cmd.Flags().StringVar(&author, "author", "", "author identity recorded on the commit")
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message (falls back to the template setting)")
	return cmd
}

func newSwitchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "switch <prefix>",
		Short: "materialise a different branch prefix into the working directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(func(p *vexproject.Project) error {
				return p.Switch(args[0])
			})
		},
	}
}

func newBranchCommand() *cobra.Command {
	branch := &cobra.Command{
		Use:   "branch",
		Short: "open, create, or save branches",
	}
	var create, fork bool
	open := &cobra.Command{
		Use:   "open <name>",
		Short: "attach the active session to an existing (or, with --create, new) branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(func(p *vexproject.Project) error {
				return p.OpenBranch(args[0], create)
			})
		},
	}
	open.Flags().BoolVar(&create, "create", false, "create the branch if it does not exist")

	newBranch := &cobra.Command{
		Use:   "new <name>",
		Short: "create a new branch, optionally forked from the current one's history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(func(p *vexproject.Project) error {
				return p.NewBranch(args[0], fork)
			})
		},
	}
	newBranch.Flags().BoolVar(&fork, "fork", false, "fork from the current branch's head instead of starting empty")

	saveAs := &cobra.Command{
		Use:   "save-as <name>",
		Short: "save the active session's current state as a new branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(func(p *vexproject.Project) error {
				return p.SaveAs(args[0])
			})
		},
	}

	branch.AddCommand(open, newBranch, saveAs)
	return branch
}

func newUndoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "undo",
		Short: "reverse the last action in the history log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(func(p *vexproject.Project) error {
				action, err := p.Undo()
				if err != nil {
					return err
				}
				fmt.Println(describeAction(action))
				return nil
			})
		},
	}
}

func newRedoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "redo [n]",
		Short: "re-apply a previously undone action; lists choices with no argument",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(func(p *vexproject.Project) error {
				if len(args) == 0 {
					choices, err := p.RedoChoices()
					if err != nil {
						return err
					}
					for i, c := range choices {
						fmt.Printf("%d: %s\n", i, describeAction(c))
					}
					return nil
				}
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("vex: redo choice must be a number: %w", err)
				}
				action, err := p.Redo(n)
				if err != nil {
					return err
				}
				fmt.Println(describeAction(action))
				return nil
			})
		},
	}
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "list the active session's tracked-file table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(func(p *vexproject.Project) error {
				out, err := p.Status()
				if err != nil {
					return err
				}
				paths := make([]string, 0, len(out))
				for path := range out {
					paths = append(paths, path)
				}
				sort.Strings(paths)
				for _, path := range paths {
					e := out[path]
					working := "-"
					if e.Working {
						working = "w"
					}
					fmt.Printf("%s %-9s %s\n", working, e.State, path)
				}
				return nil
			})
		},
	}
}

func newLogCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "log",
		Short: "walk the active session's commit chain back to init",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(func(p *vexproject.Project) error {
				entries, err := p.Log()
				if err != nil {
					return err
				}
				for _, e := range entries {
					fmt.Printf("%s %s %s\n", e.Addr, e.Commit.Kind, e.Message)
				}
				return nil
			})
		},
	}
}

func newDiffCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "diff [path]...",
		Short: "report the changeset the next commit would record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(func(p *vexproject.Project) error {
				out, err := p.DiffFiles(args)
				if err != nil {
					return err
				}
				paths := make([]string, 0, len(out))
				for path := range out {
					paths = append(paths, path)
				}
				sort.Strings(paths)
				for _, path := range paths {
					for _, d := range out[path] {
						fmt.Printf("%s %T\n", path, d.Change)
					}
				}
				return nil
			})
		},
	}
}

func newRenameCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <old> <new>",
		Short: "remove the old path and add the new one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(func(p *vexproject.Project) error {
				return p.Rename(args[0], args[1])
			})
		},
	}
}

func newGCCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "report how many blobs are reachable from every branch head",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(func(p *vexproject.Project) error {
				report, err := p.GC()
				if err != nil {
					return err
				}
				fmt.Printf("commits=%d manifests=%d files=%d\n", report.Commits, report.Manifests, report.Files)
				return nil
			})
		},
	}
}

func describeAction(a vexmodel.Action) string {
	switch v := a.(type) {
	case vexmodel.PhysicalAction:
		return v.CommandName()
	case vexmodel.SwitchAction:
		return v.CommandName()
	default:
		return fmt.Sprintf("%T", a)
	}
}
