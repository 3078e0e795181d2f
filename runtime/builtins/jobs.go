package builtins

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/opal-lang/nxsh/core/hal"
	"github.com/opal-lang/nxsh/runtime/jobs"
	"github.com/opal-lang/nxsh/runtime/shell"
)

func jobBuiltins(table *jobs.Table) []Builtin {
	return []Builtin{
		&Func{
			N:   "jobs",
			Syn: "list background jobs",
			Use: "jobs [-l]",
			Run: func(_ context.Context, _ *shell.Context, stdio IO, _ []string) (int, error) {
				for _, j := range table.List() {
					fmt.Fprintln(stdio.Stdout, j.String())
				}
				return 0, nil
			},
		},
		&Func{
			N:       "wait",
			Syn:     "wait for background jobs",
			Use:     "wait [%id ...]",
			Long:    "Blocks until the named jobs, or all jobs, complete. The status is that of the last job waited for.",
			Mutates: true,
			Run: func(ctx context.Context, sh *shell.Context, _ IO, args []string) (int, error) {
				ids, err := jobIDs(table, args, true)
				if err != nil {
					return 127, err
				}
				ctx, cancel := withDeadline(ctx, sh)
				defer cancel()
				status := 0
				for _, id := range ids {
					j, err := table.Wait(ctx, id)
					if err != nil {
						return 1, err
					}
					status = j.ExitCode
					if status < 0 {
						status = 128 + 9
					}
				}
				return status, nil
			},
		},
		&Func{
			N:       "disown",
			Syn:     "stop tracking jobs",
			Use:     "disown [-a] [%id ...]",
			Mutates: true,
			Run: func(_ context.Context, _ *shell.Context, _ IO, args []string) (int, error) {
				if len(args) > 0 && args[0] == "-a" {
					table.DisownAll()
					return 0, nil
				}
				ids, err := jobIDs(table, args, false)
				if err != nil {
					return 1, err
				}
				for _, id := range ids {
					table.Disown(id)
				}
				return 0, nil
			},
		},
		&Func{
			N:       "bg",
			Syn:     "resume a stopped job in the background",
			Use:     "bg [%id]",
			Mutates: true,
			Run: func(_ context.Context, _ *shell.Context, stdio IO, args []string) (int, error) {
				j, err := oneJob(table, args)
				if err != nil {
					return 1, err
				}
				if err := hal.Continue(j.PID); err != nil {
					return 1, err
				}
				table.UpdateState(j.PID, jobs.Running, 0)
				fmt.Fprintf(stdio.Stdout, "[%d] %s &\n", j.ID, j.Cmd)
				return 0, nil
			},
		},
		&Func{
			N:       "fg",
			Syn:     "resume a job and wait for it",
			Use:     "fg [%id]",
			Mutates: true,
			Run: func(ctx context.Context, sh *shell.Context, stdio IO, args []string) (int, error) {
				j, err := oneJob(table, args)
				if err != nil {
					return 1, err
				}
				fmt.Fprintln(stdio.Stdout, j.Cmd)
				if j.State == jobs.Stopped {
					if err := hal.Continue(j.PID); err != nil {
						return 1, err
					}
					table.UpdateState(j.PID, jobs.Running, 0)
				}
				ctx, cancel := withDeadline(ctx, sh)
				defer cancel()
				done, err := table.Wait(ctx, j.ID)
				if err != nil {
					return 1, err
				}
				if done.ExitCode < 0 {
					return 128 + 9, nil
				}
				return done.ExitCode, nil
			},
		},
	}
}

// withDeadline bounds ctx by the session's global deadline when one is armed.
func withDeadline(ctx context.Context, sh *shell.Context) (context.Context, context.CancelFunc) {
	if d, ok := sh.Deadline(); ok {
		return context.WithDeadline(ctx, d)
	}
	return ctx, func() {}
}

// parseJobSpec accepts "%N" or "N".
func parseJobSpec(s string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(s, "%"), 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%s: no such job", s)
	}
	return uint32(n), nil
}

func jobIDs(table *jobs.Table, args []string, allWhenEmpty bool) ([]uint32, error) {
	if len(args) == 0 {
		if !allWhenEmpty {
			j, ok := table.Current()
			if !ok {
				return nil, fmt.Errorf("current: no such job")
			}
			return []uint32{j.ID}, nil
		}
		list := table.List()
		ids := make([]uint32, len(list))
		for i, j := range list {
			ids[i] = j.ID
		}
		return ids, nil
	}
	ids := make([]uint32, 0, len(args))
	for _, a := range args {
		id, err := parseJobSpec(a)
		if err != nil {
			return nil, err
		}
		if _, ok := table.Get(id); !ok {
			return nil, fmt.Errorf("%s: no such job", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func oneJob(table *jobs.Table, args []string) (jobs.Job, error) {
	ids, err := jobIDs(table, args, false)
	if err != nil {
		return jobs.Job{}, err
	}
	j, ok := table.Get(ids[0])
	if !ok {
		return jobs.Job{}, fmt.Errorf("%%%d: no such job", ids[0])
	}
	return j, nil
}
