package builtins

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/opal-lang/nxsh/runtime/jobs"
	"github.com/opal-lang/nxsh/runtime/shell"
	"github.com/opal-lang/nxsh/runtime/trap"
)

// Core returns a registry with the builtins the executor relies on. traps
// may be nil, in which case the trap builtin is not registered.
func Core(table *jobs.Table, traps *trap.Traps) *Registry {
	r := NewRegistry()
	for _, b := range []Builtin{
		echo, trueCmd, falseCmd, colon,
		export, unset, readonly, alias, unalias,
		set, shift, cd, pwd, timeoutCmd,
	} {
		r.Register(b)
	}
	if table != nil {
		for _, b := range jobBuiltins(table) {
			r.Register(b)
		}
	}
	if traps != nil {
		r.Register(trapBuiltin(traps))
	}
	return r
}

var echo = &Func{
	N:    "echo",
	Syn:  "write arguments to standard output",
	Use:  "echo [-n] [arg ...]",
	Long: "Writes its arguments separated by single spaces followed by a newline. -n suppresses the newline.",
	Run: func(_ context.Context, _ *shell.Context, stdio IO, args []string) (int, error) {
		newline := true
		if len(args) > 0 && args[0] == "-n" {
			newline = false
			args = args[1:]
		}
		out := strings.Join(args, " ")
		if newline {
			out += "\n"
		}
		if _, err := fmt.Fprint(stdio.Stdout, out); err != nil {
			return 1, err
		}
		return 0, nil
	},
}

var trueCmd = &Func{
	N: "true", Syn: "do nothing, successfully", Use: "true",
	Run: func(context.Context, *shell.Context, IO, []string) (int, error) { return 0, nil },
}

var falseCmd = &Func{
	N: "false", Syn: "do nothing, unsuccessfully", Use: "false",
	Run: func(context.Context, *shell.Context, IO, []string) (int, error) { return 1, nil },
}

var colon = &Func{
	N: ":", Syn: "null command", Use: ": [arg ...]",
	Run: func(context.Context, *shell.Context, IO, []string) (int, error) { return 0, nil },
}

var export = &Func{
	N:       "export",
	Syn:     "mark variables for child environments",
	Use:     "export [name[=value] ...]",
	Mutates: true,
	Run: func(_ context.Context, sh *shell.Context, stdio IO, args []string) (int, error) {
		if len(args) == 0 {
			for _, kv := range sh.Environ() {
				fmt.Fprintf(stdio.Stdout, "export %s\n", kv)
			}
			return 0, nil
		}
		for _, a := range args {
			name, value, hasValue := strings.Cut(a, "=")
			if hasValue {
				if err := sh.Set(name, value); err != nil {
					return 1, err
				}
			}
			sh.Export(name)
		}
		return 0, nil
	},
}

var unset = &Func{
	N:       "unset",
	Syn:     "remove variables",
	Use:     "unset name ...",
	Mutates: true,
	Run: func(_ context.Context, sh *shell.Context, _ IO, args []string) (int, error) {
		for _, name := range args {
			if err := sh.Unset(name); err != nil {
				return 1, err
			}
		}
		return 0, nil
	},
}

var readonly = &Func{
	N:       "readonly",
	Syn:     "make variables unchangeable",
	Use:     "readonly [name[=value] ...]",
	Mutates: true,
	Run: func(_ context.Context, sh *shell.Context, stdio IO, args []string) (int, error) {
		if len(args) == 0 {
			for _, name := range sh.Readonly() {
				fmt.Fprintf(stdio.Stdout, "readonly %s=%s\n", name, sh.Lookup(name))
			}
			return 0, nil
		}
		for _, a := range args {
			name, value, hasValue := strings.Cut(a, "=")
			if hasValue {
				if err := sh.Set(name, value); err != nil {
					return 1, err
				}
			}
			sh.SetReadonly(name)
		}
		return 0, nil
	},
}

var alias = &Func{
	N:       "alias",
	Syn:     "define or show aliases",
	Use:     "alias [name[=value] ...]",
	Mutates: true,
	Run: func(_ context.Context, sh *shell.Context, stdio IO, args []string) (int, error) {
		if len(args) == 0 {
			args = sh.Aliases()
		}
		status := 0
		for _, a := range args {
			name, value, hasValue := strings.Cut(a, "=")
			if hasValue {
				sh.SetAlias(name, value)
				continue
			}
			v, ok := sh.Alias(name)
			if !ok {
				fmt.Fprintf(stdio.Stderr, "nxsh: alias: %s: not found\n", name)
				status = 1
				continue
			}
			fmt.Fprintf(stdio.Stdout, "alias %s='%s'\n", name, v)
		}
		return status, nil
	},
}

var unalias = &Func{
	N:       "unalias",
	Syn:     "remove aliases",
	Use:     "unalias name ...",
	Mutates: true,
	Run: func(_ context.Context, sh *shell.Context, _ IO, args []string) (int, error) {
		for _, name := range args {
			if !sh.Unalias(name) {
				return 1, fmt.Errorf("%s: not found", name)
			}
		}
		return 0, nil
	},
}

var set = &Func{
	N:       "set",
	Syn:     "set shell options and positional parameters",
	Use:     "set [-+exC] [-+o option] [-- arg ...]",
	Long:    "Options: -e errexit, -x xtrace, -C noclobber, -o pipefail. A + prefix turns an option off.",
	Mutates: true,
	Run: func(_ context.Context, sh *shell.Context, stdio IO, args []string) (int, error) {
		if len(args) == 0 {
			fmt.Fprintf(stdio.Stdout, "errexit\t%s\npipefail\t%s\nxtrace\t%s\nnoclobber\t%s\n",
				onOff(sh.Opts.Errexit), onOff(sh.Opts.Pipefail), onOff(sh.Opts.Xtrace), onOff(sh.Opts.Noclobber))
			return 0, nil
		}
		for i := 0; i < len(args); i++ {
			a := args[i]
			if a == "--" {
				sh.Positional = append([]string(nil), args[i+1:]...)
				return 0, nil
			}
			if len(a) < 2 || (a[0] != '-' && a[0] != '+') {
				sh.Positional = append([]string(nil), args[i:]...)
				return 0, nil
			}
			on := a[0] == '-'
			for _, f := range a[1:] {
				switch f {
				case 'e':
					sh.Opts.Errexit = on
				case 'x':
					sh.Opts.Xtrace = on
				case 'C':
					sh.Opts.Noclobber = on
				case 'o':
					i++
					if i >= len(args) {
						return usageError("set -o option", "missing option name")
					}
					if err := setNamed(sh, args[i], on); err != nil {
						return 2, err
					}
				default:
					return usageError("set [-+exC] [-+o option]", "-%c: invalid option", f)
				}
			}
		}
		return 0, nil
	},
}

func setNamed(sh *shell.Context, name string, on bool) error {
	switch name {
	case "errexit":
		sh.Opts.Errexit = on
	case "xtrace":
		sh.Opts.Xtrace = on
	case "pipefail":
		sh.Opts.Pipefail = on
	case "noclobber":
		sh.Opts.Noclobber = on
	default:
		return fmt.Errorf("%s: invalid option name", name)
	}
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

var shift = &Func{
	N:       "shift",
	Syn:     "shift positional parameters",
	Use:     "shift [n]",
	Mutates: true,
	Run: func(_ context.Context, sh *shell.Context, _ IO, args []string) (int, error) {
		n := 1
		if len(args) > 0 {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return usageError("shift [n]", "%s: numeric argument required", args[0])
			}
			n = v
		}
		if err := sh.Shift(n); err != nil {
			return 1, err
		}
		return 0, nil
	},
}

var cd = &Func{
	N:       "cd",
	Syn:     "change the working directory",
	Use:     "cd [dir]",
	Mutates: true,
	Run: func(_ context.Context, sh *shell.Context, _ IO, args []string) (int, error) {
		dir := sh.Lookup("HOME")
		if len(args) > 0 {
			dir = args[0]
		}
		if dir == "-" {
			dir = sh.Lookup("OLDPWD")
		}
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(sh.Dir, dir)
		}
		info, err := os.Stat(dir)
		if err != nil {
			return 1, err
		}
		if !info.IsDir() {
			return 1, fmt.Errorf("%s: not a directory", dir)
		}
		_ = sh.Set("OLDPWD", sh.Dir)
		sh.Dir = filepath.Clean(dir)
		_ = sh.Set("PWD", sh.Dir)
		return 0, nil
	},
}

var pwd = &Func{
	N: "pwd", Syn: "print the working directory", Use: "pwd",
	Run: func(_ context.Context, sh *shell.Context, stdio IO, _ []string) (int, error) {
		fmt.Fprintln(stdio.Stdout, sh.Dir)
		return 0, nil
	},
}

var timeoutCmd = &Func{
	N:       "timeout",
	Syn:     "set the per-command time budget",
	Use:     "timeout [ms|off]",
	Long:    "With a number, every external command started afterwards is killed after that many milliseconds and reports status 124. 'off' clears the budget. Without arguments prints the current budget.",
	Mutates: true,
	Run: func(_ context.Context, sh *shell.Context, stdio IO, args []string) (int, error) {
		if len(args) == 0 {
			if d := sh.CommandTimeout(); d > 0 {
				fmt.Fprintf(stdio.Stdout, "%d\n", d.Milliseconds())
			} else {
				fmt.Fprintln(stdio.Stdout, "off")
			}
			return 0, nil
		}
		if args[0] == "off" {
			sh.SetCommandTimeout(0)
			return 0, nil
		}
		ms, err := strconv.ParseUint(args[0], 10, 63)
		if err != nil {
			return usageError("timeout [ms|off]", "%s: invalid duration", args[0])
		}
		sh.SetCommandTimeout(time.Duration(ms) * time.Millisecond)
		return 0, nil
	},
}
