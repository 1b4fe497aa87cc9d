// Command rtcconv checks and rewrites RTC-Tools configuration directories.
//
//	rtcconv validate [-json] DIR
//	rtcconv convert SRC DST
//	rtcconv eval [-set name=value]... EXPRESSION
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/liamcoop/rtc/expression"
	"github.com/liamcoop/rtc/internal/logger"
	"github.com/liamcoop/rtc/rtcxml"
	"github.com/liamcoop/rtc/rules"
)

// ExitError carries the process exit code of a failed command
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

const usage = `rtcconv - check and rewrite RTC-Tools control configurations.

Usage:
  rtcconv validate [-json] DIR     read DIR and report diagnostics and validation issues
  rtcconv convert SRC DST          read SRC and write it to DST in canonical form
  rtcconv eval [-set k=v] EXPR     evaluate an expression such as "2 + 3 * max(a, 1)"
`

func main() {
	opts := logger.OptionsFromEnv()
	opts.Output = os.Stderr
	if opts.Level == "" {
		opts.Level = "ERROR"
	}
	if err := logger.Setup(context.Background(), opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	if err := run(os.Stdout, os.Args[1:]); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			if exitErr.Message != "" {
				fmt.Fprintln(os.Stderr, exitErr.Message)
			}
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(out io.Writer, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return &ExitError{Code: 2}
	}

	switch args[0] {
	case "validate":
		return validate(out, args[1:])
	case "convert":
		return convert(out, args[1:])
	case "eval":
		return eval(out, args[1:])
	case "help", "-h", "-help", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		return &ExitError{Code: 2, Message: fmt.Sprintf("unknown command %q\n%s", args[0], usage)}
	}
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("rtcconv "+name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string, nargs int) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return &ExitError{Code: 0}
		}
		return &ExitError{Code: 2, Message: err.Error()}
	}
	if fs.NArg() != nargs {
		return &ExitError{Code: 2, Message: fmt.Sprintf("%s expects %d argument(s), got %d", fs.Name(), nargs, fs.NArg())}
	}
	return nil
}

type validateReport struct {
	Groups      []string `json:"groups"`
	Diagnostics []string `json:"diagnostics"`
	Issues      []string `json:"issues"`
}

func validate(out io.Writer, args []string) error {
	fs := newFlagSet("validate", out)
	asJSON := fs.Bool("json", false, "Print the report as JSON")
	if err := parseFlags(fs, args, 1); err != nil {
		return err
	}

	groups, diags, err := rtcxml.Read(fs.Arg(0))
	if err != nil {
		return &ExitError{Code: 1, Message: err.Error()}
	}

	report := validateReport{Groups: []string{}, Diagnostics: []string{}, Issues: []string{}}
	for _, d := range diags {
		report.Diagnostics = append(report.Diagnostics, d.String())
	}
	for _, g := range groups {
		report.Groups = append(report.Groups, g.Name)
		for _, issue := range g.Validate().Issues {
			report.Issues = append(report.Issues, g.Name+": "+issue.String())
		}
	}

	if *asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "%d control group(s): %s\n", len(report.Groups), strings.Join(report.Groups, ", "))
		for _, d := range report.Diagnostics {
			fmt.Fprintln(out, d)
		}
		for _, issue := range report.Issues {
			fmt.Fprintln(out, issue)
		}
	}

	if diags.HasErrors() || len(report.Issues) > 0 {
		return &ExitError{Code: 3}
	}
	return nil
}

func convert(out io.Writer, args []string) error {
	fs := newFlagSet("convert", out)
	if err := parseFlags(fs, args, 2); err != nil {
		return err
	}
	src, dst := fs.Arg(0), fs.Arg(1)

	groups, diags, err := rtcxml.Read(src)
	if err != nil {
		return &ExitError{Code: 1, Message: err.Error()}
	}
	for _, d := range diags {
		fmt.Fprintln(out, d)
	}

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if err := rtcxml.Write(groups, dst); err != nil {
		return &ExitError{Code: 1, Message: err.Error()}
	}

	fmt.Fprintf(out, "wrote %d control group(s) to %s\n", countNonEmpty(groups), dst)
	return nil
}

func countNonEmpty(groups []*rules.ControlGroup) int {
	n := 0
	for _, g := range groups {
		if !g.IsEmpty() {
			n++
		}
	}
	return n
}

// bindingFlag collects repeated -set name=value flags
type bindingFlag expression.Bindings

func (b bindingFlag) String() string {
	parts := make([]string, 0, len(b))
	for k, v := range b {
		parts = append(parts, k+"="+expression.FormatNumber(v))
	}
	return strings.Join(parts, ",")
}

func (b bindingFlag) Set(s string) error {
	name, value, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return fmt.Errorf("expected name=value, got %q", s)
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", name, err)
	}
	b[name] = v
	return nil
}

func eval(out io.Writer, args []string) error {
	fs := newFlagSet("eval", out)
	bindings := make(bindingFlag)
	fs.Var(bindings, "set", "Bind a parameter, name=value (repeatable)")
	if err := parseFlags(fs, args, 1); err != nil {
		return err
	}

	n, err := expression.Parse(fs.Arg(0))
	if err != nil {
		return &ExitError{Code: 1, Message: err.Error()}
	}
	v, err := expression.Evaluate(n, expression.Bindings(bindings))
	if err != nil {
		return &ExitError{Code: 1, Message: err.Error()}
	}

	fmt.Fprintf(out, "%s = %s\n", expression.String(n), expression.FormatNumber(v))
	return nil
}
