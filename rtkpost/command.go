package rtkpost

import (
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Command is an invocation of an external tool.  The argument list is built
// from named fields, never by substituting into a template, and the
// process is started directly rather than via a shell.
type Command interface {
	// Tool is the short name of the tool, used in logs and errors.
	Tool() string
	// Path is the executable.
	Path() string
	// Args are the arguments, not including the executable.
	Args() []string
}

// ConvbinCommand runs the RTKLIB convbin tool, converting a raw receiver
// file to RINEX observation, navigation and SBAS files.
type ConvbinCommand struct {
	// Executable defaults to "convbin" on the PATH.
	Executable string
	// Options are passed first, as given.
	Options []string
	// Format is the receiver format, "ubx" by default.
	Format string
	Input  string
	Obs    string
	Nav    string
	Sbs    string
}

func (c ConvbinCommand) Tool() string { return "convbin" }

func (c ConvbinCommand) Path() string {
	if c.Executable == "" {
		return "convbin"
	}
	return c.Executable
}

func (c ConvbinCommand) Args() []string {
	format := c.Format
	if format == "" {
		format = "ubx"
	}
	args := append([]string{}, c.Options...)
	args = append(args, "-r", format)
	if c.Obs != "" {
		args = append(args, "-o", c.Obs)
	}
	if c.Nav != "" {
		args = append(args, "-n", c.Nav)
	}
	if c.Sbs != "" {
		args = append(args, "-s", c.Sbs)
	}
	return append(args, c.Input)
}

// DefaultSolverOptions asks rnx2rtkp for a comma separated report with
// calendar times, using the precise products.
var DefaultSolverOptions = []string{"-t", "-s", ",", "-p", "7", "-c"}

// Rnx2RtkpCommand runs the RTKLIB rnx2rtkp solver.
type Rnx2RtkpCommand struct {
	// Executable defaults to "rnx2rtkp" on the PATH.
	Executable string
	// Options default to DefaultSolverOptions.  An empty non-nil slice
	// means no options.
	Options []string
	// Start, if not zero, is passed as -ts.
	Start  time.Time
	Output string
	Obs    string
	Nav    string
	Sbs    string
	// Corrections are the correction files, already expanded.
	Corrections []string
}

func (c Rnx2RtkpCommand) Tool() string { return "rnx2rtkp" }

func (c Rnx2RtkpCommand) Path() string {
	if c.Executable == "" {
		return "rnx2rtkp"
	}
	return c.Executable
}

func (c Rnx2RtkpCommand) Args() []string {
	options := c.Options
	if options == nil {
		options = DefaultSolverOptions
	}
	args := append([]string{}, options...)
	if !c.Start.IsZero() {
		start := c.Start.UTC()
		args = append(args, "-ts", start.Format("2006/01/02"), start.Format("15:04:05"))
	}
	args = append(args, "-o", c.Output)
	for _, f := range []string{c.Obs, c.Nav, c.Sbs} {
		if f != "" {
			args = append(args, f)
		}
	}
	return append(args, c.Corrections...)
}

// ExpandCorrections returns the files in dir, sorted, the way a shell
// would expand dir/*.
func ExpandCorrections(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*"))
	if err != nil {
		return nil, err
	}
	// The shell skips hidden files.
	result := files[:0]
	for _, f := range files {
		if !strings.HasPrefix(filepath.Base(f), ".") {
			result = append(result, f)
		}
	}
	sort.Strings(result)
	return result, nil
}

// CommandLine renders a command for logging.
func CommandLine(c Command) string {
	return strings.Join(append([]string{c.Path()}, c.Args()...), " ")
}
