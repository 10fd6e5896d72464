// Package logging wires apex/log into this agent's two output sinks: a
// colorized console handler for interactive use, and a rotating file
// handler for unattended cron/daemon runs. Grounded in apex/log's own
// handler interface (HandleLog(*log.Entry) error) the way its shipped
// handlers/cli and handlers/text packages implement it, colorized with
// the same fatih/color + mattn/go-colorable pairing the teacher's go.mod
// already carries.
package logging

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/apex/log"
	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
)

var levelColors = map[log.Level]*color.Color{
	log.DebugLevel: color.New(color.FgWhite),
	log.InfoLevel:  color.New(color.FgBlue),
	log.WarnLevel:  color.New(color.FgYellow),
	log.ErrorLevel: color.New(color.FgRed),
	log.FatalLevel: color.New(color.FgHiRed, color.Bold),
}

var levelLabels = map[log.Level]string{
	log.DebugLevel: "DEBU",
	log.InfoLevel:  "INFO",
	log.WarnLevel:  "WARN",
	log.ErrorLevel: "ERRO",
	log.FatalLevel: "FATL",
}

// ConsoleHandler writes colorized, human-oriented lines to an
// io.Writer - typically os.Stderr wrapped in mattn/go-colorable so ANSI
// codes render correctly on Windows consoles too.
type ConsoleHandler struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleHandler returns a ConsoleHandler writing to os.Stderr.
func NewConsoleHandler() *ConsoleHandler {
	return &ConsoleHandler{w: colorable.NewColorableStderr()}
}

func (h *ConsoleHandler) HandleLog(e *log.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := levelColors[e.Level]
	if !ok {
		c = color.New(color.FgWhite)
	}
	label := levelLabels[e.Level]
	if label == "" {
		label = "????"
	}

	fmt.Fprintf(h.w, "%s %s", c.Sprint(label), e.Message)
	for _, name := range sortedFieldNames(e.Fields) {
		fmt.Fprintf(h.w, " %s=%v", color.New(color.Faint).Sprint(name), e.Fields.Get(name))
	}
	fmt.Fprintln(h.w)
	return nil
}

func sortedFieldNames(fields log.Fields) []string {
	names := fields.Names()
	sort.Strings(names)
	return names
}

var _ log.Handler = (*ConsoleHandler)(nil)

// LevelFromVerbose returns ErrorLevel normally, or InfoLevel when verbose
// is set - the same two-tier console verbosity the teacher's diagnostics
// and ping commands expect from --verbose.
func LevelFromVerbose(verbose bool) log.Level {
	if verbose {
		return log.InfoLevel
	}
	return log.ErrorLevel
}
