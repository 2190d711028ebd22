package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

const (
	colorReset    = "\033[0m"
	colorBold     = "\033[1m"
	colorPurple   = "\033[35m"
	colorNeonCyan = "\033[96m"
	colorNeonMag  = "\033[95m"
)

// termMu serializes all terminal output so status lines never interleave
// with log records written from step goroutines.
var termMu sync.Mutex

// ------------------------------------------------------------
// Utility
// ------------------------------------------------------------

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// ------------------------------------------------------------
// TermWriter – a mutex-guarded io.Writer for log output.
// ------------------------------------------------------------

type termWriter struct {
	out io.Writer
}

func (tw termWriter) Write(p []byte) (n int, err error) {
	termMu.Lock()
	defer termMu.Unlock()
	return tw.out.Write(p)
}

// NewTermWriter wraps out so log writes share the banner's lock.
func NewTermWriter(out io.Writer) io.Writer {
	return termWriter{out: out}
}

// ------------------------------------------------------------
// Banner
// ------------------------------------------------------------

func PrintBanner(w io.Writer, runID string) {
	banner := `
    ___         __        ____
   /   | __  __/ /_____  / __ \___  ____ _
  / /| |/ / / / __/ __ \/ /_/ / _ \/ __ '/
 / ___ / /_/ / /_/ /_/ / _, _/  __/ /_/ /
/_/  |_\__,_/\__/\____/_/ |_|\___/\__, /
                                    /_/
     >> REQUIREMENTS, PLANNED AND REVIEWED <<
`
	color, reset := colorNeonCyan, colorReset
	if !isTerminal(w) {
		color, reset = "", ""
	}

	width := termWidth()

	termMu.Lock()
	defer termMu.Unlock()
	for _, l := range strings.Split(banner, "\n") {
		padding := (width - len(l)) / 2
		if padding < 0 {
			padding = 0
		}
		fmt.Fprintf(w, "%s%s%s%s\n", strings.Repeat(" ", padding), color, l, reset)
	}
	if runID != "" {
		fmt.Fprintf(w, "%srun %s%s\n\n", strings.Repeat(" ", clamp((width-40)/2, 0, width)), runID, reset)
	}
}

// PrintStatus writes a one-line view of the tracker.
func PrintStatus(w io.Writer, t *Tracker) {
	s := t.Snapshot()
	inFlight := strings.Join(s.InFlight, ",")
	if inFlight == "" {
		inFlight = "-"
	}
	line := fmt.Sprintf("[%-9s] running=%s peak=%d approved=%d skipped=%d",
		s.Stage, inFlight, s.Peak, s.Completed, s.Skipped)
	if max := termWidth() - 1; len(line) > max && max > 3 {
		line = line[:max-3] + "..."
	}

	termMu.Lock()
	defer termMu.Unlock()
	if isTerminal(w) {
		fmt.Fprintf(w, "%s%s%s\n", colorPurple, line, colorReset)
		return
	}
	fmt.Fprintln(w, line)
}

// Summary is what PrintSummary needs to know about a finished run.
type Summary struct {
	RunID    string
	Steps    int
	Records  int
	Skipped  []string
	Dropped  int
	Warnings int
}

func PrintSummary(w io.Writer, s Summary) {
	bold, mag, reset := colorBold, colorNeonMag, colorReset
	if !isTerminal(w) {
		bold, mag, reset = "", "", ""
	}

	termMu.Lock()
	defer termMu.Unlock()
	fmt.Fprintf(w, "%sRun %s complete%s\n", bold, s.RunID, reset)
	fmt.Fprintf(w, "  steps planned:   %d\n", s.Steps)
	fmt.Fprintf(w, "  records:         %d\n", s.Records)
	fmt.Fprintf(w, "  dropped:         %d\n", s.Dropped)
	fmt.Fprintf(w, "  policy warnings: %d\n", s.Warnings)
	if len(s.Skipped) > 0 {
		fmt.Fprintf(w, "  %sskipped steps:   %s%s\n", mag, strings.Join(s.Skipped, ", "), reset)
	}
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
