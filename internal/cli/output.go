package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"v20-scanner/internal/models"
)

// ANSI styles used by the human-readable output.
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
	ColorBold   = "\033[1m"
	ColorDim    = "\033[2m"
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// Output writes either styled text or indented JSON for a command,
// depending on its --json flag.
type Output struct {
	w     io.Writer
	json  bool
	color bool
}

// NewOutput binds an Output to the command's stdout. Colour is only used
// when that is a real terminal.
func NewOutput(cmd *cobra.Command) *Output {
	asJSON, _ := cmd.Flags().GetBool("json")
	w := cmd.OutOrStdout()
	o := &Output{w: w, json: asJSON}
	if f, ok := w.(*os.File); ok && !asJSON {
		o.color = isTerminal(f)
	}
	return o
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

// IsJSON reports whether --json was given.
func (o *Output) IsJSON() bool { return o.json }

// JSON encodes v with two-space indentation.
func (o *Output) JSON(v interface{}) error {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (o *Output) Println(args ...interface{}) { fmt.Fprintln(o.w, args...) }

func (o *Output) Printf(format string, args ...interface{}) { fmt.Fprintf(o.w, format, args...) }

func (o *Output) Success(format string, args ...interface{}) { o.line(ColorGreen, format, args) }
func (o *Output) Error(format string, args ...interface{})   { o.line(ColorRed, format, args) }
func (o *Output) Warning(format string, args ...interface{}) { o.line(ColorYellow, format, args) }
func (o *Output) Info(format string, args ...interface{})    { o.line(ColorCyan, format, args) }
func (o *Output) Bold(format string, args ...interface{})    { o.line(ColorBold, format, args) }
func (o *Output) Dim(format string, args ...interface{})     { o.line(ColorDim, format, args) }

func (o *Output) line(style, format string, args []interface{}) {
	fmt.Fprintln(o.w, o.ColoredString(style, fmt.Sprintf(format, args...)))
}

// ColoredString wraps text in style when colour is on.
func (o *Output) ColoredString(style, text string) string {
	if !o.color {
		return text
	}
	return style + text + ColorReset
}

var statusStyles = map[models.SyncStatus]string{
	models.StatusUpdated:         ColorGreen,
	models.StatusInitialDownload: ColorGreen,
	models.StatusAlreadyFresh:    ColorYellow,
	models.StatusNoNewData:       ColorYellow,
	models.StatusFailed:          ColorRed,
	models.StatusSuspended:       ColorRed,
}

// StatusLabel renders a sync status: green when data arrived, yellow when
// there was nothing to do, red when the symbol could not be synced.
func (o *Output) StatusLabel(status models.SyncStatus) string {
	style, ok := statusStyles[status]
	if !ok {
		return string(status)
	}
	return o.ColoredString(style, string(status))
}

// Table collects rows and prints them with columns padded to the widest
// visible cell.
type Table struct {
	out     *Output
	headers []string
	rows    [][]string
}

func NewTable(out *Output, headers ...string) *Table {
	return &Table{out: out, headers: headers}
}

func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}
	widths := t.columnWidths()

	t.out.Println(t.out.ColoredString(ColorBold, t.format(t.headers, widths)))
	rule := make([]string, len(widths))
	for i, w := range widths {
		rule[i] = strings.Repeat("-", w)
	}
	t.out.Println(t.out.ColoredString(ColorDim, strings.Join(rule, "  ")))
	for _, row := range t.rows {
		t.out.Println(t.format(row, widths))
	}
}

func (t *Table) columnWidths() []int {
	widths := make([]int, len(t.headers))
	for _, row := range append([][]string{t.headers}, t.rows...) {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], visibleLen(row[i]))
		}
	}
	return widths
}

// format pads each cell; cells past the header count are dropped.
func (t *Table) format(cells []string, widths []int) string {
	var b strings.Builder
	for i := 0; i < len(cells) && i < len(widths); i++ {
		if i > 0 {
			b.WriteString("  ")
		}
		b.WriteString(cells[i])
		b.WriteString(strings.Repeat(" ", max(0, widths[i]-visibleLen(cells[i]))))
	}
	return strings.TrimRight(b.String(), " ")
}

func visibleLen(s string) int {
	return len(stripANSI(s))
}

func stripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}
