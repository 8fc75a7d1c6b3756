package table

import (
	"strings"

	"github.com/pterm/pterm"
)

// PrintTableNoPad renders data with pterm and strips the trailing padding
// pterm leaves on every line, so output pastes cleanly.
func PrintTableNoPad(data pterm.TableData, withHeader bool) {
	pterm.Println(RenderTableNoPad(data, withHeader))
}

func RenderTableNoPad(data pterm.TableData, withHeader bool) string {
	t := pterm.DefaultTable.WithData(data)
	if withHeader {
		t = t.WithHasHeader()
	}
	out, err := t.Srender()
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " ")
	}
	return strings.Join(lines, "\n")
}
