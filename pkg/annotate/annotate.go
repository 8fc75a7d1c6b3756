// Package annotate injects a client name column into the cost table of
// Board's report details dialog.
package annotate

import (
	"github.com/kernel/boardcol/pkg/mapping"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	DialogID     = "report_details_dialog"
	TableClass   = "table-striped"
	HeaderClass  = "addon-client-header"
	CellClass    = "addon-client-cell"
	ColumnTitle  = "顧客名"
	ProjectTitle = "案件名"
	CostTitle    = "費用の説明"
)

// Outcome is what a single Annotate call did.
type Outcome int

const (
	// NoDialog: the report details dialog is not in the document.
	NoDialog Outcome = iota
	// NoTable: the dialog has no striped table with a header row.
	NoTable
	// ShapeMismatch: the table is not the cost table. Any injected column
	// was removed.
	ShapeMismatch
	// LayoutMismatch: the cost table exists but 案件名 is not immediately
	// followed by 費用の説明.
	LayoutMismatch
	// AlreadyAnnotated: the header marker was present; nothing changed.
	AlreadyAnnotated
	// Injected: the column was added.
	Injected
)

func (o Outcome) String() string {
	switch o {
	case NoDialog:
		return "no-dialog"
	case NoTable:
		return "no-table"
	case ShapeMismatch:
		return "shape-mismatch"
	case LayoutMismatch:
		return "layout-mismatch"
	case AlreadyAnnotated:
		return "already-annotated"
	case Injected:
		return "injected"
	}
	return "unknown"
}

// Result describes the changes made to the document.
type Result struct {
	Outcome Outcome
	Rows    int
	Removed int
}

// Changed reports whether the document was modified.
func (r Result) Changed() bool {
	return r.Outcome == Injected || r.Removed > 0
}

// Annotate adds the client column to the dialog's cost table in place. It is
// idempotent: a second call on an unchanged document does nothing.
func Annotate(doc *html.Node, m mapping.Mapping) Result {
	dialog := byID(doc, DialogID)
	if dialog == nil {
		return Result{Outcome: NoDialog}
	}
	table := dialogTable(dialog)
	if table == nil {
		return Result{Outcome: NoTable}
	}
	headerRow := findFirst(table, func(n *html.Node) bool {
		return isElement(n, atom.Tr) && hasAncestor(n, table, func(p *html.Node) bool { return isElement(p, atom.Thead) })
	})
	if headerRow == nil {
		return Result{Outcome: NoTable}
	}

	headers := findAll(headerRow, func(n *html.Node) bool { return isElement(n, atom.Th) })
	projectIdx, costIdx := -1, -1
	for i, th := range headers {
		switch trimmedText(th) {
		case ProjectTitle:
			projectIdx = i
		case CostTitle:
			costIdx = i
		}
	}

	if costIdx < 0 {
		return Result{Outcome: ShapeMismatch, Removed: RemoveColumns(doc)}
	}
	if findFirst(headerRow, func(n *html.Node) bool { return hasClass(n, HeaderClass) }) != nil {
		return Result{Outcome: AlreadyAnnotated}
	}
	if projectIdx < 0 || costIdx != projectIdx+1 {
		return Result{Outcome: LayoutMismatch}
	}

	insertAfter(headers[projectIdx], newElement(atom.Th, ColumnTitle,
		html.Attribute{Key: "class", Val: HeaderClass},
		html.Attribute{Key: "nowrap", Val: ""},
	))

	rows := findAll(table, func(n *html.Node) bool {
		return isElement(n, atom.Tr) && hasAncestor(n, table, func(p *html.Node) bool { return isElement(p, atom.Tbody) })
	})
	injected := 0
	for _, row := range rows {
		if findFirst(row, func(n *html.Node) bool { return hasClass(n, CellClass) }) != nil {
			continue
		}
		cells := elementChildren(row)
		if len(cells) <= projectIdx+1 {
			continue
		}
		projectNo := trimmedText(cells[0])
		insertAfter(cells[projectIdx], newElement(atom.Td, m.Lookup(projectNo),
			html.Attribute{Key: "class", Val: CellClass},
		))
		injected++
	}
	return Result{Outcome: Injected, Rows: injected}
}

// dialogTable prefers the striped table in the active tab pane.
func dialogTable(dialog *html.Node) *html.Node {
	isStriped := func(n *html.Node) bool { return isElement(n, atom.Table) && hasClass(n, TableClass) }
	inActivePane := func(n *html.Node) bool {
		return isStriped(n) && hasAncestor(n, dialog, func(p *html.Node) bool {
			return hasClass(p, "tab-pane") && hasClass(p, "active")
		})
	}
	if t := findFirst(dialog, inActivePane); t != nil {
		return t
	}
	return findFirst(dialog, isStriped)
}

// RemoveColumns deletes every injected header and cell in doc and returns
// how many elements were removed.
func RemoveColumns(doc *html.Node) int {
	injected := findAll(doc, func(n *html.Node) bool {
		return hasClass(n, HeaderClass) || hasClass(n, CellClass)
	})
	for _, n := range injected {
		remove(n)
	}
	return len(injected)
}

// HasInjectedHeader reports whether the dialog currently shows the column.
func HasInjectedHeader(doc *html.Node) bool {
	dialog := byID(doc, DialogID)
	if dialog == nil {
		return false
	}
	return findFirst(dialog, func(n *html.Node) bool { return hasClass(n, HeaderClass) }) != nil
}

// HasDialog reports whether the report details dialog is in doc.
func HasDialog(doc *html.Node) bool {
	return byID(doc, DialogID) != nil
}
