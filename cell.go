package sheet

import (
	"strconv"
	"strings"

	"github.com/vogtb/sheetgraph/formula"
	"github.com/vogtb/sheetgraph/position"
)

// cell is one occupied position in the sheet: either a plain cell
// carrying raw text, or a formula cell carrying a parsed AST and a
// lazily-evaluated cached value. Which variant it is is fixed at
// construction.
type cell struct {
	pos position.Position

	isFormula bool

	// plain-cell fields. raw is exactly what the user entered (escape
	// character included); text is raw with a leading escape character
	// stripped, the string used for both numeric detection and
	// print_values output.
	raw        string
	text       string
	numeric    float64
	hasNumeric bool

	// formula-cell fields. raw for a formula cell is always "=" plus the
	// AST's canonical rendering, never the literal text that was typed.
	ast *formula.Formula

	// cache, owned by the cell; validity is tracked by the dependency
	// graph's stale flag, not here.
	cachedValue float64
	cachedErr   error
}

const escapeChar = '\''

// newPlainCell classifies text as a plain cell: if text, after stripping
// a leading escape character, parses as a decimal number, the cell's
// value is that number; otherwise its value is the stripped text.
func newPlainCell(pos position.Position, text string) *cell {
	stripped := text
	if len(stripped) > 0 && stripped[0] == escapeChar {
		stripped = stripped[1:]
	}
	c := &cell{pos: pos, raw: text, text: stripped}
	num := strings.TrimSpace(stripped)
	decimal := true
	for i := 0; i < len(num); i++ {
		ch := num[i]
		if !(ch >= '0' && ch <= '9' || ch == '.' || i == 0 && (ch == '+' || ch == '-')) {
			decimal = false
			break
		}
	}
	if v, err := strconv.ParseFloat(num, 64); decimal && err == nil {
		c.hasNumeric = true
		c.numeric = v
	}
	return c
}

// newFormulaCell wraps a parsed formula. Its source text is derived from
// the AST's own canonical rendering, not the text that was typed.
func newFormulaCell(pos position.Position, ast *formula.Formula) *cell {
	return &cell{pos: pos, isFormula: true, ast: ast, raw: "=" + ast.Render()}
}

// printableText is the cell's print_values representation when it is not
// a formula: the formatted number if it parsed as one, or its stripped
// text otherwise.
func (c *cell) printableText() string {
	if c.hasNumeric {
		return formatNumber(c.numeric)
	}
	return c.text
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
