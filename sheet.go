// Package sheet is the public API: a Sheet composes the position,
// formula, and depgraph packages into the operations a caller actually
// performs — set a cell, read a value, insert or delete rows and
// columns, and render the grid as text.
package sheet

import (
	"fmt"
	"io"
	"strings"

	"github.com/vogtb/sheetgraph/depgraph"
	"github.com/vogtb/sheetgraph/formula"
	"github.com/vogtb/sheetgraph/position"
)

// Sheet is a single grid of cells. The zero value is not usable;
// construct with New.
type Sheet struct {
	cells map[position.Position]*cell
	graph *depgraph.Graph
	size  position.Size

	// rowCount and colCount track how many occupied cells fall on each
	// row/column, so that clearing a single cell can tell whether it was
	// the last occupant of its row/column without scanning the rest of
	// the sheet. Rebuilt wholesale by recomputeSize after a row/column
	// insert or delete, since those already touch every cell.
	rowCount map[int]int
	colCount map[int]int
}

// New creates an empty sheet.
func New() *Sheet {
	return &Sheet{
		cells:    make(map[position.Position]*cell),
		graph:    depgraph.New(),
		rowCount: make(map[int]int),
		colCount: make(map[int]int),
	}
}

// Size returns the current printable bounding box.
func (s *Sheet) Size() position.Size {
	return s.size
}

// CellInfo is the read-only view returned by GetCell.
type CellInfo struct {
	Pos        position.Position
	Exists     bool // an actual cell (plain or formula) lives here
	Referenced bool // no cell here, but some formula references this position
	IsFormula  bool
	Text       string // source text; "" when !Exists
}

// GetCell returns information about pos without evaluating anything. A
// position with no cell that is nonetheless referenced by a formula
// elsewhere reports Referenced, matching the graph's placeholder
// semantics; a position that is neither occupied nor referenced reports
// neither flag.
func (s *Sheet) GetCell(pos position.Position) (CellInfo, error) {
	if !pos.IsValid() {
		return CellInfo{}, newUsageError(InvalidPosition, fmt.Sprintf("position %v is out of range", pos))
	}
	if c, ok := s.cells[pos]; ok {
		return CellInfo{Pos: pos, Exists: true, IsFormula: c.isFormula, Text: c.raw}, nil
	}
	if s.graph.HasVertex(pos) {
		return CellInfo{Pos: pos, Referenced: true}, nil
	}
	return CellInfo{Pos: pos}, nil
}

// Value returns the current value of the cell at pos, evaluating (or
// reusing a cached evaluation of) any formula along the way. The
// returned error is either a *UsageError (pos itself was invalid) or a
// position.Error (the cell's own value is, or depends on, an in-band
// formula error).
func (s *Sheet) Value(pos position.Position) (float64, error) {
	if !pos.IsValid() {
		return 0, newUsageError(InvalidPosition, fmt.Sprintf("position %v is out of range", pos))
	}
	return s.ValueAt(pos)
}

// ValueAt implements formula.View so a Sheet can evaluate its own
// formulas' references. Unlike Value, it does not distinguish an
// invalid position with a UsageError; it treats it the same way a
// Reference node does, as an in-band Ref error. Callers outside the
// formula package should use Value instead.
func (s *Sheet) ValueAt(pos position.Position) (float64, error) {
	if !pos.IsValid() {
		return 0, position.NewError(position.Ref)
	}
	c, ok := s.cells[pos]
	if !ok {
		return 0, nil
	}
	if !c.isFormula {
		if c.hasNumeric {
			return c.numeric, nil
		}
		return 0, position.NewError(position.Value)
	}
	if !s.graph.IsStale(pos) {
		return c.cachedValue, c.cachedErr
	}
	val, err := c.ast.Eval(s)
	c.cachedValue, c.cachedErr = val, err
	s.graph.ClearStale(pos)
	return val, err
}

// normalizeForCompare reduces text to the form SetCell's no-op check
// compares against: always trimmed of surrounding whitespace, and with
// interior whitespace also stripped when it looks like a formula, since
// the formula grammar itself is whitespace-insensitive between tokens.
func normalizeForCompare(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "=") {
		return trimmed
	}
	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range trimmed {
		if r == ' ' || r == '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Sheet) isNoOp(pos position.Position, text string) bool {
	existing, ok := s.cells[pos]
	if !ok {
		return false
	}
	return normalizeForCompare(text) == normalizeForCompare(existing.raw)
}

// SetCell parses and stores text at pos, replacing whatever was there.
// A leading '=' (with at least one further character) makes it a
// formula cell; a leading escape character ("'") keeps a leading '='
// from being read as a formula and is left out of the cell's value.
// Otherwise the text is stored as-is, and the cell is numeric if the
// text (escape character stripped) parses as a decimal number.
//
// If the new text is equivalent to what's already stored (modulo
// surrounding whitespace, and any whitespace inside formulas),
// SetCell does nothing. If installing a formula's references would
// close a dependency cycle, the sheet is left completely unchanged and
// CircularDependency is returned.
func (s *Sheet) SetCell(pos position.Position, text string) error {
	if !pos.IsValid() {
		return newUsageError(InvalidPosition, fmt.Sprintf("position %v is out of range", pos))
	}
	if s.isNoOp(pos, text) {
		return nil
	}

	newCell, err := s.classify(pos, text)
	if err != nil {
		return err
	}

	var refs []position.Position
	if newCell.isFormula {
		refs = newCell.ast.Referenced()
	}

	previous, hadPrevious := s.cells[pos]
	s.cells[pos] = newCell
	if err := s.graph.TryInstall(pos, refs); err != nil {
		if hadPrevious {
			s.cells[pos] = previous
		} else {
			delete(s.cells, pos)
		}
		return newUsageError(CircularDependency, fmt.Sprintf("setting %v would create a circular dependency", pos))
	}

	s.graph.InvalidateDependents(pos)
	if !hadPrevious {
		s.occupy(pos)
	}
	return nil
}

func (s *Sheet) classify(pos position.Position, text string) (*cell, error) {
	if len(text) >= 2 && text[0] == '=' {
		ast, err := formula.Parse(text[1:])
		if err != nil {
			return nil, newUsageError(FormulaSyntax, err.Error())
		}
		return newFormulaCell(pos, ast), nil
	}
	return newPlainCell(pos, text), nil
}

// ClearCell removes whatever is at pos, if anything. Clearing a cell
// that other formulas reference leaves a placeholder behind in the
// dependency graph and marks those formulas' caches stale; clearing an
// absent cell is a no-op.
func (s *Sheet) ClearCell(pos position.Position) error {
	if !pos.IsValid() {
		return newUsageError(InvalidPosition, fmt.Sprintf("position %v is out of range", pos))
	}
	if _, ok := s.cells[pos]; !ok {
		return nil
	}
	delete(s.cells, pos)
	s.graph.Remove(pos)
	s.graph.InvalidateDependents(pos)
	s.rowCount[pos.Row]--
	s.colCount[pos.Col]--
	s.recomputeFrontier(pos)
	return nil
}

// occupy records pos as newly filled: it bumps pos's row/column occupancy
// counts and grows the printable bounding box if pos extends it. Growth is
// monotonic, so this never needs to look at any other cell.
func (s *Sheet) occupy(pos position.Position) {
	s.rowCount[pos.Row]++
	s.colCount[pos.Col]++
	if pos.Row+1 > s.size.Rows {
		s.size.Rows = pos.Row + 1
	}
	if pos.Col+1 > s.size.Cols {
		s.size.Cols = pos.Col + 1
	}
}

// recomputeFrontier shrinks the printable bounding box after the single
// cell at pos was cleared, scanning only along the vacated row/column
// rather than every occupied cell: it walks inward from pos's row (and,
// separately, its column) only when pos sat on the current frontier,
// using rowCount/colCount to test each row/column in O(1) and stopping as
// soon as it finds one that's still occupied.
func (s *Sheet) recomputeFrontier(pos position.Position) {
	if len(s.cells) == 0 {
		s.size = position.Size{}
		return
	}
	if pos.Row+1 == s.size.Rows {
		row := pos.Row
		for row >= 0 && s.rowCount[row] == 0 {
			row--
		}
		s.size.Rows = row + 1
	}
	if pos.Col+1 == s.size.Cols {
		col := pos.Col
		for col >= 0 && s.colCount[col] == 0 {
			col--
		}
		s.size.Cols = col + 1
	}
}

// recomputeSize rebuilds the printable bounding box and the row/column
// occupancy counts from scratch. Called after a row/column insert or
// delete, which already touch every cell's position; recomputeFrontier's
// scoped walk is reserved for ClearCell's single-cell case.
func (s *Sheet) recomputeSize() {
	s.rowCount = make(map[int]int, len(s.rowCount))
	s.colCount = make(map[int]int, len(s.colCount))
	if len(s.cells) == 0 {
		s.size = position.Size{}
		return
	}
	maxRow, maxCol := -1, -1
	for p := range s.cells {
		s.rowCount[p.Row]++
		s.colCount[p.Col]++
		if p.Row > maxRow {
			maxRow = p.Row
		}
		if p.Col > maxCol {
			maxCol = p.Col
		}
	}
	s.size = position.Size{Rows: maxRow + 1, Cols: maxCol + 1}
}

func (s *Sheet) wouldOverflowRows(before, count int) bool {
	for _, p := range s.graph.Positions() {
		if p.Row >= before && p.Row+count >= position.MaxRows {
			return true
		}
	}
	return false
}

func (s *Sheet) wouldOverflowCols(before, count int) bool {
	for _, p := range s.graph.Positions() {
		if p.Col >= before && p.Col+count >= position.MaxCols {
			return true
		}
	}
	return false
}

// InsertRows inserts count empty rows before row index before, shifting
// every cell and placeholder at or past that row down, and rewriting
// every formula's references the same way. It fails with TableTooBig,
// leaving the sheet unchanged, if doing so would push anything past the
// grid's maximum row.
func (s *Sheet) InsertRows(before, count int) error {
	if count <= 0 {
		return nil
	}
	if s.wouldOverflowRows(before, count) {
		return newUsageError(TableTooBig, "insertion would push a cell past the maximum row")
	}

	newCells := make(map[position.Position]*cell, len(s.cells))
	for p, c := range s.cells {
		np := p
		if p.Row >= before {
			np = position.New(p.Row+count, p.Col)
		}
		c.pos = np
		newCells[np] = c
	}
	s.cells = newCells
	s.graph.ShiftRows(before, count)

	for p, c := range s.cells {
		if !c.isFormula {
			continue
		}
		if cls := c.ast.InsertRows(before, count); cls != formula.NothingChanged {
			c.raw = "=" + c.ast.Render()
			s.graph.InvalidateDependents(p)
		}
	}

	s.recomputeSize()
	return nil
}

// InsertCols is InsertRows' column-wise counterpart.
func (s *Sheet) InsertCols(before, count int) error {
	if count <= 0 {
		return nil
	}
	if s.wouldOverflowCols(before, count) {
		return newUsageError(TableTooBig, "insertion would push a cell past the maximum column")
	}

	newCells := make(map[position.Position]*cell, len(s.cells))
	for p, c := range s.cells {
		np := p
		if p.Col >= before {
			np = position.New(p.Row, p.Col+count)
		}
		c.pos = np
		newCells[np] = c
	}
	s.cells = newCells
	s.graph.ShiftCols(before, count)

	for p, c := range s.cells {
		if !c.isFormula {
			continue
		}
		if cls := c.ast.InsertCols(before, count); cls != formula.NothingChanged {
			c.raw = "=" + c.ast.Render()
			s.graph.InvalidateDependents(p)
		}
	}

	s.recomputeSize()
	return nil
}

// DeleteRows destroys every cell in rows [first, first+count), annihilates
// any formula reference into that range (rendering it "#REF!" and
// evaluating to a Ref error), shifts everything past the range up, and
// invalidates every formula whose references moved or were destroyed.
// It is a no-op on an empty sheet.
func (s *Sheet) DeleteRows(first, count int) error {
	if count <= 0 || len(s.cells) == 0 {
		return nil
	}

	var destroyed []position.Position
	for p := range s.cells {
		if p.Row >= first && p.Row < first+count {
			destroyed = append(destroyed, p)
		}
	}
	for _, p := range destroyed {
		delete(s.cells, p)
		s.graph.Remove(p)
		s.graph.InvalidateDependents(p)
	}

	for p, c := range s.cells {
		if !c.isFormula {
			continue
		}
		if cls := c.ast.DeleteRows(first, count); cls != formula.NothingChanged {
			c.raw = "=" + c.ast.Render()
			s.graph.InvalidateDependents(p)
		}
	}

	newCells := make(map[position.Position]*cell, len(s.cells))
	for p, c := range s.cells {
		np := p
		if p.Row >= first+count {
			np = position.New(p.Row-count, p.Col)
		}
		c.pos = np
		newCells[np] = c
	}
	s.cells = newCells
	s.graph.DeleteRowRange(first, count)

	s.recomputeSize()
	return nil
}

// DeleteCols is DeleteRows' column-wise counterpart.
func (s *Sheet) DeleteCols(first, count int) error {
	if count <= 0 || len(s.cells) == 0 {
		return nil
	}

	var destroyed []position.Position
	for p := range s.cells {
		if p.Col >= first && p.Col < first+count {
			destroyed = append(destroyed, p)
		}
	}
	for _, p := range destroyed {
		delete(s.cells, p)
		s.graph.Remove(p)
		s.graph.InvalidateDependents(p)
	}

	for p, c := range s.cells {
		if !c.isFormula {
			continue
		}
		if cls := c.ast.DeleteCols(first, count); cls != formula.NothingChanged {
			c.raw = "=" + c.ast.Render()
			s.graph.InvalidateDependents(p)
		}
	}

	newCells := make(map[position.Position]*cell, len(s.cells))
	for p, c := range s.cells {
		np := p
		if p.Col >= first+count {
			np = position.New(p.Row, p.Col-count)
		}
		c.pos = np
		newCells[np] = c
	}
	s.cells = newCells
	s.graph.DeleteColRange(first, count)

	s.recomputeSize()
	return nil
}

// PrintValues writes the sheet's printable bounding box to w, tab-separated
// within a row and newline-terminated per row, rendering each cell as its
// computed value: a formatted number, stripped plain text, or an error
// sentinel ("#REF!", "#VALUE!", "#DIV/0!").
func (s *Sheet) PrintValues(w io.Writer) error {
	for row := 0; row < s.size.Rows; row++ {
		for col := 0; col < s.size.Cols; col++ {
			if col > 0 {
				if _, err := io.WriteString(w, "\t"); err != nil {
					return err
				}
			}
			if _, err := io.WriteString(w, s.valueText(position.New(row, col))); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sheet) valueText(pos position.Position) string {
	c, ok := s.cells[pos]
	if !ok {
		return ""
	}
	if !c.isFormula {
		return c.printableText()
	}
	val, err := s.ValueAt(pos)
	if err != nil {
		if perr, ok := err.(position.Error); ok {
			return perr.Kind.Sentinel()
		}
		return position.Value.Sentinel()
	}
	return formatNumber(val)
}

// PrintTexts writes the sheet's printable bounding box to w the same way
// as PrintValues, but rendering each cell as its source text: a plain
// cell's raw entry (escape character retained) or a formula cell's
// canonical "=..." rendering.
func (s *Sheet) PrintTexts(w io.Writer) error {
	for row := 0; row < s.size.Rows; row++ {
		for col := 0; col < s.size.Cols; col++ {
			if col > 0 {
				if _, err := io.WriteString(w, "\t"); err != nil {
					return err
				}
			}
			pos := position.New(row, col)
			text := ""
			if c, ok := s.cells[pos]; ok {
				text = c.raw
			}
			if _, err := io.WriteString(w, text); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	return nil
}

var _ formula.View = (*Sheet)(nil)
