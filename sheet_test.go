package sheet

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vogtb/sheetgraph/position"
)

func mustPos(t *testing.T, addr string) position.Position {
	t.Helper()
	p, ok := position.Parse(addr)
	require.True(t, ok, addr)
	return p
}

func TestSetCellPlainNumberAndText(t *testing.T) {
	s := New()
	a1, a2 := mustPos(t, "A1"), mustPos(t, "A2")
	require.NoError(t, s.SetCell(a1, "42"))
	require.NoError(t, s.SetCell(a2, "hello"))

	v, err := s.Value(a1)
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)

	_, err = s.Value(a2)
	require.Error(t, err)
	assert.Equal(t, position.Value, err.(position.Error).Kind)
}

func TestSetCellEscapeCharSuppressesFormula(t *testing.T) {
	s := New()
	a1 := mustPos(t, "A1")
	require.NoError(t, s.SetCell(a1, "'=1+2"))
	info, err := s.GetCell(a1)
	require.NoError(t, err)
	assert.False(t, info.IsFormula)
	assert.Equal(t, "'=1+2", info.Text)
}

func TestSetCellFormulaArithmetic(t *testing.T) {
	s := New()
	a1 := mustPos(t, "A1")
	require.NoError(t, s.SetCell(a1, "=1+2*3"))
	v, err := s.Value(a1)
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)
}

func TestSetCellRecomputesDependents(t *testing.T) {
	s := New()
	a1, a2 := mustPos(t, "A1"), mustPos(t, "A2")
	require.NoError(t, s.SetCell(a1, "2"))
	require.NoError(t, s.SetCell(a2, "=A1*2"))

	v, err := s.Value(a2)
	require.NoError(t, err)
	assert.Equal(t, 4.0, v)

	require.NoError(t, s.SetCell(a1, "3"))
	v, err = s.Value(a2)
	require.NoError(t, err)
	assert.Equal(t, 6.0, v, "A2's cache must be invalidated when A1 changes")
}

func TestSetCellRejectsCircularDependency(t *testing.T) {
	s := New()
	a1, a2 := mustPos(t, "A1"), mustPos(t, "A2")
	require.NoError(t, s.SetCell(a1, "=A2+1"))

	err := s.SetCell(a2, "=A1+1")
	require.Error(t, err)
	var uerr *UsageError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, CircularDependency, uerr.Code)

	// A2 must remain untouched (absent), and A1 must be unaffected: it
	// still reads its placeholder dependency A2 as 0.
	info, err := s.GetCell(a2)
	require.NoError(t, err)
	assert.False(t, info.Exists)

	v, err := s.Value(a1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
}

func TestSetCellNoOpOnWhitespaceEquivalentFormula(t *testing.T) {
	s := New()
	a1 := mustPos(t, "A1")
	require.NoError(t, s.SetCell(a1, "=1+2"))
	require.NoError(t, s.SetCell(a1, "=  1 +    2 "))
	info, err := s.GetCell(a1)
	require.NoError(t, err)
	assert.Equal(t, "=1+2", info.Text, "setting equivalent text must not disturb the stored formula")
}

func TestSetCellStoresCanonicalRenderingNotLiteralInput(t *testing.T) {
	s := New()
	a1 := mustPos(t, "A1")
	require.NoError(t, s.SetCell(a1, "=1+(2*3)"))
	info, err := s.GetCell(a1)
	require.NoError(t, err)
	assert.Equal(t, "=1+2*3", info.Text)
}

func TestGetCellReportsPlaceholderForDanglingReference(t *testing.T) {
	s := New()
	a1, b1 := mustPos(t, "A1"), mustPos(t, "B1")
	require.NoError(t, s.SetCell(a1, "=B1+1"))

	info, err := s.GetCell(b1)
	require.NoError(t, err)
	assert.False(t, info.Exists)
	assert.True(t, info.Referenced)

	c1 := mustPos(t, "C1")
	info, err = s.GetCell(c1)
	require.NoError(t, err)
	assert.False(t, info.Exists)
	assert.False(t, info.Referenced)
}

func TestValueOnInvalidPositionIsUsageError(t *testing.T) {
	s := New()
	_, err := s.Value(position.Invalid)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPosition)
}

func TestInsertRowsShiftsReferences(t *testing.T) {
	s := New()
	b3, a1 := mustPos(t, "B3"), mustPos(t, "A1")
	require.NoError(t, s.SetCell(b3, "9"))
	require.NoError(t, s.SetCell(a1, "=B3+1"))

	require.NoError(t, s.InsertRows(1, 2))

	b5 := mustPos(t, "B5")
	info, err := s.GetCell(a1)
	require.NoError(t, err)
	assert.Equal(t, "=B5+1", info.Text)

	v, err := s.Value(a1)
	require.NoError(t, err)
	assert.Equal(t, 10.0, v)

	v, err = s.Value(b5)
	require.NoError(t, err)
	assert.Equal(t, 9.0, v)
}

func TestDeleteColsAnnihilatesReference(t *testing.T) {
	s := New()
	a1, b1, c1 := mustPos(t, "A1"), mustPos(t, "B1"), mustPos(t, "C1")
	require.NoError(t, s.SetCell(b1, "5"))
	require.NoError(t, s.SetCell(a1, "=B1+C1"))

	require.NoError(t, s.DeleteCols(1, 1)) // remove column B

	info, err := s.GetCell(a1)
	require.NoError(t, err)
	assert.Equal(t, "=#REF!+B1", info.Text, "C1 shifted into B1's old slot")

	_, err = s.Value(a1)
	require.Error(t, err)
	assert.Equal(t, position.Ref, err.(position.Error).Kind)

	_, err = s.Value(c1) // C1's placeholder moved to B1; C1 is now empty and reads as 0
	require.NoError(t, err)
}

func TestClearCellShrinksPrintableSize(t *testing.T) {
	s := New()
	c3 := mustPos(t, "C3")
	require.NoError(t, s.SetCell(c3, "1"))
	assert.Equal(t, position.Size{Rows: 3, Cols: 3}, s.Size())

	require.NoError(t, s.ClearCell(c3))
	assert.Equal(t, position.Size{}, s.Size())
}

func TestClearCellFrontierRescanOnlyWalksVacatedRowAndCol(t *testing.T) {
	s := New()
	a1, e5 := mustPos(t, "A1"), mustPos(t, "E5")
	require.NoError(t, s.SetCell(a1, "1"))
	require.NoError(t, s.SetCell(e5, "2"))
	assert.Equal(t, position.Size{Rows: 5, Cols: 5}, s.Size())

	// E5 is the sole occupant of both row 5 and column E; clearing it
	// must shrink the frontier back down to A1's box without touching
	// row/column occupancy for A1 at all.
	require.NoError(t, s.ClearCell(e5))
	assert.Equal(t, position.Size{Rows: 1, Cols: 1}, s.Size())
	assert.Equal(t, 1, s.rowCount[0])
	assert.Equal(t, 1, s.colCount[0])
	assert.Equal(t, 0, s.rowCount[4])
	assert.Equal(t, 0, s.colCount[4])
}

func TestClearCellNonFrontierCellLeavesSizeUnchanged(t *testing.T) {
	s := New()
	a1, c3 := mustPos(t, "A1"), mustPos(t, "C3")
	require.NoError(t, s.SetCell(a1, "1"))
	require.NoError(t, s.SetCell(c3, "2"))
	assert.Equal(t, position.Size{Rows: 3, Cols: 3}, s.Size())

	require.NoError(t, s.ClearCell(a1))
	assert.Equal(t, position.Size{Rows: 3, Cols: 3}, s.Size(), "clearing a non-frontier cell must not shrink the box")
}

func TestClearCellLeavesPlaceholderForDependents(t *testing.T) {
	s := New()
	a1, b1 := mustPos(t, "A1"), mustPos(t, "B1")
	require.NoError(t, s.SetCell(a1, "10"))
	require.NoError(t, s.SetCell(b1, "=A1+1"))

	v, err := s.Value(b1)
	require.NoError(t, err)
	assert.Equal(t, 11.0, v)

	require.NoError(t, s.ClearCell(a1))
	v, err = s.Value(b1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v, "cleared cell reads as absent (0)")
}

func TestPrintValuesAndPrintTexts(t *testing.T) {
	s := New()
	a1, a2, b1 := mustPos(t, "A1"), mustPos(t, "A2"), mustPos(t, "B1")
	require.NoError(t, s.SetCell(a1, "3"))
	require.NoError(t, s.SetCell(b1, "=A1*2"))
	require.NoError(t, s.SetCell(a2, "text"))

	var values strings.Builder
	require.NoError(t, s.PrintValues(&values))
	assert.Equal(t, "3\t6\ntext\t\n", values.String())

	var texts strings.Builder
	require.NoError(t, s.PrintTexts(&texts))
	assert.Equal(t, "3\t=A1*2\ntext\t\n", texts.String())
}

func TestPrintValuesRendersDivisionByZeroSentinel(t *testing.T) {
	s := New()
	a1 := mustPos(t, "A1")
	require.NoError(t, s.SetCell(a1, "=1/0"))

	var out strings.Builder
	require.NoError(t, s.PrintValues(&out))
	assert.Equal(t, "#DIV/0!\n", out.String())
}

func TestInsertRowsRejectsTableTooBig(t *testing.T) {
	s := New()
	near := position.New(position.MaxRows-1, 0)
	require.NoError(t, s.SetCell(near, "1"))

	err := s.InsertRows(0, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTableTooBig)

	// the sheet must be completely unchanged.
	v, verr := s.Value(near)
	require.NoError(t, verr)
	assert.Equal(t, 1.0, v)
}

func TestSetCellFormulaSyntaxError(t *testing.T) {
	s := New()
	a1 := mustPos(t, "A1")
	err := s.SetCell(a1, "=1+")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFormulaSyntax)

	info, gerr := s.GetCell(a1)
	require.NoError(t, gerr)
	assert.False(t, info.Exists, "a rejected formula must not create a cell")
}
