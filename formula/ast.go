// Package formula implements the arithmetic expression tree: numeric
// literals and cell references combined with the four arithmetic
// operators and unary sign. A Formula evaluates itself against a View of
// a sheet, renders itself back to minimally-parenthesised canonical text,
// and rewrites its references when rows or columns are inserted or
// deleted.
package formula

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/vogtb/sheetgraph/position"
)

// View is the read access a Formula needs from the sheet it is evaluated
// against. The sheet engine implements this; the formula package never
// depends on the sheet package, only on this narrow interface.
type View interface {
	// ValueAt returns the numeric value of the cell at p. An absent cell
	// evaluates to 0; a plain cell with non-numeric text returns
	// position.Error{Kind: position.Value}; a formula cell returns its
	// (possibly freshly computed) current value or its cached error.
	ValueAt(p position.Position) (float64, error)
}

// Classification reports how a rewrite operation (InsertRows, DeleteCols,
// ...) affected a Formula's references.
type Classification int

const (
	// NothingChanged means no reference was touched by the rewrite.
	NothingChanged Classification = iota
	// ReferencesRenamedOnly means at least one reference shifted but none
	// was annihilated.
	ReferencesRenamedOnly
	// ReferencesChanged means at least one reference was annihilated.
	ReferencesChanged
)

func combine(a, b Classification) Classification {
	if b > a {
		return b
	}
	return a
}

// opTag classifies a node by the operator that produced it, for the
// parenthesisation table in needsParens. Atoms (literals, references) carry
// tagAtom and are never parenthesised.
type opTag int

const (
	tagAtom opTag = iota
	tagUnaryPlus
	tagUnaryMinus
	tagAdd
	tagSub
	tagMul
	tagDiv
)

// UnOp is a unary arithmetic operator.
type UnOp int

const (
	UnaryPlus UnOp = iota
	UnaryMinus
)

// BinOp is a binary arithmetic operator.
type BinOp int

const (
	Add BinOp = iota
	Sub
	Mul
	Div
)

// Node is one AST constructor: Literal, Reference, Unary, or Binary.
// Implementations are unexported; construct trees with NewLiteral,
// NewReference, NewUnary, and NewBinary.
type Node interface {
	Eval(v View) (float64, error)
	Render() string
	tag() opTag
	collectReferenced(out map[position.Position]struct{})
	shiftRows(before, count int) Classification
	shiftCols(before, count int) Classification
	deleteRows(first, count int) Classification
	deleteCols(first, count int) Classification
}

// Literal is a numeric constant.
type Literal struct {
	Value float64
}

// NewLiteral constructs a Literal node.
func NewLiteral(v float64) *Literal { return &Literal{Value: v} }

func (n *Literal) Eval(View) (float64, error) { return n.Value, nil }
func (n *Literal) tag() opTag                 { return tagAtom }
func (n *Literal) collectReferenced(map[position.Position]struct{}) {}
func (n *Literal) shiftRows(int, int) Classification              { return NothingChanged }
func (n *Literal) shiftCols(int, int) Classification              { return NothingChanged }
func (n *Literal) deleteRows(int, int) Classification             { return NothingChanged }
func (n *Literal) deleteCols(int, int) Classification             { return NothingChanged }

func (n *Literal) Render() string {
	return strconv.FormatFloat(n.Value, 'g', -1, 64)
}

// Reference points at another cell. Pos may be position.Invalid (or any
// other out-of-range position) after an annihilating delete; such a
// reference evaluates to position.Error{Kind: position.Ref} and renders
// as "#REF!".
type Reference struct {
	Pos position.Position
}

// NewReference constructs a Reference node.
func NewReference(p position.Position) *Reference { return &Reference{Pos: p} }

func (n *Reference) tag() opTag { return tagAtom }

func (n *Reference) Eval(v View) (float64, error) {
	if !n.Pos.IsValid() {
		return 0, position.NewError(position.Ref)
	}
	return v.ValueAt(n.Pos)
}

func (n *Reference) Render() string {
	if !n.Pos.IsValid() {
		return position.Ref.Sentinel()
	}
	return position.Format(n.Pos)
}

func (n *Reference) collectReferenced(out map[position.Position]struct{}) {
	if n.Pos.IsValid() {
		out[n.Pos] = struct{}{}
	}
}

func (n *Reference) shiftRows(before, count int) Classification {
	if n.Pos.Row < before {
		return NothingChanged
	}
	n.Pos.Row += count
	return ReferencesRenamedOnly
}

func (n *Reference) shiftCols(before, count int) Classification {
	if n.Pos.Col < before {
		return NothingChanged
	}
	n.Pos.Col += count
	return ReferencesRenamedOnly
}

func (n *Reference) deleteRows(first, count int) Classification {
	if n.Pos.Row < first {
		return NothingChanged
	}
	if n.Pos.Row < first+count {
		n.Pos = position.Invalid
		return ReferencesChanged
	}
	n.Pos.Row -= count
	return ReferencesRenamedOnly
}

func (n *Reference) deleteCols(first, count int) Classification {
	if n.Pos.Col < first {
		return NothingChanged
	}
	if n.Pos.Col < first+count {
		n.Pos = position.Invalid
		return ReferencesChanged
	}
	n.Pos.Col -= count
	return ReferencesRenamedOnly
}

// Unary is a unary-signed sub-expression: +x or -x.
type Unary struct {
	Op    UnOp
	Child Node
}

// NewUnary constructs a Unary node.
func NewUnary(op UnOp, child Node) *Unary { return &Unary{Op: op, Child: child} }

func (n *Unary) tag() opTag {
	if n.Op == UnaryPlus {
		return tagUnaryPlus
	}
	return tagUnaryMinus
}

func (n *Unary) Eval(v View) (float64, error) {
	val, err := n.Child.Eval(v)
	if err != nil {
		return 0, err
	}
	if n.Op == UnaryMinus {
		return -val, nil
	}
	return val, nil
}

func (n *Unary) Render() string {
	sign := "+"
	if n.Op == UnaryMinus {
		sign = "-"
	}
	return sign + renderChild(n.tag(), n.Child, false)
}

func (n *Unary) collectReferenced(out map[position.Position]struct{}) {
	n.Child.collectReferenced(out)
}

func (n *Unary) shiftRows(before, count int) Classification {
	return n.Child.shiftRows(before, count)
}
func (n *Unary) shiftCols(before, count int) Classification {
	return n.Child.shiftCols(before, count)
}
func (n *Unary) deleteRows(first, count int) Classification {
	return n.Child.deleteRows(first, count)
}
func (n *Unary) deleteCols(first, count int) Classification {
	return n.Child.deleteCols(first, count)
}

// Binary is a binary arithmetic operation: l op r.
type Binary struct {
	Op    BinOp
	Left  Node
	Right Node
}

// NewBinary constructs a Binary node.
func NewBinary(op BinOp, left, right Node) *Binary {
	return &Binary{Op: op, Left: left, Right: right}
}

func (n *Binary) tag() opTag {
	switch n.Op {
	case Add:
		return tagAdd
	case Sub:
		return tagSub
	case Mul:
		return tagMul
	default:
		return tagDiv
	}
}

func (n *Binary) Eval(v View) (float64, error) {
	lv, lerr := n.Left.Eval(v)
	rv, rerr := n.Right.Eval(v)
	if lerr != nil {
		return 0, lerr
	}
	if rerr != nil {
		return 0, rerr
	}
	var result float64
	switch n.Op {
	case Add:
		result = lv + rv
	case Sub:
		result = lv - rv
	case Mul:
		result = lv * rv
	case Div:
		result = lv / rv
	}
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, position.NewError(position.Div0)
	}
	return result, nil
}

var binOpText = map[BinOp]string{Add: "+", Sub: "-", Mul: "*", Div: "/"}

func (n *Binary) Render() string {
	tag := n.tag()
	left := renderChild(tag, n.Left, false)
	right := renderChild(tag, n.Right, true)
	return left + binOpText[n.Op] + right
}

func (n *Binary) collectReferenced(out map[position.Position]struct{}) {
	n.Left.collectReferenced(out)
	n.Right.collectReferenced(out)
}

func (n *Binary) shiftRows(before, count int) Classification {
	return combine(n.Left.shiftRows(before, count), n.Right.shiftRows(before, count))
}
func (n *Binary) shiftCols(before, count int) Classification {
	return combine(n.Left.shiftCols(before, count), n.Right.shiftCols(before, count))
}
func (n *Binary) deleteRows(first, count int) Classification {
	return combine(n.Left.deleteRows(first, count), n.Right.deleteRows(first, count))
}
func (n *Binary) deleteCols(first, count int) Classification {
	return combine(n.Left.deleteCols(first, count), n.Right.deleteCols(first, count))
}

// Formula wraps a Node root with a cached, sorted list of the valid
// positions it references. The cache is recomputed after every
// construction and every rewrite.
type Formula struct {
	Root Node
	refs []position.Position
}

// New wraps root as a Formula, computing its initial referenced set.
func New(root Node) *Formula {
	f := &Formula{Root: root}
	f.recomputeRefs()
	return f
}

func (f *Formula) recomputeRefs() {
	set := make(map[position.Position]struct{})
	f.Root.collectReferenced(set)
	refs := make([]position.Position, 0, len(set))
	for p := range set {
		refs = append(refs, p)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Less(refs[j]) })
	f.refs = refs
}

// Eval evaluates the formula against v.
func (f *Formula) Eval(v View) (float64, error) {
	return f.Root.Eval(v)
}

// Render produces the canonical, minimally-parenthesised infix text.
func (f *Formula) Render() string {
	return f.Root.Render()
}

// Referenced returns the sorted, unique set of valid positions this
// formula reads.
func (f *Formula) Referenced() []position.Position {
	return f.refs
}

// InsertRows shifts every reference with Row >= before down by count.
func (f *Formula) InsertRows(before, count int) Classification {
	cls := f.Root.shiftRows(before, count)
	f.recomputeRefs()
	return cls
}

// InsertCols shifts every reference with Col >= before right by count.
func (f *Formula) InsertCols(before, count int) Classification {
	cls := f.Root.shiftCols(before, count)
	f.recomputeRefs()
	return cls
}

// DeleteRows shifts references past [first, first+count) up by count and
// annihilates references inside the deleted range.
func (f *Formula) DeleteRows(first, count int) Classification {
	cls := f.Root.deleteRows(first, count)
	f.recomputeRefs()
	return cls
}

// DeleteCols shifts references past [first, first+count) left by count
// and annihilates references inside the deleted range.
func (f *Formula) DeleteCols(first, count int) Classification {
	cls := f.Root.deleteCols(first, count)
	f.recomputeRefs()
	return cls
}

// needsParens reports whether a child with tag childTag, appearing on the
// named side of a node tagged parentTag, must be wrapped in parentheses
// to round-trip through the parser. This is the 7x7 table from spec §4.2,
// expressed as a function of (parent, child, side) rather than a literal
// matrix, since the verdict for a binary parent depends on which side is
// being rendered.
func needsParens(parentTag opTag, childTag opTag, right bool) bool {
	isAdditive := childTag == tagAdd || childTag == tagSub
	isMultiplicative := childTag == tagMul || childTag == tagDiv

	switch parentTag {
	case tagAdd:
		return false
	case tagSub:
		if !right {
			return false
		}
		return isAdditive
	case tagMul:
		return isAdditive
	case tagDiv:
		if !right {
			return isAdditive
		}
		return isAdditive || isMultiplicative
	case tagUnaryPlus, tagUnaryMinus:
		return isAdditive
	default:
		return false
	}
}

func renderChild(parentTag opTag, child Node, right bool) string {
	text := child.Render()
	if needsParens(parentTag, child.tag(), right) {
		var b strings.Builder
		b.WriteByte('(')
		b.WriteString(text)
		b.WriteByte(')')
		return b.String()
	}
	return text
}
