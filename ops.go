package racer

// OpKind identifies the JSON0-shaped operation a mutation translates to
// for submission to a DocStore.
type OpKind int

const (
	OpSet OpKind = iota
	OpDel
	OpListInsert
	OpListRemove
	OpNumAdd
	OpListMove
)

func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "set"
	case OpDel:
		return "del"
	case OpListInsert:
		return "li"
	case OpListRemove:
		return "ld"
	case OpNumAdd:
		return "na"
	case OpListMove:
		return "lm"
	default:
		return "unknown"
	}
}

// Op is the wire-shaped JSON0 operation submitted to a DocStore. Only the
// fields relevant to Kind are populated; the rest are the zero value.
// This mirrors the well-known JSON0 op shape ({p,oi}, {p,od}, {p,oi,od},
// {p,li}, {p,ld}, {p,na}, {p,lm}) so any conformant backend can consume
// it.
type Op struct {
	Kind OpKind
	Path Path // sub-document path, relative to the document root

	OI any // object/value insert (new value), for OpSet
	OD any // object/value delete (old value), for OpSet and OpDel

	LI any // list-insert value, for OpListInsert
	LD any // list-delete value, for OpListRemove

	NA float64 // numeric delta, for OpNumAdd

	LM int // destination index, for OpListMove
}

// Encode renders op in the {p, oi, od, li, ld, na, lm} wire shape a JSON0
// backend expects.
func (op Op) Encode() map[string]any {
	m := map[string]any{"p": []any(op.Path)}
	switch op.Kind {
	case OpSet:
		if op.OD != nil {
			m["od"] = op.OD
		}
		m["oi"] = op.OI
	case OpDel:
		m["od"] = op.OD
	case OpListInsert:
		m["li"] = op.LI
	case OpListRemove:
		m["ld"] = op.LD
	case OpNumAdd:
		m["na"] = op.NA
	case OpListMove:
		m["lm"] = op.LM
	}
	return m
}

func newSetOp(path Path, previous, value any) Op {
	return Op{Kind: OpSet, Path: path, OD: previous, OI: value}
}

func newDelOp(path Path, previous any) Op {
	return Op{Kind: OpDel, Path: path, OD: previous}
}

func newListInsertOp(path Path, index int, value any) Op {
	return Op{Kind: OpListInsert, Path: append(path.Clone(), index), LI: value}
}

func newListRemoveOp(path Path, index int, value any) Op {
	return Op{Kind: OpListRemove, Path: append(path.Clone(), index), LD: value}
}

func newIncrementOp(path Path, delta float64) Op {
	return Op{Kind: OpNumAdd, Path: path, NA: delta}
}

func newMoveOp(path Path, from, to int) Op {
	return Op{Kind: OpListMove, Path: append(path.Clone(), from), LM: to}
}
