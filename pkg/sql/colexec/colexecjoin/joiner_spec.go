// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package colexecjoin

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexec/colexechash"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecerror"
)

// JoinType is the type of a join. The probe input is the left side of the
// join and the build input is the right side.
type JoinType int

const (
	// InnerJoin emits the matching pairs.
	InnerJoin JoinType = iota
	// LeftOuterJoin also emits every unmatched probe row padded with NULLs.
	LeftOuterJoin
	// RightOuterJoin also emits every unmatched build row padded with NULLs.
	RightOuterJoin
	// FullOuterJoin emits the unmatched rows of both sides.
	FullOuterJoin
	// LeftSemiJoin emits every probe row that has a match, once.
	LeftSemiJoin
	// LeftAntiJoin emits every probe row that has no match.
	LeftAntiJoin
)

var joinTypeNames = [...]string{
	InnerJoin:      "INNER",
	LeftOuterJoin:  "LEFT_OUTER",
	RightOuterJoin: "RIGHT_OUTER",
	FullOuterJoin:  "FULL_OUTER",
	LeftSemiJoin:   "LEFT_SEMI",
	LeftAntiJoin:   "LEFT_ANTI",
}

func (t JoinType) String() string {
	if t >= 0 && int(t) < len(joinTypeNames) {
		return joinTypeNames[t]
	}
	return "UNKNOWN"
}

// ParseJoinType returns the join type with the given case-insensitive name,
// for example "left_outer" or "left outer".
func ParseJoinType(name string) (JoinType, error) {
	norm := strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
	for i, n := range joinTypeNames {
		if strings.EqualFold(n, norm) {
			return JoinType(i), nil
		}
	}
	return 0, errors.Newf("unknown join type %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (t JoinType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *JoinType) UnmarshalText(text []byte) error {
	jt, err := ParseJoinType(string(text))
	if err != nil {
		return err
	}
	*t = jt
	return nil
}

// IsSetOpJoin returns whether the output only has the probe columns.
func (t JoinType) IsSetOpJoin() bool {
	return t == LeftSemiJoin || t == LeftAntiJoin
}

// preservesProbe returns whether unmatched probe rows are emitted.
func (t JoinType) preservesProbe() bool {
	return t == LeftOuterJoin || t == FullOuterJoin || t == LeftAntiJoin
}

// preservesBuild returns whether unmatched build rows are emitted.
func (t JoinType) preservesBuild() bool {
	return t == RightOuterJoin || t == FullOuterJoin
}

// JoinCondition is an additional predicate that a pair of rows with equal
// keys must satisfy to match.
type JoinCondition func(build coldata.Batch, buildRow int, probe coldata.Batch, probeRow int) bool

// HashJoinerSpec describes the inputs and the semantics of a hash join.
type HashJoinerSpec struct {
	JoinType JoinType
	// BuildTypes and ProbeTypes are the schemas of the inputs.
	BuildTypes []*coltypes.T
	ProbeTypes []*coltypes.T
	// BuildKeyCols and ProbeKeyCols are the equality columns. They have the
	// same length and pairwise identical types.
	BuildKeyCols []int
	ProbeKeyCols []int
	// AllowNullEquality makes NULL keys equal to each other.
	AllowNullEquality bool
	// OnExpr, if set, is evaluated on the pairs with equal keys.
	OnExpr JoinCondition
}

// Validate checks that the key columns exist and that their types can be
// joined on.
func (s *HashJoinerSpec) Validate() error {
	if len(s.BuildKeyCols) == 0 || len(s.BuildKeyCols) != len(s.ProbeKeyCols) {
		return colexecerror.NewSchemaMismatchError(
			"hash joiner: %d build key columns and %d probe key columns",
			len(s.BuildKeyCols), len(s.ProbeKeyCols))
	}
	if s.JoinType < InnerJoin || s.JoinType > LeftAntiJoin {
		return errors.AssertionFailedf("hash joiner: unknown join type %d", s.JoinType)
	}
	for i := range s.BuildKeyCols {
		b, p := s.BuildKeyCols[i], s.ProbeKeyCols[i]
		if b < 0 || b >= len(s.BuildTypes) {
			return colexecerror.NewSchemaMismatchError(
				"hash joiner: build key column %d out of range for %d columns", b, len(s.BuildTypes))
		}
		if p < 0 || p >= len(s.ProbeTypes) {
			return colexecerror.NewSchemaMismatchError(
				"hash joiner: probe key column %d out of range for %d columns", p, len(s.ProbeTypes))
		}
		bt, pt := s.BuildTypes[b], s.ProbeTypes[p]
		if !bt.Identical(pt) {
			return colexecerror.NewSchemaMismatchError(
				"hash joiner: key %d has build type %s and probe type %s", i, bt, pt)
		}
		if !colexechash.IsKeyTypeSupported(bt) {
			return colexecerror.NewSchemaMismatchError(
				"hash joiner: %s key columns are not supported", bt)
		}
	}
	return nil
}

// OutputTypes returns the schema of the join output: the build columns
// followed by the probe columns, or only the probe columns for semi and
// anti joins.
func (s *HashJoinerSpec) OutputTypes() []*coltypes.T {
	if s.JoinType.IsSetOpJoin() {
		return append([]*coltypes.T(nil), s.ProbeTypes...)
	}
	typs := make([]*coltypes.T, 0, len(s.BuildTypes)+len(s.ProbeTypes))
	typs = append(typs, s.BuildTypes...)
	return append(typs, s.ProbeTypes...)
}

// ComparisonOp is a comparison operator of NewColumnComparison.
type ComparisonOp string

// Supported comparison operators.
const (
	EQ ComparisonOp = "="
	NE ComparisonOp = "!="
	LT ComparisonOp = "<"
	LE ComparisonOp = "<="
	GT ComparisonOp = ">"
	GE ComparisonOp = ">="
)

// NewColumnComparison returns a JoinCondition comparing a build column with
// a probe column of the same numeric type. A comparison involving NULL is
// false.
func NewColumnComparison(
	buildTypes, probeTypes []*coltypes.T, buildCol int, op ComparisonOp, probeCol int,
) (JoinCondition, error) {
	if buildCol < 0 || buildCol >= len(buildTypes) || probeCol < 0 || probeCol >= len(probeTypes) {
		return nil, colexecerror.NewSchemaMismatchError(
			"hash joiner: condition columns %d and %d out of range", buildCol, probeCol)
	}
	bt, pt := buildTypes[buildCol], probeTypes[probeCol]
	if !bt.Identical(pt) {
		return nil, colexecerror.NewSchemaMismatchError(
			"hash joiner: cannot compare %s with %s", bt, pt)
	}
	var cmpResult func(c int) bool
	switch op {
	case EQ:
		cmpResult = func(c int) bool { return c == 0 }
	case NE:
		cmpResult = func(c int) bool { return c != 0 }
	case LT:
		cmpResult = func(c int) bool { return c < 0 }
	case LE:
		cmpResult = func(c int) bool { return c <= 0 }
	case GT:
		cmpResult = func(c int) bool { return c > 0 }
	case GE:
		cmpResult = func(c int) bool { return c >= 0 }
	default:
		return nil, errors.Newf("unsupported comparison %q", op)
	}
	var compare func(b, p coldata.Vec, i, j int) int
	switch bt.Family() {
	case coltypes.Int32Family:
		compare = func(b, p coldata.Vec, i, j int) int { return cmp3(b.Int32()[i], p.Int32()[j]) }
	case coltypes.Int64Family, coltypes.TimestampFamily:
		compare = func(b, p coldata.Vec, i, j int) int { return cmp3(b.Int64()[i], p.Int64()[j]) }
	case coltypes.Float64Family:
		compare = func(b, p coldata.Vec, i, j int) int { return cmp3(b.Float64()[i], p.Float64()[j]) }
	case coltypes.DecimalFamily:
		compare = func(b, p coldata.Vec, i, j int) int { return b.Decimal()[i].Cmp(&p.Decimal()[j]) }
	default:
		return nil, errors.Newf("comparisons of %s columns are not supported", bt)
	}
	return func(build coldata.Batch, buildRow int, probe coldata.Batch, probeRow int) bool {
		bv, pv := build.ColVec(buildCol), probe.ColVec(probeCol)
		if bv.Nulls().NullAt(buildRow) || pv.Nulls().NullAt(probeRow) {
			return false
		}
		return cmpResult(compare(bv, pv, buildRow, probeRow))
	}, nil
}

func cmp3[T int32 | int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
