// Package eligibility decides which attributes become flat columns and what
// an attribute metadata change requires from the indexer.
package eligibility

import (
	"slices"

	"github.com/canopy-network/flatx/pkg/catalog"
)

// Rule is the eligibility configuration of one indexer.
type Rule struct {
	// AddFilterable also materializes filterable attributes.
	AddFilterable bool
	// SystemAttributes are always materialized.
	SystemAttributes []string
}

// Eligible reports whether a gets a flat column.
func (r Rule) Eligible(a catalog.Attribute) bool {
	switch {
	case a.IsStatic(), a.UsedInListing, a.UsedForSort:
		return true
	case r.AddFilterable && a.IsFilterable:
		return true
	}
	return slices.Contains(r.SystemAttributes, a.Code)
}

// Filter keeps the eligible attributes, preserving order.
func (r Rule) Filter(attrs []catalog.Attribute) []catalog.Attribute {
	out := make([]catalog.Attribute, 0, len(attrs))
	for _, a := range attrs {
		if r.Eligible(a) {
			out = append(out, a)
		}
	}
	return out
}

// Change classifies an attribute metadata change.
type Change int

const (
	// None needs no work.
	None Change = iota
	// Structural changes the flat column set or a column definition.
	Structural
	// ValueOnly keeps the column but can change its values.
	ValueOnly
)

func (c Change) String() string {
	switch c {
	case Structural:
		return "structural"
	case ValueOnly:
		return "value"
	}
	return "none"
}

// Decision is what the indexer does for one attribute change.
type Decision struct {
	Change Change
	// Prepare means PrepareDataStorage must run on every built store.
	Prepare bool
	// Refresh means the attribute's column must be re-derived afterwards.
	Refresh bool
}

// Decide compares two snapshots of the same attribute.
//
//	before  after  column changed  value changed   decision
//	no      yes    -               -               prepare + refresh
//	yes     no     -               -               prepare
//	yes     yes    yes             -               prepare + refresh
//	yes     yes    no              yes             refresh
//	no      no     -               -               none
func (r Rule) Decide(before, after catalog.Attribute) Decision {
	was, is := r.Eligible(before), r.Eligible(after)
	switch {
	case !was && is:
		return Decision{Change: Structural, Prepare: true, Refresh: true}
	case was && !is:
		return Decision{Change: Structural, Prepare: true}
	case !was && !is:
		return Decision{}
	}

	if columnChanged(before, after) {
		return Decision{Change: Structural, Prepare: true, Refresh: true}
	}
	if before.ValueAffecting(after) {
		return Decision{Change: ValueOnly, Refresh: true}
	}
	return Decision{}
}

func columnChanged(before, after catalog.Attribute) bool {
	if before.BackendType != after.BackendType {
		return true
	}
	bt, errB := before.ColumnType()
	at, errA := after.ColumnType()
	if errB != nil || errA != nil {
		return errB == nil || errA == nil
	}
	return bt != at
}
