package eligibility

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/canopy-network/flatx/pkg/catalog"
	"github.com/canopy-network/flatx/pkg/db/engine"
)

var rule = Rule{SystemAttributes: []string{"status", "visibility"}}

func TestEligible(t *testing.T) {
	tests := []struct {
		name string
		attr catalog.Attribute
		rule Rule
		want bool
	}{
		{"plain varchar", catalog.Attribute{Code: "description", BackendType: catalog.BackendText}, rule, false},
		{"static", catalog.Attribute{Code: "sku", BackendType: catalog.BackendStatic, StaticType: engine.TypeVarchar}, rule, true},
		{"listing", catalog.Attribute{Code: "name", BackendType: catalog.BackendVarchar, UsedInListing: true}, rule, true},
		{"sort", catalog.Attribute{Code: "news_from_date", BackendType: catalog.BackendDatetime, UsedForSort: true}, rule, true},
		{"system", catalog.Attribute{Code: "status", BackendType: catalog.BackendInt}, rule, true},
		{"filterable, flag off", catalog.Attribute{Code: "color", BackendType: catalog.BackendInt, IsFilterable: true}, rule, false},
		{"filterable, flag on", catalog.Attribute{Code: "color", BackendType: catalog.BackendInt, IsFilterable: true},
			Rule{AddFilterable: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Eligible(tt.attr))
		})
	}
}

func TestDecide(t *testing.T) {
	base := catalog.Attribute{Code: "color", BackendType: catalog.BackendInt}
	listed := base
	listed.UsedInListing = true

	t.Run("becomes eligible", func(t *testing.T) {
		assert.Equal(t, Decision{Change: Structural, Prepare: true, Refresh: true}, rule.Decide(base, listed))
	})

	t.Run("loses eligibility", func(t *testing.T) {
		assert.Equal(t, Decision{Change: Structural, Prepare: true}, rule.Decide(listed, base))
	})

	t.Run("never eligible", func(t *testing.T) {
		changed := base
		changed.Scope = catalog.ScopeGlobal
		assert.Equal(t, Decision{}, rule.Decide(base, changed))
	})

	t.Run("backend type change", func(t *testing.T) {
		retyped := listed
		retyped.BackendType = catalog.BackendVarchar
		d := rule.Decide(listed, retyped)
		assert.Equal(t, Structural, d.Change)
		assert.True(t, d.Prepare)
		assert.True(t, d.Refresh)
	})

	t.Run("scope change refreshes values", func(t *testing.T) {
		scoped := listed
		scoped.Scope = catalog.ScopeGlobal
		assert.Equal(t, Decision{Change: ValueOnly, Refresh: true}, rule.Decide(listed, scoped))
	})

	t.Run("label change is ignored", func(t *testing.T) {
		relabeled := listed
		relabeled.Label = "Colour"
		assert.Equal(t, None, rule.Decide(listed, relabeled).Change)
	})
}

func TestFilterKeepsOrder(t *testing.T) {
	attrs := []catalog.Attribute{
		{Code: "status", BackendType: catalog.BackendInt},
		{Code: "description", BackendType: catalog.BackendText},
		{Code: "name", BackendType: catalog.BackendVarchar, UsedInListing: true},
	}
	got := rule.Filter(attrs)
	assert.Len(t, got, 2)
	assert.Equal(t, "status", got[0].Code)
	assert.Equal(t, "name", got[1].Code)
}
