package concept

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristicCompareGenerality(t *testing.T) {
	cmp := NewHeuristicComparator()
	ctx := context.Background()

	tests := []struct {
		a, b string
		want Relation
	}{
		{"CLS mitigation for images", "CLS", MoreSpecific},
		{"CLS", "CLS mitigation for images", MoreGeneral},
		{"alpha", "beta", SameLevel},
		{"cumulative layout shift threshold tuning", "CLS", MoreSpecific},
		{"performance", "performance", SameLevel},
	}
	for _, tt := range tests {
		got, err := cmp.CompareGenerality(ctx, tt.a, tt.b)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%q vs %q", tt.a, tt.b)
	}
}

func TestHeuristicMergeSummariesBounded(t *testing.T) {
	cmp := NewHeuristicComparator()
	ctx := context.Background()

	merged, err := cmp.MergeSummaries(ctx, "", "layout shift is caused by late-loading images")
	require.NoError(t, err)
	assert.Equal(t, "layout shift is caused by late-loading images", merged)

	long := strings.Repeat("word ", 80)
	merged, err = cmp.MergeSummaries(ctx, merged, long)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(strings.Fields(merged)), 50)
	assert.True(t, strings.HasPrefix(merged, "layout shift"))
}

func TestNodeIDSlug(t *testing.T) {
	assert.Equal(t, "node_core_web_vitals", nodeID("Core Web Vitals"))
	assert.Equal(t, nodeID("core web vitals!"), nodeID("Core Web Vitals"))
	assert.Equal(t, "node_node", nodeID("!!!")[:9])
	assert.LessOrEqual(t, len(nodeID(strings.Repeat("a", 100))), len("node_")+48)
}
