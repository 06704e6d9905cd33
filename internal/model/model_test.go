package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeInputNormalizeDefaults(t *testing.T) {
	in, err := NodeInput{Content: "  Buy seeds "}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, 1, in.Level)
	assert.Equal(t, ListDecimal, in.ListStyle)
	assert.Equal(t, NodeRichText, in.NodeType)
}

func TestNodeInputNormalizeRejects(t *testing.T) {
	tests := []struct {
		name  string
		in    NodeInput
		field string
	}{
		{name: "blank content", in: NodeInput{Content: "   "}, field: "content"},
		{name: "negative level", in: NodeInput{Content: "x", Level: -1}, field: "level"},
		{name: "unknown style", in: NodeInput{Content: "x", ListStyle: "upper-greek"}, field: "list_style"},
		{name: "unknown type", in: NodeInput{Content: "x", NodeType: "heading"}, field: "node_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.in.Normalize()
			var validation *ValidationError
			require.True(t, errors.As(err, &validation), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, validation.Field)
		})
	}
}

func TestParseListStyleAcceptsUnderscores(t *testing.T) {
	style, err := ParseListStyle("lower_roman")
	require.NoError(t, err)
	assert.Equal(t, ListLowerRoman, style)
}

func TestSameDateIgnoresTimeOfDay(t *testing.T) {
	morning := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	evening := time.Date(2024, 3, 1, 20, 30, 0, 0, time.UTC)
	next := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	assert.True(t, SameDate(&morning, &evening))
	assert.False(t, SameDate(&morning, &next))
	assert.False(t, SameDate(&morning, nil))
	assert.True(t, SameDate(nil, nil))
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, VersionApproved.Frozen())
	assert.False(t, VersionDraft.Frozen())
	assert.False(t, ReviewPending.Terminal())
	assert.True(t, ReviewForwarded.Terminal())
}
