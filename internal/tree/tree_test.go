package tree

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskreview/api/internal/model"
)

func node(id, parent, content string, level, position int) model.Node {
	return model.Node{
		ID:        id,
		ParentID:  parent,
		Content:   content,
		Level:     level,
		Position:  position,
		ListStyle: model.ListDecimal,
		NodeType:  model.NodeRichText,
	}
}

func sample() []model.Node {
	return []model.Node{
		node("c", "a", "Child two", 2, 2),
		node("a", "", "First", 1, 1),
		node("b", "a", "Child one", 2, 1),
		node("d", "", "Second", 1, 2),
		node("e", "b", "Grandchild", 3, 1),
	}
}

func ids(nodes []model.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

func TestBuildOrdersByPosition(t *testing.T) {
	tr := Build(sample())

	require.Len(t, tr.Roots, 2)
	assert.Equal(t, "a", tr.Roots[0].Node.ID)
	assert.Equal(t, "d", tr.Roots[1].Node.ID)
	assert.Equal(t, []string{"a", "b", "e", "c", "d"}, ids(tr.Ordered()))
	assert.Equal(t, 5, tr.Len())

	entry, ok := tr.Find("e")
	require.True(t, ok)
	assert.Equal(t, 2, entry.Depth)
}

func TestAllIsRestartable(t *testing.T) {
	tr := Build(sample())
	var first, second []string
	for entry := range tr.All() {
		first = append(first, entry.Node.ID)
	}
	for entry := range tr.All() {
		second = append(second, entry.Node.ID)
		if len(second) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b", "e", "c", "d"}, first)
	assert.Equal(t, []string{"a", "b"}, second)
}

func TestBuildSkipsCycles(t *testing.T) {
	nodes := []model.Node{
		node("root", "", "Root", 1, 1),
		node("x", "y", "X", 2, 1),
		node("y", "x", "Y", 3, 1),
	}
	tr := Build(nodes)
	assert.Equal(t, []string{"root"}, ids(tr.Ordered()))
}

func TestDisplayCounterInterleavedStyles(t *testing.T) {
	styles := []model.ListStyle{
		model.ListDecimal, model.ListBullet, model.ListDecimal, model.ListBullet, model.ListDecimal,
	}
	var nodes []model.Node
	for i, style := range styles {
		n := node(string(rune('a'+i)), "", "item", 1, i+1)
		n.ListStyle = style
		nodes = append(nodes, n)
	}
	tr := Build(nodes)

	var counters []string
	for entry := range tr.All() {
		counters = append(counters, tr.Counter(entry.Node.ID))
	}
	assert.Equal(t, []string{"1", "•", "2", "•", "3"}, counters)
}

func TestDisplayCounterFormats(t *testing.T) {
	tests := []struct {
		style model.ListStyle
		count int
		want  string
	}{
		{model.ListDecimal, 3, "3"},
		{model.ListLowerAlpha, 1, "a"},
		{model.ListLowerAlpha, 4, "d"},
		{model.ListLowerAlpha, 27, "aa"},
		{model.ListLowerRoman, 4, "iv"},
		{model.ListLowerRoman, 9, "ix"},
		{model.ListLowerRoman, 14, "xiv"},
		{model.ListBullet, 2, "•"},
	}
	for _, tt := range tests {
		var siblings []model.Node
		for i := 1; i <= tt.count; i++ {
			n := node("n", "", "x", 1, i)
			n.ListStyle = tt.style
			siblings = append(siblings, n)
		}
		got := DisplayCounter(siblings[tt.count-1], siblings)
		assert.Equal(t, tt.want, got, "style %s count %d", tt.style, tt.count)
	}
}

func TestCanChangeLevel(t *testing.T) {
	nodes := sample()
	tests := []struct {
		name    string
		id      string
		level   int
		wantErr bool
	}{
		{name: "below one", id: "a", level: 0, wantErr: true},
		{name: "not deeper than parent", id: "b", level: 1, wantErr: true},
		{name: "child would not stay deeper", id: "b", level: 3, wantErr: true},
		{name: "deeper leaf", id: "c", level: 4, wantErr: false},
		{name: "root without children", id: "d", level: 2, wantErr: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CanChangeLevel(nodes, tt.id, tt.level)
			if tt.wantErr {
				var validation *model.ValidationError
				require.True(t, errors.As(err, &validation), "expected ValidationError, got %v", err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCheckParentRejectsCycles(t *testing.T) {
	nodes := sample()
	assert.Error(t, CheckParent(nodes, "a", "a"))
	assert.Error(t, CheckParent(nodes, "a", "e"))
	assert.Error(t, CheckParent(nodes, "a", "missing"))
	assert.NoError(t, CheckParent(nodes, "d", "a"))
	assert.NoError(t, CheckParent(nodes, "d", ""))
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(sample()))

	shallow := sample()
	shallow[2].Level = 1
	assert.Error(t, Validate(shallow))

	duplicate := sample()
	duplicate[0].Position = 1
	assert.Error(t, Validate(duplicate))

	blank := sample()
	blank[1].Content = "  "
	assert.Error(t, Validate(blank))

	orphan := append(sample(), node("z", "gone", "Orphan", 2, 1))
	assert.Error(t, Validate(orphan))
}

func TestTreeInvariantHoldsAfterEveryMutation(t *testing.T) {
	nodes := sample()
	require.NoError(t, Validate(nodes))

	// reparent "d" under "a" at the next free slot
	require.NoError(t, CheckParent(nodes, "d", "a"))
	for i := range nodes {
		if nodes[i].ID == "d" {
			nodes[i].ParentID = "a"
			nodes[i].Level = 2
			nodes[i].Position = NextPosition(nodes, "a")
		}
	}
	require.NoError(t, Validate(nodes))

	require.NoError(t, CanChangeLevel(nodes, "e", 5))
	for i := range nodes {
		if nodes[i].ID == "e" {
			nodes[i].Level = 5
		}
	}
	require.NoError(t, Validate(nodes))
}

func TestDeleteOrderIsBottomUp(t *testing.T) {
	order := DeleteOrder(sample(), "a")
	assert.Equal(t, []string{"e", "b", "c", "a"}, order)

	all := DeleteAllOrder(sample())
	assert.Len(t, all, 5)
	position := map[string]int{}
	for i, id := range all {
		position[id] = i
	}
	for _, n := range sample() {
		if n.ParentID != "" {
			assert.Less(t, position[n.ID], position[n.ParentID], "%s must go before %s", n.ID, n.ParentID)
		}
	}
}

func TestNextPosition(t *testing.T) {
	assert.Equal(t, 3, NextPosition(sample(), ""))
	assert.Equal(t, 3, NextPosition(sample(), "a"))
	assert.Equal(t, 1, NextPosition(sample(), "e"))
}

func TestRollupPropagatesCompletionAndDates(t *testing.T) {
	early := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	nodes := sample()
	for i := range nodes {
		switch nodes[i].ID {
		case "e":
			nodes[i].Completed = true
			nodes[i].ReviewDate = &early
		case "c":
			nodes[i].Completed = true
			nodes[i].ReviewDate = &late
		}
	}

	rolled, changed := Rollup(nodes)
	byID := index(rolled)
	assert.True(t, byID["b"].Completed)
	assert.True(t, byID["a"].Completed)
	assert.True(t, model.SameDate(byID["a"].ReviewDate, &early))
	assert.ElementsMatch(t, []string{"a", "b"}, changed)
	assert.True(t, model.SameDate(EarliestReviewDate(rolled), &early))

	nodes[4].Completed = false // "e"
	rolled, _ = Rollup(nodes)
	byID = index(rolled)
	assert.False(t, byID["b"].Completed)
	assert.False(t, byID["a"].Completed)
}

func TestRenderHTMLEscapesContent(t *testing.T) {
	nodes := []model.Node{
		node("a", "", "<script>alert(1)</script>", 1, 1),
		node("b", "a", "Child", 2, 1),
	}
	html, err := RenderHTML(Build(nodes))
	require.NoError(t, err)
	assert.NotContains(t, html, "<script>")
	assert.Equal(t, 2, strings.Count(html, "<ol"))
	assert.Contains(t, html, `<span class="counter">1</span>`)
}
