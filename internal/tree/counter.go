package tree

import (
	"strconv"
	"strings"

	"taskreview/api/internal/model"
)

const bulletGlyph = "•"

// DisplayCounter counts siblings sharing the node's list style whose position does not
// exceed the node's own, starting at 1.
func DisplayCounter(node model.Node, siblings []model.Node) string {
	if node.ListStyle == model.ListBullet {
		return bulletGlyph
	}
	count := 0
	for _, sibling := range siblings {
		if sibling.ParentID != node.ParentID || sibling.ListStyle != node.ListStyle {
			continue
		}
		if sibling.Position <= node.Position {
			count++
		}
	}
	if count == 0 {
		count = 1
	}

	switch node.ListStyle {
	case model.ListLowerAlpha:
		return alpha(count)
	case model.ListLowerRoman:
		return strings.ToLower(roman(count))
	default:
		return strconv.Itoa(count)
	}
}

// alpha continues past "z" with "aa", "ab", ...
func alpha(n int) string {
	var out []byte
	for n > 0 {
		n--
		out = append([]byte{byte('a' + n%26)}, out...)
		n /= 26
	}
	return string(out)
}

var romanTable = []struct {
	value  int
	symbol string
}{
	{1000, "M"}, {900, "CM"}, {500, "D"}, {400, "CD"},
	{100, "C"}, {90, "XC"}, {50, "L"}, {40, "XL"},
	{10, "X"}, {9, "IX"}, {5, "V"}, {4, "IV"}, {1, "I"},
}

func roman(n int) string {
	var b strings.Builder
	for _, entry := range romanTable {
		for n >= entry.value {
			b.WriteString(entry.symbol)
			n -= entry.value
		}
	}
	return b.String()
}
