package racer

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Dump renders a human-readable snapshot of the tree plus every
// context's outstanding load state, for interactive debugging. Grounded
// on the teacher's DescribeOpenTxns-style diagnostics.
func (m *Model) Dump() string {
	var b strings.Builder
	b.WriteString("racer.Model{\n")

	treeJSON, err := json.MarshalIndent(m.tree.Snapshot(), "  ", "  ")
	if err != nil {
		fmt.Fprintf(&b, "  tree: <unrenderable: %v>\n", err)
	} else {
		fmt.Fprintf(&b, "  tree: %s\n", treeJSON)
	}

	fmt.Fprintf(&b, "  fetches=%d subscribes=%d submits=%d\n", m.FetchCount.Load(), m.SubscribeCount.Load(), m.SubmitCount.Load())
	b.WriteString(indent(m.DescribeOpenLoads(), "  "))
	b.WriteString("\n}\n")
	return b.String()
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
