package host

import (
	"fmt"

	"github.com/xlab/treeprint"

	"github.com/colorfulnotion/contracthost/storage"
)

// FrameTrace is the shape of the call tree an invocation produced.
type FrameTrace struct {
	Contract storage.ContractID
	Function string
	Depth    int
	State    FrameState
	Result   string
	CPU      uint64
	Mem      uint64
	Children []*FrameTrace
}

func (t *FrameTrace) label() string {
	return fmt.Sprintf("%s.%s %s => %s (cpu=%d mem=%d)", t.Contract.String()[:8], t.Function, t.State, t.Result, t.CPU, t.Mem)
}

func (t *FrameTrace) fill(tree treeprint.Tree) {
	for _, c := range t.Children {
		c.fill(tree.AddBranch(c.label()))
	}
}

// Tree renders the call tree.
func (t *FrameTrace) Tree() string {
	if t == nil {
		return ""
	}
	tree := treeprint.New()
	tree.SetValue(t.label())
	t.fill(tree)
	return tree.String()
}

// Walk visits t and its descendants depth first.
func (t *FrameTrace) Walk(fn func(*FrameTrace)) {
	if t == nil {
		return
	}
	fn(t)
	for _, c := range t.Children {
		c.Walk(fn)
	}
}
