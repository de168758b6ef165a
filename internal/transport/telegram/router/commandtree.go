package router

import (
	"maps"
	"slices"
	"strings"
)

// cmdNode is one word of a command route. A node can hold a handler and
// subcommands at once ("/ratio" and "/ratio set").
type cmdNode struct {
	name     string
	cmd      *Command
	children map[string]*cmdNode
	// floor is the lowest access level of any handler at or below the node.
	floor Access
}

func newRoot() *cmdNode {
	return &cmdNode{children: make(map[string]*cmdNode), floor: AccessAdmin}
}

func splitRoute(route string) []string {
	return strings.Fields(route)
}

// add registers c under route and returns its node.
func (r *cmdNode) add(route []string, c Command) *cmdNode {
	n := r
	n.floor = min(n.floor, c.Access)
	for _, word := range route {
		next := n.children[word]
		if next == nil {
			next = &cmdNode{name: word, children: make(map[string]*cmdNode), floor: AccessAdmin}
			n.children[word] = next
		}
		n = next
		n.floor = min(n.floor, c.Access)
	}
	n.cmd = &c
	return n
}

func (r *cmdNode) child(name string) (*cmdNode, bool) {
	n, ok := r.children[name]
	return n, ok
}

// descend follows args down the tree for as long as they name
// subcommands. It returns the deepest node, the words consumed and the
// remaining args. A word starting with "-" ends the walk.
func (r *cmdNode) descend(args []string) (*cmdNode, []string, []string) {
	n := r
	var used []string
	for len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		word := strings.ToLower(args[0])
		next, ok := n.children[word]
		if !ok {
			break
		}
		n, used, args = next, append(used, word), args[1:]
	}
	return n, used, args
}

func (r *cmdNode) childNames() []string {
	return slices.Sorted(maps.Keys(r.children))
}

// minAccess is the lowest access level that reaches any command under r.
func (r *cmdNode) minAccess() Access {
	return r.floor
}
