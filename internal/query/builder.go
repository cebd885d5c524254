// Package query compiles the portal's declarative query templates into GraphQL text.
package query

import (
	"strings"
)

const indent = " "

// Node is either a leaf field or a section with nested selections.
type Node struct {
	Name     string
	Args     []Arg
	Children []Node
	section  bool
}

// Arg binds a section parameter to a query variable: name(param: $variable).
type Arg struct {
	Param    string
	Variable string
}

// Variable declares a typed query variable.
type Variable struct {
	Name string
	Type string
}

// Field returns a leaf selection.
func Field(name string) Node {
	return Node{Name: name}
}

// Fields returns leaf selections for every name.
func Fields(names ...string) []Node {
	nodes := make([]Node, len(names))
	for i, name := range names {
		nodes[i] = Field(name)
	}
	return nodes
}

// Section returns a nested selection set.
func Section(name string, children ...Node) Node {
	return Node{Name: name, Children: children, section: true}
}

// SectionWithArgs returns a nested selection set that takes parameters.
func SectionWithArgs(name string, args []Arg, children ...Node) Node {
	return Node{Name: name, Args: args, Children: children, section: true}
}

// IsSection reports whether the node has a selection set.
func (n Node) IsSection() bool {
	return n.section
}

func (n Node) header() string {
	if len(n.Args) == 0 {
		return n.Name
	}
	parts := make([]string, len(n.Args))
	for i, arg := range n.Args {
		parts[i] = arg.Param + ": $" + arg.Variable
	}
	return n.Name + "(" + strings.Join(parts, ", ") + ")"
}

// Template is a named query: an optional variable list and a root selection.
type Template struct {
	Variables []Variable
	Selection []Node
}

// Compile renders the template without an operation prefix. Every nested
// selection set ends with __typename; the root set does not.
func (t Template) Compile() string {
	var b strings.Builder
	if len(t.Variables) > 0 {
		parts := make([]string, len(t.Variables))
		for i, v := range t.Variables {
			parts[i] = "$" + v.Name + ": " + v.Type
		}
		b.WriteString("(" + strings.Join(parts, ", ") + ")")
	}
	compileSelection(&b, t.Selection, "", 0)
	return b.String()
}

// Compile renders a bare selection set.
func Compile(nodes []Node) string {
	var b strings.Builder
	compileSelection(&b, nodes, "", 0)
	return b.String()
}

func compileSelection(b *strings.Builder, nodes []Node, header string, level int) {
	if header == "" {
		b.WriteString("{")
	} else {
		b.WriteString(strings.Repeat(indent, level) + header + " {")
	}

	level++
	for _, node := range nodes {
		b.WriteString("\n")
		if node.section {
			compileSelection(b, node.Children, node.header(), level)
			continue
		}
		b.WriteString(strings.Repeat(indent, level) + node.Name)
	}

	if level > 1 {
		b.WriteString("\n" + strings.Repeat(indent, level) + "__typename")
	}
	b.WriteString("\n" + strings.Repeat(indent, level-1) + "}")
}

// OperationName extracts <name> from text starting with "query <name> ".
// It returns "" when the text carries no name.
func OperationName(text string) string {
	if !strings.HasPrefix(text, "query ") {
		return ""
	}
	rest := text[len("query "):]
	end := strings.Index(rest, " ")
	if end < 0 {
		return ""
	}
	return rest[:end]
}
