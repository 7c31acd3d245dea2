package prompt

import (
	"text/template"
	"text/template/parse"
)

// discoverFields walks the parsed template's node tree and collects every
// top-level field reference (".name") seen in an action, in first-seen
// order without duplicates. Dotted paths (.a.b) are recorded by their
// first segment, since that is the key looked up in the vars map.
func discoverFields(tmpl *template.Template) []string {
	seen := make(map[string]bool)
	var order []string
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		order = append(order, name)
	}

	var walk func(n parse.Node)
	walk = func(n parse.Node) {
		if n == nil {
			return
		}
		switch node := n.(type) {
		case *parse.ListNode:
			for _, c := range node.Nodes {
				walk(c)
			}
		case *parse.ActionNode:
			walkPipe(node.Pipe, add)
		case *parse.IfNode:
			walkPipe(node.Pipe, add)
			walk(node.List)
			walk(node.ElseList)
		case *parse.RangeNode:
			walkPipe(node.Pipe, add)
			walk(node.List)
			walk(node.ElseList)
		case *parse.WithNode:
			walkPipe(node.Pipe, add)
			walk(node.List)
			walk(node.ElseList)
		case *parse.TemplateNode:
			walkPipe(node.Pipe, add)
		}
	}

	if tmpl.Tree != nil {
		walk(tmpl.Tree.Root)
	}
	return order
}

func walkPipe(pipe *parse.PipeNode, add func(string)) {
	if pipe == nil {
		return
	}
	for _, cmd := range pipe.Cmds {
		for _, arg := range cmd.Args {
			switch a := arg.(type) {
			case *parse.FieldNode:
				if len(a.Ident) > 0 {
					add(a.Ident[0])
				}
			case *parse.VariableNode:
				if len(a.Ident) > 1 {
					add(a.Ident[1])
				}
			case *parse.PipeNode:
				walkPipe(a, add)
			}
		}
	}
}
