package render

import "github.com/yuin/goldmark/ast"

// findHeading returns the level of the heading this node sits under,
// or zero if there is none (or a thematic break fences it off).
func findHeading(node ast.Node) int {
	for sib := node.PreviousSibling(); sib != nil; sib = sib.PreviousSibling() {
		switch sib.Kind() {
		case ast.KindHeading:
			return sib.(*ast.Heading).Level
		case ast.KindThematicBreak:
			return 0
		}
	}
	return 0
}
