package doctests_cli

import (
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/charmbracelet/glamour"

	icatapp "github.com/icatools/icat/app"
)

// TestRegenerate renders the help screen twice: once as the raw markdown
// helpgen emits, once through a terminal markdown renderer.  It asserts
// nothing; it exists to eyeball what the help looks like after glamour
// gets at it.
func TestRegenerate(t *testing.T) {
	icatapp.App.Writer = os.Stdout
	icatapp.App.ErrWriter = os.Stderr
	_ = icatapp.App.Run([]string{"-h"})

	fmt.Println("--------")

	style := glamour.DarkStyleConfig
	stringPtr := func(s string) *string { return &s }
	uintPtr := func(u uint) *uint { return &u }
	style.Document.Margin = uintPtr(0)
	style.Paragraph.Margin = uintPtr(6)
	style.Code.Prefix = "`"
	style.Code.Suffix = "`"
	style.CodeBlock.Margin = uintPtr(8)
	style.CodeBlock.Prefix = "```\n"
	style.CodeBlock.Suffix = "```\n"
	// Chroma overrides the codeblock prefix and suffix when left in place.
	style.H3.BlockSuffix = " "
	style.H3.Margin = uintPtr(2)
	style.H3.Color = stringPtr("135")
	style.H4.BlockSuffix = " "
	style.H4.Margin = uintPtr(2)
	style.H4.Color = stringPtr("67")
	style.Table.CenterSeparator = stringPtr("x")

	r, _ := glamour.NewTermRenderer(
		glamour.WithStyles(style),
		glamour.WithWordWrap(80),
	)

	icatapp.App.Writer = r
	icatapp.App.ErrWriter = r
	_ = icatapp.App.Run([]string{"-h"})

	r.Close()
	io.Copy(os.Stdout, r)

	fmt.Println("--------")
}
