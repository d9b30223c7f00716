/*
This package contains our custom help text generators,
and wires them into `urfave/cli` at package init time.

We use templates which emit markdown.
Optionally, this can be subsequently post-processed to be
converted to nicer terminal rendering using ANSI codes --
this feature is in another package, so you can disable it.

(The use of package init time is unfortunate,
but package sideeffects cannot be avoided:
package-scope vars are the only option for customizing help processing
that the `urfave/cli` package currently makes available.)
*/
package helpgen

import (
	"bytes"
	"io"
	"strings"
	"text/tabwriter"
	"text/template"

	"github.com/urfave/cli/v2"

	"github.com/icatools/icat/app/base/render"
)

/*
	A guide to how to use the various docs strings in a cli.Command in our system:

	- Usage -- this should be a one-liner, used to describe this command in the parent command's overview of its children.
	- UsageText -- this should contain a synopsys, with examples of how to use the command and its flags.  May be multi-line.
	- Description -- freetext prose; may be multi-line.  Shows up in the `-h` for that command.
	- ArgsUsage -- UNUSED.

	For documenting cli.Flag:

	- there's really only the Usage fields, per type.
	- Short and long isn't disambiguated here either.
*/

// Mode controls optional post-processing of the markdown that our
// templates emit.  The zero value passes the markdown through untouched;
// terminal applications can flip this at startup to get ANSI decoration.
//
// (Package-scope var, again, because the entrypoint we hand to
// `urfave/cli` gives us nowhere else to carry state.)
var Mode = render.Mode_Markdown

// printHelpCustom is the entrypoint for `urfave/cli`'s customization.
//
// See the function of the same name upstream for reference.
// This function is considerably derived from it.
func printHelpCustom(out io.Writer, tmpl string, data interface{}, customFuncs map[string]interface{}) {

	const hardwrap = 10000

	funcMap := template.FuncMap{
		"join":           strings.Join,
		"subtract":       subtract,
		"indent":         indent,
		"nindent":        nindent,
		"trim":           strings.TrimSpace,
		"wrap":           func(input string, offset int) string { return wrap(input, offset, hardwrap) },
		"offset":         offset,
		"offsetCommands": offsetCommands,
	}
	for key, value := range customFuncs {
		funcMap[key] = value
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 1, 8, 4, ' ', 0)
	t := template.Must(template.New("help").Funcs(funcMap).Parse(tmpl))
	template.Must(t.New("helpNameTemplate").Parse(helpNameTemplate))
	template.Must(t.New("usageTemplate").Parse(usageTemplate))
	template.Must(t.New("descriptionTemplate").Parse(descriptionTemplate))
	template.Must(t.New("visibleCommandTemplate").Parse(visibleCommandTemplate))
	template.Must(t.New("visibleFlagCategoryTemplate").Parse(visibleFlagCategoryTemplate))
	template.Must(t.New("visibleFlagTemplate").Parse(visibleFlagTemplate))
	template.Must(t.New("visibleGlobalFlagCategoryTemplate").Parse(strings.Replace(visibleFlagCategoryTemplate, "OPTIONS", "GLOBAL OPTIONS", -1)))
	template.Must(t.New("authorsTemplate").Parse(authorsTemplate))
	template.Must(t.New("visibleCommandCategoryTemplate").Parse(visibleCommandCategoryTemplate))

	err := t.Execute(w, data)
	if err != nil {
		panic(err)
	}
	_ = w.Flush()

	if Mode == render.Mode_Markdown {
		out.Write(buf.Bytes())
		return
	}
	render.Render(buf.Bytes(), out, Mode)
}

func init() {
	cli.HelpPrinterCustom = printHelpCustom
}
