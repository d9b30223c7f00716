package infocli

import (
	"fmt"
	"io"
	"strings"

	"github.com/serum-errors/go-serum"
	"github.com/urfave/cli/v2"

	appbase "github.com/icatools/icat/app/base"
	"github.com/icatools/icat/app/base/util"
	"github.com/icatools/icat/icatapi"
	"github.com/icatools/icat/pkg/dump"
	"github.com/icatools/icat/pkg/schemahtml"
)

func init() {
	appbase.App.Commands = append(appbase.App.Commands, infoCmdDef)
}

var infoCmdDef = &cli.Command{
	Name:      "info",
	Usage:     "Describe the entity schema, or one type of it",
	ArgsUsage: "[entity type]",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "html",
			Usage: "Generate the browsable schema reference site instead of text",
		},
		&cli.StringFlag{
			Name:      "output",
			Aliases:   []string{"o"},
			Usage:     "Directory to write the html site into",
			TakesFile: true,
		},
	},
	Action: util.ChainCmdMiddleware(cmdInfo,
		util.CmdMiddlewareLogging,
		util.CmdMiddlewareTracingConfig,
		util.CmdMiddlewareTracingSpan,
	),
}

// Errors:
//
//    - icat-error-invalid-argument -- when more than one type is named, or
//        --html is asked for without an --output directory
//    - icat-error-invalid -- when the schema version is not known
//    - icat-error-unknown-entity-type -- when the named type is not in the schema
//    - icat-error-io -- when the html site cannot be written
//    - icat-error-internal -- when html templating fails
//    - icat-error-serialization, icat-error-ambiguous-entity,
//      icat-error-unknown-field -- never in practice: html examples are built
//        from the registry's own tables
func cmdInfo(c *cli.Context) error {
	if c.Args().Len() > 1 {
		return serum.Errorf(icatapi.ECodeArgument, "info takes at most one entity type")
	}
	reg, err := util.SessionRegistry(c)
	if err != nil {
		return err
	}

	if c.Bool("html") {
		if c.Args().Present() {
			return serum.Errorf(icatapi.ECodeArgument, "the html reference covers the whole schema; drop the type argument")
		}
		outDir := c.String("output")
		if outDir == "" {
			return serum.Errorf(icatapi.ECodeArgument, "--html needs --output to say where the site goes")
		}
		if err := schemahtml.GenerateSite(reg, outDir); err != nil {
			return err
		}
		if !c.Bool("quiet") {
			fmt.Fprintf(c.App.Writer, "wrote schema reference to %s\n", outDir)
		}
		return nil
	}

	if c.Args().Present() {
		ti, err := reg.Type(icatapi.TypeName(c.Args().First()))
		if err != nil {
			return err
		}
		describeType(c.App.Writer, reg, ti)
		return nil
	}
	listTypes(c.App.Writer, reg)
	return nil
}

// listTypes prints one line per declared type: its name and where its
// records end up in a dump.
func listTypes(w io.Writer, reg *icatapi.Registry) {
	fmt.Fprintf(w, "schema %s declares %d entity types:\n", reg.Version(), len(reg.Names()))
	for _, name := range reg.Names() {
		fmt.Fprintf(w, "  %-24s %s\n", name, placement(reg, name))
	}
}

func placement(reg *icatapi.Registry, t icatapi.TypeName) string {
	switch {
	case reg.Dumpable(t):
		return "toplevel"
	case dump.ParentOf(reg, t) != "":
		return fmt.Sprintf("nests in %s", dump.ParentOf(reg, t))
	default:
		return "never dumped"
	}
}

func describeType(w io.Writer, reg *icatapi.Registry, ti *icatapi.TypeInfo) {
	fmt.Fprintf(w, "%s (schema %s):\n", ti.Name, reg.Version())
	fmt.Fprintf(w, "  placement: %s\n", placement(reg, ti.Name))

	if len(ti.Attrs) > 0 {
		fmt.Fprintf(w, "  attributes:\n")
		for _, a := range ti.Attrs {
			fmt.Fprintf(w, "    %-22s %s\n", a.Name, a.Kind)
		}
	}
	if len(ti.ToOne) > 0 {
		fmt.Fprintf(w, "  to-one relations:\n")
		for _, rel := range ti.ToOne {
			fmt.Fprintf(w, "    %-22s %s\n", rel.Name, rel.Target)
		}
	}
	if len(ti.ToMany) > 0 {
		inline := map[string]bool{}
		for _, rel := range dump.InlineCollections(reg, ti) {
			inline[rel.Name] = true
		}
		fmt.Fprintf(w, "  to-many relations:\n")
		for _, rel := range ti.ToMany {
			note := ""
			switch {
			case inline[rel.Name]:
				note = "  (nest inline)"
			case reg.Dumpable(rel.Target):
				note = "  (dumped as records of their own)"
			default:
				if carrier := dump.ParentOf(reg, rel.Target); carrier != "" {
					note = fmt.Sprintf("  (ride in %s records)", carrier)
				}
			}
			fmt.Fprintf(w, "    %-22s %s%s\n", rel.Name, rel.Target, note)
		}
	}

	if len(ti.Constraint) > 0 {
		fmt.Fprintf(w, "  constraint: %s\n", strings.Join(ti.Constraint, ", "))
	} else {
		fmt.Fprintf(w, "  constraint: none; keys fall back to all attributes and references\n")
	}
	// The natural sort order is only worth a line when it differs from
	// the constraint it defaults to.
	if strings.Join(ti.SortAttrs, "\x00") != strings.Join(ti.Constraint, "\x00") {
		fmt.Fprintf(w, "  sort key: %s\n", strings.Join(ti.SortAttrs, ", "))
	}
}
