package schemahtml

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/alecthomas/chroma/formatters"
	"github.com/alecthomas/chroma/lexers"
	"github.com/alecthomas/chroma/styles"

	"github.com/icatools/icat/icatapi"
	"github.com/icatools/icat/pkg/dump"
)

var (
	//go:embed schemaIndex.tmpl.html
	schemaIndexTemplate string

	//go:embed schemaType.tmpl.html
	schemaTypeTemplate string

	//go:embed css/main.css
	mainCssBody []byte

	// FUTURE: consider the use of `embed.FS` and `template.ParseFS()`, if there grow to be many files here.
	// It has slightly less compile-time safety checks on filenames, though.
)

type SiteConfig struct {
	// The schema registry the site documents.  One site describes one
	// schema version.
	Registry *icatapi.Registry

	// A plain string for output path prefix is used because golang still lacks
	// an interface for filesystem *writing* -- io/fs is only reading.  Sigh.
	OutputPath string

	// Set to "/" if you'll be publishing at the root of a subdomain.
	// Leave empty for relative links, which browse fine straight from
	// the output directory.
	URLPrefix string
}

func (cfg SiteConfig) tfuncs() map[string]interface{} {
	return map[string]interface{}{
		"url": func(parts ...string) string {
			return path.Join(append([]string{cfg.URLPrefix}, parts...)...)
		},
	}
}

// GenerateSite writes the complete schema reference site for one registry:
// an index page, one page per entity type, and the stylesheet.
// It is the front door used by `icat info --html`; build a SiteConfig
// directly when publishing under a URL prefix.
//
// Errors:
//
//   - icat-error-io -- in case of errors writing out the new html content.
//   - icat-error-internal -- in case of templating errors.
//   - icat-error-serialization -- in case an example record fails to encode.
//   - icat-error-unknown-entity-type -- never in practice: pages are built from the registry's own tables.
//   - icat-error-ambiguous-entity -- never in practice: example constraint fields are always populated.
//   - icat-error-unknown-field -- never in practice: examples carry only declared fields.
//   - icat-error-invalid -- never in practice: example values are made for their declared kinds.
func GenerateSite(reg *icatapi.Registry, outputPath string) error {
	cfg := SiteConfig{
		Registry:   reg,
		OutputPath: outputPath,
	}
	return cfg.SchemaAndTypesToHtml()
}

// SchemaAndTypesToHtml performs SchemaToHtml, and also
// procedes to invoke the html'ing of all entity types within.
// Additionally, it does all the other "once" things
// (namely, outputs a copy of the css).
//
// Errors:
//
//   - icat-error-io -- in case of errors writing out the new html content.
//   - icat-error-internal -- in case of templating errors.
//   - icat-error-serialization -- in case an example record fails to encode.
//   - icat-error-unknown-entity-type -- never in practice: pages are built from the registry's own tables.
//   - icat-error-ambiguous-entity -- never in practice: example constraint fields are always populated.
//   - icat-error-unknown-field -- never in practice: examples carry only declared fields.
//   - icat-error-invalid -- never in practice: example values are made for their declared kinds.
func (cfg SiteConfig) SchemaAndTypesToHtml() error {
	// Emit the index.
	if err := cfg.SchemaToHtml(); err != nil {
		return err
	}

	// Emit the "once" stuff.
	path := filepath.Join(cfg.OutputPath, "main.css")
	if err := os.WriteFile(path, mainCssBody, 0644); err != nil {
		return icatapi.ErrorIo("couldn't write css as part of schemahtml emission", path, err)
	}

	// Emit all type pages.
	for _, name := range cfg.Registry.Names() {
		ti, err := cfg.Registry.Type(name)
		if err != nil {
			return err
		}
		if err := cfg.TypeToHtml(ti); err != nil {
			return err
		}
	}
	return nil
}

// doTemplate does the common bits of making files, processing the template,
// and getting the output where it needs to go.
//
// Errors:
//
//   - icat-error-io -- in case of errors writing out the new html content.
//   - icat-error-internal -- in case of templating errors.
func (cfg SiteConfig) doTemplate(outputPath string, tmpl string, data interface{}) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0775); err != nil {
		return icatapi.ErrorIo("couldn't mkdir during schemahtml emission", outputPath, err)
	}
	f, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0664)
	if err != nil {
		return icatapi.ErrorIo("couldn't open file for writing during schemahtml emission", outputPath, err)
	}
	defer f.Close()

	t := template.Must(template.New("main").Funcs(cfg.tfuncs()).Parse(tmpl))
	if err := t.Execute(f, data); err != nil {
		return icatapi.ErrorInternal("templating failed", err)
	}
	return nil
}

// SchemaToHtml generates a root page that links to all the entity types:
// the top-level types in restore order, the nested-only types, and the
// types that never appear in dumps at all.
//
// Errors:
//
//   - icat-error-io -- in case of errors writing out the new html content.
//   - icat-error-internal -- in case of templating errors.
func (cfg SiteConfig) SchemaToHtml() error {
	reg := cfg.Registry
	var nested, other []icatapi.TypeName
	for _, name := range reg.Names() {
		switch {
		case reg.Dumpable(name):
		case dump.ParentOf(reg, name) != "":
			nested = append(nested, name)
		default:
			other = append(other, name)
		}
	}
	return cfg.doTemplate(
		filepath.Join(cfg.OutputPath, "index.html"),
		schemaIndexTemplate,
		map[string]interface{}{
			"Version":  reg.Version(),
			"Toplevel": reg.Order(),
			"Nested":   nested,
			"Other":    other,
		},
	)
}

// relationRow is one line of a relation table on a type page.
type relationRow struct {
	Name   string
	Target icatapi.TypeName
	Note   string
}

// TypeToHtml generates a page for one entity type: its attributes, its
// relations with links to the target types' pages, its uniqueness
// constraint, and an example dump record.
//
// Errors:
//
//   - icat-error-io -- in case of errors writing out the new html content.
//   - icat-error-internal -- in case of templating errors.
//   - icat-error-serialization -- in case the example record fails to encode.
//   - icat-error-unknown-entity-type -- never in practice: pages are built from the registry's own tables.
//   - icat-error-ambiguous-entity -- never in practice: example constraint fields are always populated.
//   - icat-error-unknown-field -- never in practice: examples carry only declared fields.
//   - icat-error-invalid -- never in practice: example values are made for their declared kinds.
func (cfg SiteConfig) TypeToHtml(ti *icatapi.TypeInfo) error {
	reg := cfg.Registry
	nestsIn := dump.ParentOf(reg, ti.Name)
	dumped := reg.Dumpable(ti.Name) || nestsIn != ""

	// Types no dump ever carries get no example document.
	exampleKey := ""
	var formatter interface{}
	if dumped {
		key, exampleDoc, err := exampleRecordJson(reg, ti)
		if err != nil {
			return err
		}
		exampleKey = key
		formatter = recordFormatter{cfg: cfg, json: string(exampleDoc)}
	}

	inline := map[string]bool{}
	for _, rel := range dump.InlineCollections(reg, ti) {
		inline[rel.Name] = true
	}
	toOne := make([]relationRow, 0, len(ti.ToOne))
	for _, rel := range ti.ToOne {
		toOne = append(toOne, relationRow{Name: rel.Name, Target: rel.Target})
	}
	toMany := make([]relationRow, 0, len(ti.ToMany))
	for _, rel := range ti.ToMany {
		row := relationRow{Name: rel.Name, Target: rel.Target}
		switch {
		case inline[rel.Name]:
			row.Note = "children nest inline in records of this type"
		case reg.Dumpable(rel.Target):
			row.Note = "children are dumped as records of their own"
		default:
			if carrier := dump.ParentOf(reg, rel.Target); carrier != "" {
				row.Note = fmt.Sprintf("children ride in %s records", carrier)
			}
		}
		toMany = append(toMany, row)
	}

	// The natural sort order is only worth a line when it differs from
	// the constraint it defaults to.
	sortAttrs := ti.SortAttrs
	if strings.Join(sortAttrs, "\x00") == strings.Join(ti.Constraint, "\x00") {
		sortAttrs = nil
	}

	return cfg.doTemplate(
		filepath.Join(cfg.OutputPath, string(ti.Name)+".html"),
		schemaTypeTemplate,
		map[string]interface{}{
			"Type":            ti,
			"ToOne":           toOne,
			"ToMany":          toMany,
			"Toplevel":        reg.Dumpable(ti.Name),
			"NestsIn":         nestsIn,
			"Dumped":          dumped,
			"SortAttrs":       sortAttrs,
			"ExampleKey":      exampleKey,
			"RecordFormatter": formatter,
		},
	)
}

// Helper type to format a JSON record into HTML with links
type recordFormatter struct {
	cfg  SiteConfig
	json string
}

func (rf recordFormatter) FormattedJson() template.HTML {
	// indent the json
	var indentedJson bytes.Buffer
	err := json.Indent(&indentedJson, []byte(rf.json), "", "  ")
	if err != nil {
		panic("failed to indent json")
	}

	// apply syntax highlighting to json
	lexer := lexers.Get("json")
	style := styles.Get("dracula")
	formatter := formatters.Get("html")
	if lexer == nil || style == nil || formatter == nil {
		panic("failed to setup syntax highlighting")
	}
	iterator, err := lexer.Tokenise(nil, indentedJson.String())
	if err != nil {
		panic("failed to tokenize for syntax highlighting")
	}
	var outBuf bytes.Buffer
	err = formatter.Format(&outBuf, style, iterator)
	if err != nil {
		panic("failed to apply syntax highlighting")
	}

	// replace unique keys with links to their type's page
	// quotations get replaced with their character code (&#34;), so we must
	// use that for replacement
	out := outBuf.String()
	r := rf.keyPattern()
	prefix := rf.cfg.URLPrefix
	// add trailing slash if needed
	if prefix != "" && prefix[len(prefix)-1] != '/' {
		prefix = prefix + "/"
	}
	replaceStr := fmt.Sprintf("&#34;<a href=\"%s$1.html\">$1:$2</a>&#34;", prefix)
	out = r.ReplaceAllString(out, replaceStr)
	return template.HTML(out)
}

// keyPattern matches a quoted unique key: a known type tag, a colon, and
// the field=value text up to the closing quote.  Building the tag
// alternation from the registry keeps string values that merely contain
// a colon unlinked.
func (rf recordFormatter) keyPattern() *regexp.Regexp {
	names := rf.cfg.Registry.Names()
	alts := make([]string, len(names))
	for i, n := range names {
		alts[i] = regexp.QuoteMeta(string(n))
	}
	return regexp.MustCompile(`&#34;(` + strings.Join(alts, "|") + `):([A-Za-z0-9%+._~=/-]+)&#34;`)
}
