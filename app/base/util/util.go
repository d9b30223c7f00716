package util

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/serum-errors/go-serum"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/icatools/icat/icatapi"
	"github.com/icatools/icat/pkg/catalog"
	"github.com/icatools/icat/pkg/config"
	"github.com/icatools/icat/pkg/dumpfile"
	"github.com/icatools/icat/pkg/tracing"
)

// SchemaVersion returns the schema version this invocation assumes,
// falling back to the library default when the flag is unset.
func SchemaVersion(c *cli.Context) string {
	if v := c.String("schema"); v != "" {
		return v
	}
	return icatapi.SchemaVersionDefault
}

// SessionRegistry builds the schema registry for the version this
// invocation assumes.  It is the same registry OpenSession's catalog
// runs against, so readers and writers built from it agree with the
// catalog on every type.
//
// Errors:
//
//    - icat-error-invalid -- when the schema version string does not parse
func SessionRegistry(c *cli.Context) (*icatapi.Registry, error) {
	return icatapi.NewRegistry(SchemaVersion(c))
}

// OpenSession connects to the catalogue this invocation points at.
//
// The service URL comes from the `--service` flag (which also reads
// $ICAT_SERVICE).  When neither names a service, the working directory
// and its parents are searched for a local catalogue snapshot file,
// which is served through the mem driver.
//
// Errors:
//
//    - icat-error-invalid -- when no service is named and no catalogue
//        snapshot file is found, or the url or schema version is malformed
//    - icat-error-io -- when the catalogue cannot be reached or loaded
//    - icat-error-serialization -- when a catalogue snapshot does not decode
//    - icat-error-unresolved-reference -- when a catalogue snapshot references
//        entities it does not contain
//    - icat-error-initialization -- failed to get working directory
func OpenSession(c *cli.Context) (catalog.Catalog, *icatapi.Registry, error) {
	url := c.String("service")
	if url == "" {
		pwd, err := os.Getwd()
		if err != nil {
			return nil, nil, serum.Errorf(icatapi.ECodeInitialization, "failed to get working directory: %w", err)
		}
		path, _, err := config.FindCatalogFile(os.DirFS("/"), "", pwd[1:])
		if err != nil {
			return nil, nil, err
		}
		if path == "" {
			return nil, nil, serum.Error(icatapi.ECodeInvalid,
				serum.WithMessageTemplate("no catalogue service named: use --service, set $ICAT_SERVICE, or work in a directory holding a {{file}} file"),
				serum.WithDetail("file", config.DefaultCatalogFilename),
			)
		}
		url = "mem:/" + path
	}
	trace.SpanFromContext(c.Context).SetAttributes(
		attribute.String(tracing.AttrKeyIcatServiceUrl, url))
	cat, err := catalog.Open(c.Context, url, c.String("schema"))
	if err != nil {
		return nil, nil, err
	}
	reg, err := SessionRegistry(c)
	if err != nil {
		cat.Close()
		return nil, nil, err
	}
	return cat, reg, nil
}

// OpenDumpFile opens a dump file for streaming reads, accepting both
// absolute paths and paths relative to the working directory.  Close the
// reader to release the file.
//
// Errors:
//
//    - icat-error-invalid -- when the extension names no known dump format
//    - icat-error-io -- when the file cannot be opened
//    - icat-error-initialization -- failed to get working directory
func OpenDumpFile(filename string, reg *icatapi.Registry) (*dumpfile.Reader, error) {
	fsys, name, err := rootedFS(filename)
	if err != nil {
		return nil, err
	}
	return dumpfile.FromFile(fsys, name, reg)
}

// rootedFS returns an fs handle and the path of filename within it.
func rootedFS(filename string) (fs.FS, string, error) {
	if strings.HasPrefix(filename, string(filepath.Separator)) {
		return os.DirFS("/"), filename[1:], nil
	}
	pwd, err := os.Getwd()
	if err != nil {
		return nil, "", serum.Errorf(icatapi.ECodeInitialization, "failed to get working directory: %w", err)
	}
	return os.DirFS(pwd), filename, nil
}
