package config

import (
	"testing"
	"testing/fstest"

	qt "github.com/frankban/quicktest"
)

func TestFindCatalogFile(t *testing.T) {
	fsys := fstest.MapFS{
		"home/user/lab/icat.catalog.json": &fstest.MapFile{
			Mode: 0644,
			Data: []byte(`{"head.v1":{}}`),
		},
	}

	t.Run("found-in-parent", func(t *testing.T) {
		path, rest, err := FindCatalogFile(fsys, "", "home/user/lab/experiments/run4")
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, path, qt.Equals, "home/user/lab/icat.catalog.json")
		qt.Assert(t, rest, qt.Equals, "home/user")
	})
	t.Run("found-in-place", func(t *testing.T) {
		path, _, err := FindCatalogFile(fsys, "", "home/user/lab")
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, path, qt.Equals, "home/user/lab/icat.catalog.json")
	})
	t.Run("not-found", func(t *testing.T) {
		path, rest, err := FindCatalogFile(fsys, "", "home/other")
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, path, qt.Equals, "")
		qt.Assert(t, rest, qt.Equals, "")
	})
}
