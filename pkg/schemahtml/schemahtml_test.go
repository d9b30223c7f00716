package schemahtml

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/icatools/icat/icatapi"
)

func generate(t *testing.T, version string) string {
	t.Helper()
	dir := t.TempDir()
	err := GenerateSite(icatapi.MustRegistry(version), dir)
	qt.Assert(t, err, qt.IsNil)
	return dir
}

func readPage(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	qt.Assert(t, err, qt.IsNil, qt.Commentf("page %s", name))
	return string(data)
}

func TestSiteGeneration(t *testing.T) {
	reg := icatapi.MustRegistry("4.3")
	dir := generate(t, "4.3")

	t.Run("index links every type", func(t *testing.T) {
		index := readPage(t, dir, "index.html")
		for _, name := range reg.Names() {
			link := fmt.Sprintf("href=\"%s.html\"", name)
			qt.Assert(t, strings.Contains(index, link), qt.IsTrue,
				qt.Commentf("index has no link %s", link))
		}
	})

	t.Run("every type has a page", func(t *testing.T) {
		for _, name := range reg.Names() {
			page := readPage(t, dir, string(name)+".html")
			qt.Assert(t, strings.Contains(page, "<h1>"+string(name)+"</h1>"), qt.IsTrue)
		}
		readPage(t, dir, "main.css")
	})

	t.Run("references are linked", func(t *testing.T) {
		page := readPage(t, dir, "dataset.html")
		qt.Assert(t, strings.Contains(page, `href="investigation.html"`), qt.IsTrue)
		qt.Assert(t, strings.Contains(page, "Example key: <code>dataset:investigation="), qt.IsTrue)
	})

	t.Run("example records are highlighted and linked", func(t *testing.T) {
		page := readPage(t, dir, "dataset.html")
		qt.Assert(t, strings.Contains(page, `<span style=`), qt.IsTrue)
		qt.Assert(t, strings.Contains(page, `<a href="investigation.html">investigation:facility=`), qt.IsTrue)
	})

	t.Run("nested types name their owner", func(t *testing.T) {
		page := readPage(t, dir, "keyword.html")
		qt.Assert(t, strings.Contains(page, ">investigation</a> records"), qt.IsTrue)
		qt.Assert(t, strings.Contains(page, "Example key:"), qt.IsFalse)
	})

	t.Run("unconstrained types get ordinal keys", func(t *testing.T) {
		page := readPage(t, dir, "rule.html")
		qt.Assert(t, strings.Contains(page, "No uniqueness constraint"), qt.IsTrue)
		qt.Assert(t, strings.Contains(page, "Example key: <code>rule:ord=1</code>"), qt.IsTrue)
	})

	t.Run("never-dumped types say so", func(t *testing.T) {
		index := readPage(t, dir, "index.html")
		qt.Assert(t, strings.Contains(index, "Other types"), qt.IsTrue)
		page := readPage(t, dir, "log.html")
		qt.Assert(t, strings.Contains(page, "never appear in dump streams"), qt.IsTrue)
		qt.Assert(t, strings.Contains(page, "Example record"), qt.IsFalse)
		// the legacy job link types fell out of use in 4.3
		page = readPage(t, dir, "inputDataset.html")
		qt.Assert(t, strings.Contains(page, "never appear in dump streams"), qt.IsTrue)
	})
}

func TestSiteGenerationIsDeterministic(t *testing.T) {
	a := generate(t, "4.3")
	b := generate(t, "4.3")
	for _, name := range []string{"index.html", "dataset.html", "job.html"} {
		qt.Assert(t, readPage(t, a, name), qt.Equals, readPage(t, b, name),
			qt.Commentf("page %s", name))
	}
}

func TestSiteGenerationBaseVariant(t *testing.T) {
	dir := generate(t, "4.2")
	index := readPage(t, dir, "index.html")
	qt.Assert(t, strings.Contains(index, "ICAT schema 4.2"), qt.IsTrue)
	// in the base variant jobs still carry their link rows themselves
	page := readPage(t, dir, "inputDataset.html")
	qt.Assert(t, strings.Contains(page, ">job</a> records"), qt.IsTrue)
}
