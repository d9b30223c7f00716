package testutil

import (
	"bytes"
	"errors"
	"io"
	"os"
	"regexp"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/serum-errors/go-serum"
	"github.com/warpfork/go-testmark"
	"github.com/warpfork/go-testmark/testexec"

	icatapp "github.com/icatools/icat/app"
	"github.com/icatools/icat/pkg/testutil"
)

type tagset map[string]struct{}

func newTagSet(tags ...string) tagset {
	result := tagset(make(map[string]struct{}))
	for _, s := range tags {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		result[s] = struct{}{}
	}
	return result
}

func (t tagset) has(tag string) bool {
	if t == nil {
		return false
	}
	_, ok := t[tag]
	return ok
}

func TestFileContainingTestmarkexec(t *testing.T, fileName string, workDir *string) {
	t.Logf("loading test file: %q", fileName)
	doc, err := testmark.ReadFile(fileName)
	if err != nil {
		t.Fatalf("fixture file parse failed?!: %s", err)
	}

	if workDir != nil {
		err = os.Chdir(*workDir)
		qt.Assert(t, err, qt.IsNil)
	}

	doc.BuildDirIndex()
	patches := testmark.PatchAccumulator{}
	defer func() {
		if *testmark.Regen {
			patches.WriteFileWithPatches(doc, fileName)
		}
	}()
	for _, dir := range doc.DirEnt.ChildrenList {
		testName := dir.Name
		testDir := dir
		tags := getTags(testDir)
		if tags != nil {
			if len(testDir.Children) != 1 {
				t.Run(testName, func(t *testing.T) {
					t.Fatal("tagged tests must place children after the /tag=.../ dir")
				})
				continue
			}
			testDir = testDir.ChildrenList[0]
			testName = testName + "/" + testDir.Name
		}
		t.Run(testName, func(t *testing.T) {
			if tags.has("net") && *testutil.FlagOffline {
				t.Skip("skipping test", t.Name(), "due to offline flag")
			}
			test := testexec.Tester{
				ExecFn:   buildExecFn(t),
				Patches:  &patches,
				AssertFn: assertFn,
			}
			test.Test(t, testDir)
		})
	}
	if *testmark.Regen {
		patches.WriteFileWithPatches(doc, fileName)
	}
}

// getTags will return the tagset for the first child it finds with the prefix `tags=`
// The tags following the prefix are expected to be comma separated strings.
func getTags(dir *testmark.DirEnt) tagset {
	for _, child := range dir.ChildrenList {
		if strings.HasPrefix(child.Name, "tags=") {
			return newTagSet(strings.Split(child.Name[len("tags="):], ",")...)
		}
	}
	return nil
}

var (
	reIsoDate  = regexp.MustCompile(`[0-9]{4}-[0-9]{2}-[0-9]{2}T[0-9]{2}:[0-9]{2}:[0-9]{2}Z`)
	reMailDate = regexp.MustCompile(`(Mon|Tue|Wed|Thu|Fri|Sat|Sun), [0-9]{2} [A-Z][a-z]{2} [0-9]{4} [0-9]{2}:[0-9]{2}:[0-9]{2} [-+][0-9]{4}`)
	reCid      = regexp.MustCompile(`\bbaf[a-z2-7]{20,}\b`)
	reTestBin  = regexp.MustCompile(`/tmp/go-build.*/icat\.test`)
)

// Replace non-deterministic values in the output to allow comparison.
// Dump heads carry a fresh uuid and the time of creation, and chunk cids
// hash the uuid, so all three get rewritten to placeholders.
func cleanOutput(str string) string {
	str = NewGuidMapper().ReplaceAll(str)
	str = reIsoDate.ReplaceAllString(str, `2222-02-22T22:22:22Z`)
	str = reMailDate.ReplaceAllString(str, `Tue, 22 Feb 2022 22:22:22 +0000`)
	str = reCid.ReplaceAllString(str, `bafyxxxx`)
	str = reTestBin.ReplaceAllString(str, `icat`)
	return strings.TrimSpace(str)
}

// Warning!  Impure function!  Cannot safely be used in parallel!
// This mutates the CLI app object to wire the IO streams.
// Also, it uses `os.Chdir` on this process (because we're "emulating a shell" rather than making subprocesses, whee).
func buildExecFn(t *testing.T) func([]string, io.Reader, io.Writer, io.Writer) (int, error) {
	return func(args []string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
		bufout, buferr := &bytes.Buffer{}, &bytes.Buffer{}
		var testout io.Writer = bufout
		if stdout != nil {
			testout = io.MultiWriter(stdout, bufout)
		}
		var testerr io.Writer = bufout
		if stderr != nil {
			testerr = io.MultiWriter(stderr, buferr)
		}

		if args[0] == "cd" {
			if err := os.Chdir(args[1]); err != nil {
				return 1, err
			}
			return 0, nil
		}

		wd, err := os.Getwd()
		if err != nil {
			panic("failed to find working directory")
		}
		t.Log("╲╱╲╱╲╱╲╱╲╱╲╱╲╱╲╱╲╱╲╱╲╱╲╱╲╱╲╱╲╱╲╱╲╱╲╱╲╱╲╱")
		t.Logf("Working Directory: %q", wd)

		icatapp.App.Reader = stdin
		icatapp.App.Writer = testout
		icatapp.App.ErrWriter = testerr
		err = icatapp.App.Run(args)

		exitCode := 0
		if err != nil {
			exitCode = 1 // TODO more rich exit code selection -- this should happen in app package or somewhere more shared
		}

		t.Logf("Args: %v", args)
		for err != nil {
			t.Logf("Code: %s", serum.Code(err))
			t.Logf("Message: %s", serum.Message(err))
			t.Logf("Details: %v", serum.Details(err))
			err = errors.Unwrap(err)
			if err != nil {
				t.Logf("caused by:")
			}
		}
		t.Logf("==============")
		t.Logf("⌄⌄⌄ stdout ⌄⌄⌄\n%s", string(bufout.Bytes()))
		t.Logf("⌃⌃⌃ stdout ⌃⌃⌃")
		t.Logf("==============")
		t.Logf("⌄⌄⌄ stderr ⌄⌄⌄\n%s", string(buferr.Bytes()))
		t.Logf("⌃⌃⌃ stderr ⌃⌃⌃")
		t.Logf("==============")
		return exitCode, nil
	}
}

func assertFn(t *testing.T, actual, expect string) {
	actual = cleanOutput(actual)
	expect = cleanOutput(expect)
	qt.Assert(t, actual, qt.Equals, expect)
}
