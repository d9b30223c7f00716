package util

import (
	"io/fs"
	"path/filepath"

	"github.com/serum-errors/go-serum"
	"github.com/urfave/cli/v2"
	"github.com/warpfork/go-fsx"

	"github.com/icatools/icat/icatapi"
	"github.com/icatools/icat/pkg/config"
	"github.com/icatools/icat/pkg/dumpfile"
)

type DumpTarget struct {
	OriginalRequest string // The user-given argument that resulted in this target.  A filesystem path fragment, generally.
	Path            string // Resolved path within the target fs.  Known to exist, not yet known to parse.
}

type DumpTargets struct {
	FS   fsx.FS
	List []DumpTarget
}

func (ts *DumpTargets) append(t DumpTarget) {
	ts.List = append(ts.List, t)
}

// FindDumpTargets turns CLI args into the set of dump files they describe.
// Specific files are checked for existence up front -- you probably want to
// hear about any typos before heavy work starts.  A directory means the dump
// files directly inside it; a trailing "..." walks the whole tree.
//
// Errors:
//
//    - icat-error-invalid-argument -- when no args are given, a named file is
//        missing, a walk fails, or a named directory holds no dump files
func FindDumpTargets(args cli.Args, fsys fsx.FS, pwd string) (results DumpTargets, err error) {
	results = DumpTargets{FS: fsys}

	if !args.Present() {
		err = serum.Errorf(icatapi.ECodeArgument, "nothing to do: name at least one dump file")
		return
	}

	// Loop over all the args.  They're cumulative.
	for _, arg := range args.Slice() {
		abs := arg
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(pwd, abs)
		}

		// If we have a "...": do a walk.  Gather any files that look like dump streams.
		if filepath.Base(abs) == "..." {
			root := filepath.Dir(abs)[1:]
			e2 := fsx.WalkDir(results.FS, root,
				func(path string, d fsx.DirEntry, werr error) error {
					if werr != nil {
						return werr
					}
					if d.IsDir() || !isDumpFile(path) {
						return nil
					}
					results.append(DumpTarget{OriginalRequest: arg, Path: path})
					return nil
				},
			)
			if e2 != nil {
				err = serum.Errorf(icatapi.ECodeArgument, "error while walking for dump files matching %q: %w", arg, e2)
				return
			}
			continue
		}

		// This one's a path to some single file or directory, then.
		rooted := abs[1:]
		fi, e2 := fs.Stat(results.FS, rooted)
		if e2 != nil {
			err = serum.Errorf(icatapi.ECodeArgument, "error looking for a dump at %q: %w", arg, e2)
			return
		}
		if fi.IsDir() { // If it's a dir, we take the dump files directly inside it.
			entries, e2 := fs.ReadDir(results.FS, rooted)
			if e2 != nil {
				err = serum.Errorf(icatapi.ECodeArgument, "error listing %q: %w", arg, e2)
				return
			}
			found := 0
			for _, ent := range entries {
				if ent.IsDir() || !isDumpFile(ent.Name()) {
					continue
				}
				results.append(DumpTarget{OriginalRequest: arg, Path: filepath.Join(rooted, ent.Name())})
				found++
			}
			if found == 0 {
				err = serum.Errorf(icatapi.ECodeArgument, "no dump files in directory %q", arg)
				return
			}
		} else {
			results.append(DumpTarget{OriginalRequest: arg, Path: rooted})
		}
	}
	return
}

// isDumpFile reports whether the name looks like a dump stream.  Local
// catalogue snapshots are excluded even though they are dump-shaped:
// feeding the catalogue back into itself is never what was meant.
func isDumpFile(path string) bool {
	if filepath.Base(path) == config.DefaultCatalogFilename {
		return false
	}
	_, err := dumpfile.DetectFormat(path)
	return err == nil
}

// Display renders the target path for human eyes: relative to the working
// directory when it sits under it, absolute otherwise.
func (t DumpTarget) Display(pwd string) string {
	rel, err := filepath.Rel(pwd, "/"+t.Path)
	if err != nil || len(rel) >= 2 && rel[:2] == ".." {
		return "/" + t.Path
	}
	return rel
}
