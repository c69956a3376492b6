package integrityfs

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"
)

// WalkFunc is called for every path visited by Walk. Returning fs.SkipDir
// from a directory skips its contents.
type WalkFunc func(p string, info os.FileInfo, err error) error

// Walk visits root and everything below it in lexical order. Symbolic links
// are reported but never followed.
func (f *IntegrityFS) Walk(root string, fn WalkFunc) error {
	root = f.resolve(root)
	info, err := f.Lstat(root)
	if err != nil {
		return fn(root, nil, err)
	}
	err = f.walk(root, info, fn)
	if errors.Is(err, fs.SkipDir) || errors.Is(err, fs.SkipAll) {
		return nil
	}
	return err
}

func (f *IntegrityFS) walk(p string, info os.FileInfo, fn WalkFunc) error {
	if err := fn(p, info, nil); err != nil {
		if info.IsDir() && errors.Is(err, fs.SkipDir) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return nil
	}

	names, err := f.readDirNames(p)
	if err != nil {
		return fn(p, info, err)
	}
	for _, name := range names {
		child := path.Join(p, name)
		childInfo, err := f.Lstat(child)
		if err != nil {
			if err := fn(child, nil, err); err != nil && !errors.Is(err, fs.SkipDir) {
				return err
			}
			continue
		}
		if err := f.walk(child, childInfo, fn); err != nil {
			return err
		}
	}
	return nil
}

func (f *IntegrityFS) readDirNames(dir string) ([]string, error) {
	d, err := f.base.Open(dir)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	names, err := d.Readdirnames(-1)
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, name := range names {
		if name != "." && name != ".." {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// PathError pairs a path with the error it produced during a tree operation
type PathError struct {
	Path string
	Err  error
}

func (e PathError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e PathError) Unwrap() error {
	return e.Err
}

// AuditReport summarizes a VerifyTree run. Path lists are sorted.
type AuditReport struct {
	Checked         int
	Matched         int
	Unprotected     int
	Mismatched      []string
	MissingBaseline []string
	Errors          []PathError
}

// OK reports whether every protected file matched its digest
func (r *AuditReport) OK() bool {
	return len(r.Mismatched) == 0 && len(r.MissingBaseline) == 0 && len(r.Errors) == 0
}

// digestTargets lists the paths below root that can carry a digest
func (f *IntegrityFS) digestTargets(root string) ([]string, []PathError, error) {
	var (
		paths   []string
		walkErr []PathError
	)
	err := f.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			walkErr = append(walkErr, PathError{Path: p, Err: err})
			return nil
		}
		if f.engine.digestible(classify(info)) {
			paths = append(paths, p)
		}
		return nil
	})
	return paths, walkErr, err
}

// VerifyTree checks every regular file (and symlink, when enabled) below
// root. Files are checked concurrently according to Config.Parallel; each
// check still takes its parent directory lock.
func (f *IntegrityFS) VerifyTree(root string) (*AuditReport, error) {
	if err := ValidateFilePath(root); err != nil {
		return nil, err
	}
	paths, walkErrs, err := f.digestTargets(root)
	if err != nil {
		return nil, fmt.Errorf("walk failed: %w", err)
	}

	type outcome struct {
		res Result
		err error
	}
	outcomes := make([]outcome, len(paths))
	err = f.config.Parallel.forEach(len(paths), func(i int) {
		res, err := f.verifier.Check(paths[i])
		outcomes[i] = outcome{res, err}
	})
	if err != nil {
		return nil, err
	}

	report := &AuditReport{Checked: len(paths), Errors: walkErrs}
	for i, o := range outcomes {
		switch {
		case o.err != nil:
			report.Errors = append(report.Errors, PathError{Path: paths[i], Err: o.err})
		case o.res == ResultMatch:
			report.Matched++
		case o.res == ResultMismatch:
			report.Mismatched = append(report.Mismatched, paths[i])
		case o.res == ResultNoBaseline:
			report.MissingBaseline = append(report.MissingBaseline, paths[i])
		default:
			report.Unprotected++
		}
	}

	f.config.Logger.Info("audit complete",
		slog.String("root", root),
		slog.Int("checked", report.Checked),
		slog.Int("matched", report.Matched),
		slog.Int("mismatched", len(report.Mismatched)),
		slog.Int("missing_baseline", len(report.MissingBaseline)),
		slog.Int("errors", len(report.Errors)))
	return report, nil
}

// MigrateOptions contains options for algorithm migration
type MigrateOptions struct {
	// VerifyFirst skips (and reports) files whose content no longer matches
	// the current digest instead of re-baselining them
	VerifyFirst bool

	// DryRun reports what would change without writing attributes
	DryRun bool
}

// MigrationReport summarizes a MigrateAlgorithm run
type MigrationReport struct {
	Migrated []string
	Skipped  int
	Failed   []PathError
}

// MigrateAlgorithm sets the algorithm of every protected file below root to
// algorithm, recomputing each digest. It requires Config.AlgorithmAttr.
func (f *IntegrityFS) MigrateAlgorithm(c Caller, root, algorithm string, opts MigrateOptions) (*MigrationReport, error) {
	if !f.config.AlgorithmAttr {
		return nil, newAttrError("migrate", root, AttrAlgorithm, ErrNotSupported, "per-path algorithms are disabled")
	}
	if err := ValidateFilePath(root); err != nil {
		return nil, err
	}
	if err := ValidateAlgorithm(algorithm); err != nil {
		return nil, err
	}
	if !f.config.Privilege.IsPrivileged(c) {
		return nil, newAttrError("migrate", root, AttrAlgorithm, ErrNotSupported, "caller is not privileged")
	}
	target, _ := lookupAlgorithm(algorithm)

	paths, walkErrs, err := f.digestTargets(root)
	if err != nil {
		return nil, fmt.Errorf("walk failed: %w", err)
	}

	report := &MigrationReport{Failed: walkErrs}
	for _, p := range paths {
		protected, err := f.manager.IsProtected(p)
		if err != nil {
			report.Failed = append(report.Failed, PathError{Path: p, Err: err})
			continue
		}
		current, err := f.manager.Algorithm(p)
		if err != nil {
			report.Failed = append(report.Failed, PathError{Path: p, Err: err})
			continue
		}
		if !protected || current == target.name {
			report.Skipped++
			continue
		}
		if opts.VerifyFirst {
			if err := f.verifier.Verify(p); err != nil {
				report.Failed = append(report.Failed, PathError{Path: p, Err: err})
				continue
			}
		}
		if opts.DryRun {
			f.config.Logger.Info("would migrate digest",
				slog.String("path", p), slog.String("from", current), slog.String("to", target.name))
			report.Migrated = append(report.Migrated, p)
			continue
		}
		if err := f.interceptor.SetAttr(c, p, AttrAlgorithm, []byte(target.name), SetAny); err != nil {
			report.Failed = append(report.Failed, PathError{Path: p, Err: err})
			continue
		}
		report.Migrated = append(report.Migrated, p)
	}

	if len(report.Failed) > 0 {
		return report, fmt.Errorf("migration completed with %d errors (migrated %d files)", len(report.Failed), len(report.Migrated))
	}
	f.config.Logger.Info("migration complete",
		slog.String("root", root), slog.String("algorithm", target.name),
		slog.Int("migrated", len(report.Migrated)), slog.Bool("dry_run", opts.DryRun))
	return report, nil
}
