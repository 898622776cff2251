package gitrepo

import (
	"path"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// ReadFile reads p from the worktree filesystem.
func (r *Repo) ReadFile(p string) ([]byte, error) {
	data, err := util.ReadFile(r.options.FS, p)
	if err != nil {
		return nil, WrapErrorf(err, "read %q", p)
	}
	return data, nil
}

// WriteFile atomically writes data to p in the worktree filesystem
// (write-temp-then-rename), creating parent directories as needed, per
// spec.md §4.2 step 2.
func (r *Repo) WriteFile(p string, data []byte) error {
	dir := path.Dir(p)
	if dir != "." {
		if err := r.options.FS.MkdirAll(dir, 0o755); err != nil {
			return WrapErrorf(err, "mkdir %q", dir)
		}
	}

	tmp := p + ".tmp"
	if err := util.WriteFile(r.options.FS, tmp, data, 0o644); err != nil {
		return WrapErrorf(err, "write temp file %q", tmp)
	}
	if err := renameFile(r.options.FS, tmp, p); err != nil {
		return WrapErrorf(err, "rename %q -> %q", tmp, p)
	}
	return nil
}

func renameFile(fs billy.Filesystem, oldpath, newpath string) error {
	return fs.Rename(oldpath, newpath)
}
