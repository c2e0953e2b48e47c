package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// packer writes one snapshot archive.
type packer struct {
	dataDir   string
	backupDir string
	databases int
}

// excluded reports whether a data-directory entry stays out of snapshots.
// SQLite side files are covered by the VACUUM INTO copy of their database.
func (p *packer) excluded(path string, d fs.DirEntry) bool {
	if d.IsDir() {
		abs, _ := filepath.Abs(path)
		backupAbs, _ := filepath.Abs(p.backupDir)
		return abs == backupAbs
	}
	name := d.Name()
	for _, suffix := range []string{".tmp", "-shm", "-wal", "-journal"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func (p *packer) pack(ctx context.Context, dest string) (err error) {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)

	err = filepath.WalkDir(p.dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == p.dataDir {
			return nil
		}
		if p.excluded(path, d) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(p.dataDir, path)
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".db" {
			return p.addDatabase(ctx, tw, path, filepath.ToSlash(rel))
		}
		return addEntry(tw, path, filepath.ToSlash(rel))
	})
	if err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gw.Close()
}

// addDatabase archives a consistent copy of a live SQLite database under
// name.
func (p *packer) addDatabase(ctx context.Context, tw *tar.Writer, path, name string) error {
	copyPath := filepath.Join(p.backupDir, ".capture-"+filepath.Base(path)+".tmp")
	_ = os.Remove(copyPath)
	defer func() { _ = os.Remove(copyPath) }()

	if err := vacuumInto(ctx, path, copyPath); err != nil {
		return fmt.Errorf("capturing %s: %w", name, err)
	}
	p.databases++
	return addEntry(tw, copyPath, name)
}

func vacuumInto(ctx context.Context, src, dest string) error {
	db, err := sql.Open("sqlite", src+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	_, err = db.ExecContext(ctx, "VACUUM INTO ?", dest)
	return err
}

func addEntry(tw *tar.Writer, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = name
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = io.Copy(tw, f)
	return err
}

// unpack extracts an archive into targetDir, refusing entries that would
// land outside it.
func unpack(archive, targetDir string) error {
	f, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("failed to open backup: %w", err)
	}
	defer func() { _ = f.Close() }()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to decompress backup: %w", err)
	}
	defer func() { _ = gr.Close() }()

	root := filepath.Clean(targetDir)
	tr := tar.NewReader(gr)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read backup: %w", err)
		}

		target := filepath.Join(root, filepath.FromSlash(header.Name))
		if !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("backup entry escapes target directory: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, os.FileMode(header.Mode).Perm()); err != nil {
				return err
			}
		}
	}
}

func writeFile(path string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	return out.Close()
}
