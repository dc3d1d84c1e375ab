// Package loader enumerates class files from files, directories and
// jar/jmod archives.
package loader

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/daimatz/callsites/pkg/classfile"
)

// WalkFunc receives each class by internal name ("java/lang/Object").
//
// When the class file cannot be parsed, cf is nil and err says why. Returning
// err stops the walk; returning nil skips the class and continues.
type WalkFunc func(name string, cf *classfile.ClassFile, err error) error

// Source is a collection of class files.
type Source interface {
	// Walk calls fn for every class in a stable order. It returns the first
	// error from fn, from reading the source, or from ctx.
	Walk(ctx context.Context, fn WalkFunc) error
	// String describes the source for logs.
	String() string
}

// Open picks a Source for path: a directory, a .jar/.zip/.jmod archive or
// a single .class file.
func Open(path string) (Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return &DirSource{Root: path}, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".class":
		return &FileSource{Path: path}, nil
	case ".jar", ".zip":
		return &ArchiveSource{Path: path}, nil
	case ".jmod":
		return &ArchiveSource{Path: path, Jmod: true}, nil
	}
	return nil, errors.Errorf("%s: not a class file, directory or archive", path)
}

// Multi walks several sources in order.
type Multi []Source

func (m Multi) Walk(ctx context.Context, fn WalkFunc) error {
	for _, s := range m {
		if err := s.Walk(ctx, fn); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) String() string {
	parts := make([]string, len(m))
	for i, s := range m {
		parts[i] = s.String()
	}
	return strings.Join(parts, ",")
}

// FileSource is a single .class file.
type FileSource struct {
	Path string
}

func (s *FileSource) Walk(ctx context.Context, fn WalkFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return errors.Wrapf(err, "reading %s", s.Path)
	}
	// the file name is only a fallback; this_class names the class
	name := strings.TrimSuffix(filepath.Base(s.Path), ".class")
	cf, err := parseClass(s.Path, data)
	if err == nil {
		if this, nameErr := cf.ClassName(); nameErr == nil {
			name = this
		} else {
			cf, err = nil, errors.Wrapf(nameErr, "parsing %s", s.Path)
		}
	}
	return fn(name, cf, err)
}

func (s *FileSource) String() string { return s.Path }

// DirSource is a classpath directory; class names follow the relative path.
type DirSource struct {
	Root string
}

func (s *DirSource) Walk(ctx context.Context, fn WalkFunc) error {
	var paths []string
	err := filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".class") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "walking %s", s.Root)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(s.Root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrapf(err, "reading %s", path)
		}
		cf, parseErr := parseClass(path, data)
		name := strings.TrimSuffix(filepath.ToSlash(rel), ".class")
		if err := fn(name, cf, parseErr); err != nil {
			return err
		}
	}
	return nil
}

func (s *DirSource) String() string { return s.Root }

// jmodMagic prefixes the zip data of a JDK .jmod file.
var jmodMagic = []byte{'J', 'M', 1, 0}

// ArchiveSource is a jar or jmod file. A jmod file is a zip archive behind a
// four byte header, with classes stored under classes/.
type ArchiveSource struct {
	Path string
	Jmod bool
}

func (s *ArchiveSource) Walk(ctx context.Context, fn WalkFunc) error {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return errors.Wrapf(err, "reading %s", s.Path)
	}
	return WalkArchive(ctx, data, s.Jmod, fn)
}

func (s *ArchiveSource) String() string { return s.Path }

// WalkArchive walks the classes of an in-memory jar or jmod.
func WalkArchive(ctx context.Context, data []byte, jmod bool, fn WalkFunc) error {
	prefix := ""
	if jmod {
		if !bytes.HasPrefix(data, jmodMagic) {
			return errors.New("jmod: missing JM header")
		}
		data = data[len(jmodMagic):]
		prefix = "classes/"
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return errors.Wrap(err, "opening zip")
	}

	files := make([]*zip.File, 0, len(zr.File))
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, prefix) && strings.HasSuffix(f.Name, ".class") {
			files = append(files, f)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := readEntry(f)
		if err != nil {
			return err
		}
		cf, parseErr := parseClass(f.Name, data)
		name := strings.TrimSuffix(strings.TrimPrefix(f.Name, prefix), ".class")
		if err := fn(name, cf, parseErr); err != nil {
			return err
		}
	}
	return nil
}

// readEntry reads a whole entry, which also verifies its checksum. A damaged
// archive ends the walk; a damaged class inside a sound archive does not.
func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", f.Name)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", f.Name)
	}
	return data, nil
}

func parseClass(path string, data []byte) (*classfile.ClassFile, error) {
	cf, err := classfile.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	return cf, nil
}

// FindJDKModule locates java.base.jmod: $JAVA_BASE_JMOD, then
// $JAVA_HOME/jmods, then the usual Linux install paths. It returns "" when
// nothing is found.
func FindJDKModule() string {
	if env := os.Getenv("JAVA_BASE_JMOD"); env != "" {
		return env
	}
	if javaHome := os.Getenv("JAVA_HOME"); javaHome != "" {
		p := filepath.Join(javaHome, "jmods", "java.base.jmod")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	matches, _ := filepath.Glob("/usr/lib/jvm/java-*-openjdk-*/jmods/java.base.jmod")
	if len(matches) > 0 {
		return matches[0]
	}
	return ""
}
