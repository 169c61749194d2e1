package docker

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"time"
)

// packWorkspace builds the tar stream copied to the container root: the
// workspace, its input directory holding files, and an empty output directory.
func packWorkspace(files map[string][]byte) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	now := time.Now()

	for _, dir := range []string{"workspace/", "workspace/in/", "workspace/out/"} {
		if err := tw.WriteHeader(&tar.Header{
			Name:     dir,
			Typeflag: tar.TypeDir,
			Mode:     0o777,
			ModTime:  now,
		}); err != nil {
			return nil, fmt.Errorf("failed to write tar header: %w", err)
		}
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		data := files[name]
		if err := tw.WriteHeader(&tar.Header{
			Name:     "workspace/in/" + name,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(data)),
			ModTime:  now,
		}); err != nil {
			return nil, fmt.Errorf("failed to write tar header: %w", err)
		}
		if _, err := tw.Write(data); err != nil {
			return nil, fmt.Errorf("failed to write file to tar: %w", err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close tar: %w", err)
	}
	return &buf, nil
}

// unpackOutputs reads the regular files of a tar stream copied from the
// container's output directory, keyed by base name.
func unpackOutputs(r io.Reader, limit int64) (map[string][]byte, error) {
	tr := tar.NewReader(r)
	out := make(map[string][]byte)
	var total int64

	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar header: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		clean := path.Clean(header.Name)
		if strings.HasPrefix(clean, "..") || path.IsAbs(clean) {
			return nil, fmt.Errorf("invalid path in archive: %s", header.Name)
		}

		total += header.Size
		if limit > 0 && total > limit {
			return nil, fmt.Errorf("container outputs exceed %d bytes", limit)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("failed to extract %s: %w", header.Name, err)
		}
		out[path.Base(clean)] = data
	}
	return out, nil
}
