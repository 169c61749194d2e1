package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fsnotify/fsnotify"
)

const tempPrefix = ".tmp-"

// Local is a filesystem Store. Each container is a directory under root.
type Local struct {
	root string
}

// NewLocal creates a filesystem store rooted at root.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, errors.New("store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, storageErr("init", err)
	}
	return &Local{root: root}, nil
}

func (l *Local) Exists(ctx context.Context, container, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, storageErr("exists", err)
	}
	if err := validateName(container, key); err != nil {
		return false, err
	}
	info, err := os.Stat(l.objectPath(container, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, storageErr("exists", err)
	}
	return !info.IsDir(), nil
}

func (l *Local) Get(ctx context.Context, container, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr("get", err)
	}
	if err := validateName(container, key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(l.objectPath(container, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(container, key)
		}
		return nil, storageErr("get", err)
	}
	return data, nil
}

// Put writes to a temporary file in the target directory and renames it over
// the key, so readers never observe a partial object.
func (l *Local) Put(ctx context.Context, container, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return storageErr("put", err)
	}
	if err := validateName(container, key); err != nil {
		return err
	}
	return l.writeAtomic(l.objectPath(container, key), data)
}

func (l *Local) List(ctx context.Context, container string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr("list", err)
	}
	if err := validateContainer(container); err != nil {
		return nil, err
	}
	dir := l.containerPath(container)

	keys := []string{}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, storageErr("list", err)
	}
	slices.Sort(keys)
	return keys, nil
}

func (l *Local) Copy(ctx context.Context, srcContainer, srcKey, dstContainer, dstKey string) error {
	if err := ctx.Err(); err != nil {
		return storageErr("copy", err)
	}
	if err := validateName(srcContainer, srcKey); err != nil {
		return err
	}
	if err := validateName(dstContainer, dstKey); err != nil {
		return err
	}
	data, err := os.ReadFile(l.objectPath(srcContainer, srcKey))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return notFound(srcContainer, srcKey)
		}
		return storageErr("copy", err)
	}
	return l.writeAtomic(l.objectPath(dstContainer, dstKey), data)
}

func (l *Local) Delete(ctx context.Context, container, key string) error {
	if err := ctx.Err(); err != nil {
		return storageErr("delete", err)
	}
	if err := validateName(container, key); err != nil {
		return err
	}
	if err := os.Remove(l.objectPath(container, key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storageErr("delete", err)
	}
	return nil
}

func (l *Local) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(l.root)
	if err != nil {
		return storageErr("ping", err)
	}
	if !info.IsDir() {
		return storageErr("ping", fmt.Errorf("%s is not a directory", l.root))
	}
	return nil
}

func (l *Local) EnsureContainers(ctx context.Context, containers ...string) error {
	if err := ctx.Err(); err != nil {
		return storageErr("ensure", err)
	}
	for _, c := range containers {
		if err := validateContainer(c); err != nil {
			return err
		}
		if err := os.MkdirAll(l.containerPath(c), 0o755); err != nil {
			return storageErr("ensure", err)
		}
	}
	return nil
}

// Watch streams the keys of files created or rewritten in the container
// directory until ctx is done. The container directory is created if missing.
func (l *Local) Watch(ctx context.Context, container string) (<-chan string, error) {
	if err := l.EnsureContainers(ctx, container); err != nil {
		return nil, err
	}
	dir := l.containerPath(container)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, storageErr("watch", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, storageErr("watch", err)
	}

	out := make(chan string, 16)
	go func() {
		defer close(out)
		defer w.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
					continue
				}
				name := filepath.Base(ev.Name)
				if strings.HasPrefix(name, tempPrefix) || filepath.Dir(ev.Name) != dir {
					continue
				}
				select {
				case out <- name:
				case <-ctx.Done():
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("Store watcher error", "container", container, "error", err)
			}
		}
	}()
	return out, nil
}

func (l *Local) writeAtomic(target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return storageErr("put", err)
	}
	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return storageErr("put", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return storageErr("put", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return storageErr("put", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return storageErr("put", err)
	}
	return nil
}

func (l *Local) containerPath(container string) string {
	return filepath.Join(l.root, container)
}

func (l *Local) objectPath(container, key string) string {
	return filepath.Join(l.containerPath(container), filepath.FromSlash(key))
}
