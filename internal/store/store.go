// Package store provides the container/key object store the pipeline keeps
// its artifacts in, with in-memory, filesystem and MinIO backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"modelops/internal/apperrors"
	"modelops/internal/artifact"
	"strings"
)

// Store is a key/value byte store organised as container + key.
//
// Writes are atomic at the key level. There is no locking across keys.
type Store interface {
	// Exists reports whether the key is present. A missing key is not an error.
	Exists(ctx context.Context, container, key string) (bool, error)
	// Get returns the object bytes, or a NotFound error when absent.
	Get(ctx context.Context, container, key string) ([]byte, error)
	// Put writes the object, overwriting any previous content.
	Put(ctx context.Context, container, key string, data []byte) error
	// List returns every key in the container, sorted.
	List(ctx context.Context, container string) ([]string, error)
	// Copy copies an object without touching the source. A missing source is NotFound.
	Copy(ctx context.Context, srcContainer, srcKey, dstContainer, dstKey string) error
	// Delete removes the object. Deleting an absent key succeeds.
	Delete(ctx context.Context, container, key string) error
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
	// EnsureContainers creates any of the named containers that do not exist.
	EnsureContainers(ctx context.Context, containers ...string) error
}

// Watcher streams the keys of objects created in a container.
type Watcher interface {
	Watch(ctx context.Context, container string) (<-chan string, error)
}

// Exists checks an artifact location.
func Exists(ctx context.Context, s Store, loc artifact.Location) (bool, error) {
	return s.Exists(ctx, loc.Container, loc.Key)
}

// Get reads an artifact location.
func Get(ctx context.Context, s Store, loc artifact.Location) ([]byte, error) {
	return s.Get(ctx, loc.Container, loc.Key)
}

// Put writes an artifact location.
func Put(ctx context.Context, s Store, loc artifact.Location, data []byte) error {
	return s.Put(ctx, loc.Container, loc.Key, data)
}

// Copy copies one artifact location to another.
func Copy(ctx context.Context, s Store, src, dst artifact.Location) error {
	return s.Copy(ctx, src.Container, src.Key, dst.Container, dst.Key)
}

// Delete removes an artifact location.
func Delete(ctx context.Context, s Store, loc artifact.Location) error {
	return s.Delete(ctx, loc.Container, loc.Key)
}

// AllExist reports whether every location is present.
func AllExist(ctx context.Context, s Store, locs ...artifact.Location) (bool, error) {
	for _, loc := range locs {
		ok, err := Exists(ctx, s, loc)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// IsNotFound reports whether err means the object is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound)
}

func notFound(container, key string) error {
	return apperrors.NotFound("object", container+"/"+key)
}

func storageErr(op string, err error) error {
	return apperrors.Storage("store."+op, err)
}

func validateName(container, key string) error {
	if err := validateContainer(container); err != nil {
		return err
	}
	if key == "" {
		return apperrors.Validation("key", "key is required")
	}
	if strings.HasPrefix(key, "/") {
		return apperrors.Validation("key", fmt.Sprintf("key %q must be relative", key))
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." || part == "" {
			return apperrors.Validation("key", fmt.Sprintf("key %q is not a clean path", key))
		}
	}
	return nil
}

func validateContainer(container string) error {
	if container == "" {
		return apperrors.Validation("container", "container is required")
	}
	if strings.ContainsAny(container, `/\`) || container == "." || container == ".." {
		return apperrors.Validation("container", fmt.Sprintf("invalid container %q", container))
	}
	return nil
}

var (
	_ Store   = (*Memory)(nil)
	_ Store   = (*Local)(nil)
	_ Store   = (*MinIO)(nil)
	_ Watcher = (*Memory)(nil)
	_ Watcher = (*Local)(nil)
	_ Watcher = (*MinIO)(nil)
)
