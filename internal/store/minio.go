package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"slices"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/notification"
)

// MinIOConfig configures an S3-compatible backend.
type MinIOConfig struct {
	Endpoint     string // host:port or URL; an https scheme enables TLS
	AccessKey    string
	SecretKey    string
	Region       string
	UseSSL       bool
	BucketPrefix string
}

// MinIO is a Store backed by an S3-compatible service. Containers map to buckets.
type MinIO struct {
	client *minio.Client
	region string
	prefix string
}

// NewMinIO creates a MinIO store. It does not contact the server.
func NewMinIO(cfg MinIOConfig) (*MinIO, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("minio endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("minio credentials are required")
	}

	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL
	if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		if u.Scheme == "https" {
			useSSL = true
		}
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinIO{client: client, region: cfg.Region, prefix: cfg.BucketPrefix}, nil
}

func (m *MinIO) Exists(ctx context.Context, container, key string) (bool, error) {
	if err := validateName(container, key); err != nil {
		return false, err
	}
	_, err := m.client.StatObject(ctx, m.bucket(container), key, minio.StatObjectOptions{})
	if err != nil {
		if isMissing(err) {
			return false, nil
		}
		return false, classifyError("exists", container, key, err)
	}
	return true, nil
}

func (m *MinIO) Get(ctx context.Context, container, key string) ([]byte, error) {
	if err := validateName(container, key); err != nil {
		return nil, err
	}
	obj, err := m.client.GetObject(ctx, m.bucket(container), key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyError("get", container, key, err)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key surfaces on first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, classifyError("get", container, key, err)
	}
	return data, nil
}

func (m *MinIO) Put(ctx context.Context, container, key string, data []byte) error {
	if err := validateName(container, key); err != nil {
		return err
	}
	_, err := m.client.PutObject(ctx, m.bucket(container), key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType(key),
	})
	if err != nil {
		return classifyError("put", container, key, err)
	}
	return nil
}

func (m *MinIO) List(ctx context.Context, container string) ([]string, error) {
	if err := validateContainer(container); err != nil {
		return nil, err
	}
	keys := []string{}
	for obj := range m.client.ListObjects(ctx, m.bucket(container), minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			if isMissing(obj.Err) {
				return []string{}, nil
			}
			return nil, classifyError("list", container, "", obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	slices.Sort(keys)
	return keys, nil
}

// Copy performs a server-side copy.
func (m *MinIO) Copy(ctx context.Context, srcContainer, srcKey, dstContainer, dstKey string) error {
	if err := validateName(srcContainer, srcKey); err != nil {
		return err
	}
	if err := validateName(dstContainer, dstKey); err != nil {
		return err
	}
	_, err := m.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: m.bucket(dstContainer), Object: dstKey},
		minio.CopySrcOptions{Bucket: m.bucket(srcContainer), Object: srcKey},
	)
	if err != nil {
		return classifyError("copy", srcContainer, srcKey, err)
	}
	return nil
}

func (m *MinIO) Delete(ctx context.Context, container, key string) error {
	if err := validateName(container, key); err != nil {
		return err
	}
	err := m.client.RemoveObject(ctx, m.bucket(container), key, minio.RemoveObjectOptions{})
	if err != nil && !isMissing(err) {
		return classifyError("delete", container, key, err)
	}
	return nil
}

func (m *MinIO) Ping(ctx context.Context) error {
	if _, err := m.client.ListBuckets(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

func (m *MinIO) EnsureContainers(ctx context.Context, containers ...string) error {
	for _, c := range containers {
		if err := validateContainer(c); err != nil {
			return err
		}
		bucket := m.bucket(c)
		exists, err := m.client.BucketExists(ctx, bucket)
		if err != nil {
			return storageErr("ensure", err)
		}
		if exists {
			continue
		}
		if err := m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: m.region}); err != nil {
			code := minio.ToErrorResponse(err).Code
			if code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
				continue
			}
			return storageErr("ensure", err)
		}
		slog.Info("Created bucket", "bucket", bucket)
	}
	return nil
}

// Watch streams keys of objects created in the container using bucket
// notifications. The channel closes when ctx is done or the server ends the stream.
func (m *MinIO) Watch(ctx context.Context, container string) (<-chan string, error) {
	if err := validateContainer(container); err != nil {
		return nil, err
	}
	events := m.client.ListenBucketNotification(ctx, m.bucket(container), "", "",
		[]string{string(notification.ObjectCreatedAll)})

	out := make(chan string, 16)
	go func() {
		defer close(out)
		for info := range events {
			if info.Err != nil {
				slog.Warn("Bucket notification error", "container", container, "error", info.Err)
				continue
			}
			for _, rec := range info.Records {
				key, err := url.QueryUnescape(rec.S3.Object.Key)
				if err != nil {
					key = rec.S3.Object.Key
				}
				select {
				case out <- key:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (m *MinIO) bucket(container string) string {
	return m.prefix + container
}

func isMissing(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return true
	}
	return false
}

// classifyError maps SDK errors onto NotFound or Storage.
func classifyError(op, container, key string, err error) error {
	if isMissing(err) {
		return notFound(container, key)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "no such key") || strings.Contains(msg, "does not exist") {
		return notFound(container, key)
	}
	return storageErr(op, err)
}

func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".csv"):
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}
