// Package docker implements compute.Engine by running one container per
// operation on the host Docker daemon.
//
// Each container receives its inputs under /workspace/in and must leave its
// outputs under /workspace/out:
//
//	preprocess: in/raw.csv                               -> out/cleaned.csv, out/scaler.pkl
//	train:      in/cleaned.csv                           -> out/model.pkl
//	predict:    in/model.pkl, in/scaler.pkl, in/features.csv -> out/predictions.csv
//
// MODELOPS_OPERATION and MODELOPS_VARIANT are set in the container environment.
package docker

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"modelops/internal/apperrors"
	"modelops/internal/compute"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	workspace      = "/workspace"
	outputDir      = workspace + "/out"
	maxOutputBytes = 512 << 20
	logTailLines   = 20
	removeTimeout  = 10 * time.Second
	defaultTimeout = 30 * time.Minute
	managedByLabel = "managed-by"
	managedByValue = "modelops"
	operationLabel = "modelops.operation"
	variantLabel   = "modelops.variant"
)

// dockerAPI is the subset of the Docker client the engine uses.
type dockerAPI interface {
	ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (image.InspectResponse, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, container.PathStat, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Ping(ctx context.Context) (types.Ping, error)
	Close() error
}

// Config holds the image for each operation.
type Config struct {
	PreprocessImage string
	TrainImage      string
	PredictImage    string
	Timeout         time.Duration // per container run (default 30m)
}

// Engine runs compute operations in containers.
type Engine struct {
	client  dockerAPI
	cfg     Config
	timeout time.Duration
}

// New connects to the Docker daemon using the standard environment variables.
func New(cfg Config) (*Engine, error) {
	if cfg.PreprocessImage == "" || cfg.TrainImage == "" || cfg.PredictImage == "" {
		return nil, fmt.Errorf("preprocess, train and predict images are required")
	}
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newEngine(dockerClient, cfg), nil
}

func newEngine(api dockerAPI, cfg Config) *Engine {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Engine{client: api, cfg: cfg, timeout: timeout}
}

func (e *Engine) Preprocess(ctx context.Context, raw []byte, variant string) (compute.Preprocessed, error) {
	out, err := e.run(ctx, "preprocess", e.cfg.PreprocessImage, variant,
		map[string][]byte{"raw.csv": raw},
		"cleaned.csv", "scaler.pkl")
	if err != nil {
		return compute.Preprocessed{}, err
	}
	return compute.Preprocessed{Cleaned: out["cleaned.csv"], Scaler: out["scaler.pkl"]}, nil
}

func (e *Engine) Train(ctx context.Context, cleaned []byte, variant string) ([]byte, error) {
	out, err := e.run(ctx, "train", e.cfg.TrainImage, variant,
		map[string][]byte{"cleaned.csv": cleaned},
		"model.pkl")
	if err != nil {
		return nil, err
	}
	return out["model.pkl"], nil
}

// Predict writes the features as CSV and reads one label per line back,
// ignoring an optional "prediction" header.
func (e *Engine) Predict(ctx context.Context, model, scaler []byte, features compute.Table) ([]string, error) {
	featureCSV, err := (&compute.Dataset{Features: features}).MarshalCSV("")
	if err != nil {
		return nil, apperrors.Internal("docker.predict", err)
	}
	out, err := e.run(ctx, "predict", e.cfg.PredictImage, "",
		map[string][]byte{"model.pkl": model, "scaler.pkl": scaler, "features.csv": featureCSV},
		"predictions.csv")
	if err != nil {
		return nil, err
	}

	var labels []string
	sc := bufio.NewScanner(bytes.NewReader(out["predictions.csv"]))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || (len(labels) == 0 && strings.EqualFold(line, "prediction")) {
			continue
		}
		labels = append(labels, line)
	}
	if len(labels) != len(features.Rows) {
		return nil, apperrors.Internal("docker.predict", fmt.Errorf("container returned %d predictions for %d rows", len(labels), len(features.Rows)))
	}
	return labels, nil
}

// Ready checks if the Docker daemon is reachable and responsive.
func (e *Engine) Ready(ctx context.Context) error {
	_, err := e.client.Ping(ctx)
	return err
}

// Close releases the Docker client.
func (e *Engine) Close() error {
	return e.client.Close()
}

func (e *Engine) run(ctx context.Context, op, imageName, variant string, inputs map[string][]byte, outputs ...string) (map[string][]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	logger := slog.With("operation", op, "variant", variant, "image", imageName)
	internal := func(err error) error { return apperrors.Internal("docker."+op, err) }

	if err := e.pullImageIfNeeded(ctx, imageName); err != nil {
		return nil, internal(fmt.Errorf("pull %s: %w", imageName, err))
	}

	id, err := e.createContainer(ctx, op, imageName, variant)
	if err != nil {
		return nil, internal(fmt.Errorf("create container: %w", err))
	}
	defer e.removeContainer(id)

	archive, err := packWorkspace(inputs)
	if err != nil {
		return nil, internal(err)
	}
	if err := e.client.CopyToContainer(ctx, id, "/", archive, container.CopyToContainerOptions{}); err != nil {
		return nil, internal(fmt.Errorf("copy inputs: %w", err))
	}

	start := time.Now()
	if err := e.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, internal(fmt.Errorf("start container: %w", err))
	}
	exitCode, err := e.waitForExit(ctx, id)
	if err != nil {
		return nil, internal(fmt.Errorf("wait for container: %w", err))
	}
	logger.Info("Container exited", "exitCode", exitCode, "duration", time.Since(start))
	if exitCode != 0 {
		return nil, internal(fmt.Errorf("container exited with code %d: %s", exitCode, e.logTail(ctx, id)))
	}

	rc, _, err := e.client.CopyFromContainer(ctx, id, outputDir)
	if err != nil {
		return nil, internal(fmt.Errorf("copy outputs: %w", err))
	}
	defer rc.Close()

	files, err := unpackOutputs(rc, maxOutputBytes)
	if err != nil {
		return nil, internal(err)
	}
	for _, name := range outputs {
		if _, ok := files[name]; !ok {
			return nil, internal(fmt.Errorf("container did not write %s/%s", outputDir, name))
		}
	}
	return files, nil
}

func (e *Engine) createContainer(ctx context.Context, op, imageName, variant string) (string, error) {
	containerConfig := &container.Config{
		Image:      imageName,
		WorkingDir: workspace,
		Env: []string{
			"MODELOPS_OPERATION=" + op,
			"MODELOPS_VARIANT=" + variant,
		},
		Labels: map[string]string{
			managedByLabel: managedByValue,
			operationLabel: op,
			variantLabel:   variant,
		},
	}
	hostConfig := &container.HostConfig{
		NetworkMode: "none",
	}

	name := fmt.Sprintf("modelops-%s-%s", op, uuid.NewString()[:8])
	resp, err := e.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (e *Engine) pullImageIfNeeded(ctx context.Context, imageName string) error {
	if _, err := e.client.ImageInspect(ctx, imageName); err == nil {
		return nil
	}

	reader, err := e.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (e *Engine) waitForExit(ctx context.Context, containerID string) (int, error) {
	statusCh, errCh := e.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		if status.Error != nil {
			return int(status.StatusCode), fmt.Errorf("%s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	}
}

// logTail returns the last lines the container wrote, for error messages.
func (e *Engine) logTail(ctx context.Context, containerID string) string {
	logs, err := e.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       fmt.Sprint(logTailLines),
	})
	if err != nil {
		return "logs unavailable"
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return "logs unavailable"
	}
	tail := strings.TrimSpace(stderr.String())
	if tail == "" {
		tail = strings.TrimSpace(stdout.String())
	}
	return tail
}

// removeContainer runs on its own context so cleanup happens after cancellation.
func (e *Engine) removeContainer(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()
	if err := e.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		slog.Warn("Failed to remove container", "containerId", containerID, "error", err)
	}
}

var _ compute.Engine = (*Engine)(nil)
