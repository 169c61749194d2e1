// Package artifact defines the lifecycle stages of a variant's artifacts and
// where each one lives in the object store.
package artifact

import "fmt"

// Stage is a lifecycle position of an artifact.
type Stage string

const (
	StageRaw        Stage = "raw"
	StageCleaned    Stage = "cleaned"
	StageTesting    Stage = "testing"
	StageProduction Stage = "production"
)

// Kind is what an artifact holds.
type Kind string

const (
	KindDataset Kind = "dataset"
	KindScaler  Kind = "scaler"
	KindModel   Kind = "model"
)

// Store containers.
const (
	ContainerRaw     = "raw"
	ContainerCleaned = "cleaned"
	ContainerTesting = "models-testing"
	ContainerModels  = "models"
	ContainerHoldout = "test-data"
)

// Containers lists every container the pipeline reads or writes.
var Containers = []string{
	ContainerRaw,
	ContainerCleaned,
	ContainerTesting,
	ContainerModels,
	ContainerHoldout,
}

// Location addresses one object in the store.
type Location struct {
	Container string
	Key       string
}

func (l Location) String() string {
	return l.Container + "/" + l.Key
}

// Ref identifies an artifact by variant, stage and kind.
// At most one artifact exists per Ref; writes overwrite.
type Ref struct {
	Variant string
	Stage   Stage
	Kind    Kind
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/%s/%s", r.Variant, r.Stage, r.Kind)
}

// Location maps the ref onto the store layout. Combinations the pipeline
// never produces (a raw scaler, a testing dataset) are rejected.
func (r Ref) Location() (Location, error) {
	v := r.Variant
	switch {
	case r.Stage == StageRaw && r.Kind == KindDataset:
		return RawDataset(v), nil
	case r.Stage == StageCleaned && r.Kind == KindDataset:
		return CleanedDataset(v), nil
	case r.Stage == StageCleaned && r.Kind == KindScaler:
		return CleanedScaler(v), nil
	case r.Stage == StageTesting && r.Kind == KindModel:
		return CandidateModel(v), nil
	case r.Stage == StageProduction && r.Kind == KindModel:
		return ProductionModel(v), nil
	case r.Stage == StageProduction && r.Kind == KindScaler:
		return ProductionScaler(v), nil
	}
	return Location{}, fmt.Errorf("no %s artifact in stage %s", r.Kind, r.Stage)
}

func RawDataset(variant string) Location {
	return Location{ContainerRaw, variant + ".csv"}
}

func CleanedDataset(variant string) Location {
	return Location{ContainerCleaned, variant + ".csv"}
}

func CleanedScaler(variant string) Location {
	return Location{ContainerCleaned, "scaler_" + variant + ".pkl"}
}

func CandidateModel(variant string) Location {
	return Location{ContainerTesting, "model_" + variant + "-testing.pkl"}
}

func ProductionModel(variant string) Location {
	return Location{ContainerModels, "model_" + variant + ".pkl"}
}

func ProductionScaler(variant string) Location {
	return Location{ContainerModels, "scaler_" + variant + ".pkl"}
}

// Status is the location of the variant's status record.
func Status(variant string) Location {
	return Location{ContainerModels, "status_" + variant + ".json"}
}

// Holdout is the location of the variant's fixed validation dataset.
func Holdout(variant string) Location {
	return Location{ContainerHoldout, "test_" + variant + ".csv"}
}
