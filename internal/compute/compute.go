// Package compute defines the preprocess, train and predict collaborators the
// pipeline drives. Artifact bytes are opaque to callers.
package compute

import "context"

// LabelColumn is the target column in raw, cleaned and holdout datasets.
const LabelColumn = "quality"

// Preprocessed is the output of a preprocess step.
type Preprocessed struct {
	Cleaned []byte
	Scaler  []byte
}

// Engine runs the stateless computations of the lifecycle.
type Engine interface {
	// Preprocess turns a raw dataset into a cleaned dataset and a fitted scaler.
	Preprocess(ctx context.Context, raw []byte, variant string) (Preprocessed, error)
	// Train fits a model on a cleaned dataset.
	Train(ctx context.Context, cleaned []byte, variant string) ([]byte, error)
	// Predict scales unscaled feature rows with scaler and classifies them with model.
	Predict(ctx context.Context, model, scaler []byte, features Table) ([]string, error)
}
