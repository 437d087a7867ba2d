package schemamodel

import "encoding/json"

// StepKind enumerates the logical schema changes the step mapper knows how
// to translate into a client database mutation. Unknown kinds are a
// programming error in the caller, not a runtime condition this package
// handles.
type StepKind string

const (
	StepCreateModel StepKind = "create_model"
	StepDropModel   StepKind = "drop_model"
	StepCreateField StepKind = "create_field"
	StepDropField   StepKind = "drop_field"
	StepRenameField StepKind = "rename_field"
	StepCreateIndex StepKind = "create_index"
	StepDropIndex   StepKind = "drop_index"
	// StepComment is metadata-only: it never produces a database mutation.
	StepComment StepKind = "comment"
)

// MigrationStep describes one atomic logical change within a migration.
// Order within a migration's step sequence is significant; steps are never
// reordered by the engine or the worker.
type MigrationStep struct {
	Kind    StepKind        `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CreateFieldPayload is the payload shape for StepCreateField.
type CreateFieldPayload struct {
	Model    string `json:"model"`
	Field    string `json:"field"`
	DataType string `json:"dataType"`
	Nullable bool   `json:"nullable"`
	Default  string `json:"default,omitempty"`
}

// DropFieldPayload is the payload shape for StepDropField.
type DropFieldPayload struct {
	Model string `json:"model"`
	Field string `json:"field"`
}

// RenameFieldPayload is the payload shape for StepRenameField.
type RenameFieldPayload struct {
	Model   string `json:"model"`
	OldName string `json:"oldName"`
	NewName string `json:"newName"`
}

// CreateModelPayload is the payload shape for StepCreateModel.
type CreateModelPayload struct {
	Model string `json:"model"`
}

// DropModelPayload is the payload shape for StepDropModel.
type DropModelPayload struct {
	Model string `json:"model"`
}

// IndexPayload is the payload shape shared by StepCreateIndex / StepDropIndex.
type IndexPayload struct {
	Model  string   `json:"model"`
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
	Unique bool     `json:"unique"`
}
