package docker

import (
	"time"
)

// Label key constants define the Docker labels put on every container
// bundle-pack creates. They let a user (or a later run) find helper
// containers left behind by an interrupted build.
//
// All keys share the "bundle-pack." prefix to namespace them and avoid
// collisions with labels set by other tools.
const (
	// LabelPrefix is the common prefix for all bundle-pack labels.
	LabelPrefix = "bundle-pack."

	// LabelManagedBy identifies containers managed by bundle-pack.
	// Key: "bundle-pack.managed-by", Value: always "bundle-pack".
	LabelManagedBy = LabelPrefix + "managed-by"

	// LabelPurpose records which preprocessor step created the container.
	// Key: "bundle-pack.purpose", Value: e.g. "pip-freeze", "install".
	LabelPurpose = LabelPrefix + "purpose"

	// LabelSource stores the edition directory the container works on,
	// when there is one.
	LabelSource = LabelPrefix + "source"

	// LabelCreatedAt stores the RFC3339 timestamp of container creation.
	LabelCreatedAt = LabelPrefix + "created-at"
)

// ManagedByValue is the constant value for the LabelManagedBy label.
const ManagedByValue = "bundle-pack"

// BuildLabels constructs the label map for a helper container.
// An empty source is left out.
func BuildLabels(purpose, source string, createdAt time.Time) map[string]string {
	labels := map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelPurpose:   purpose,
		LabelCreatedAt: createdAt.UTC().Format(time.RFC3339),
	}
	if source != "" {
		labels[LabelSource] = source
	}
	return labels
}
