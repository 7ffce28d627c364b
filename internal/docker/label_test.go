package docker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestBuildLabels verifies that BuildLabels produces the management,
// purpose, source and creation labels.
func TestBuildLabels(t *testing.T) {
	createdAt := time.Date(2026, 2, 28, 10, 0, 0, 0, time.FixedZone("JST", 9*60*60))

	labels := BuildLabels("install", "/tmp/bundle_1/community", createdAt)

	assert.Equal(t, map[string]string{
		"bundle-pack.managed-by": "bundle-pack",
		"bundle-pack.purpose":    "install",
		"bundle-pack.source":     "/tmp/bundle_1/community",
		"bundle-pack.created-at": "2026-02-28T01:00:00Z",
	}, labels)
}

// TestBuildLabels_NoSource verifies that an empty source is omitted.
func TestBuildLabels_NoSource(t *testing.T) {
	labels := BuildLabels("pip-freeze", "", time.Now())

	assert.Equal(t, ManagedByValue, labels[LabelManagedBy])
	assert.Equal(t, "pip-freeze", labels[LabelPurpose])
	_, ok := labels[LabelSource]
	assert.False(t, ok, "source label should be omitted")
}
