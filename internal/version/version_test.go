package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	oldV, oldSHA, oldBT := Version, GitSHA, BuildTime
	t.Cleanup(func() { Version, GitSHA, BuildTime = oldV, oldSHA, oldBT })

	Version, GitSHA, BuildTime = "1.2.3", "abc123", "2025-01-01T00:00:00Z"
	assert.Equal(t, "ringfilter 1.2.3 (abc123, built 2025-01-01T00:00:00Z)", String())
}
