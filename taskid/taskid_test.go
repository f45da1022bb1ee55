package taskid

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

var idPattern = regexp.MustCompile(`^defer_\d{8}_\d{6}_[0-9a-f]{12}$`)

func TestNewMatchesFormat(t *testing.T) {
	id := New()
	assert.Regexp(t, idPattern, id)
}

func TestNewIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		assert.False(t, seen[id], "duplicate task id generated: %s", id)
		seen[id] = true
	}
}
