package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	assert.Equal(t, "arena-sim dev (commit unknown, built unknown)", String("arena-sim"))
}
