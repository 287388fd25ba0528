package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionStrings(t *testing.T) {
	assert.Equal(t, "dev (commit: unknown)", Full())
	assert.Contains(t, FullWithPlatform(), runtime.GOOS+"/"+runtime.GOARCH)
	assert.Equal(t, "poolspy/dev", UserAgent())
}
