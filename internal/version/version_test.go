package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	info := Get()

	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GitCommit)
	assert.NotEmpty(t, info.BuildDate)
	assert.NotEmpty(t, info.GoVersion)
}

func TestString(t *testing.T) {
	old := Version
	Version = "v1.2.3"
	defer func() { Version = old }()

	str := Get().String()
	assert.Contains(t, str, "kaptn-insight v1.2.3")
	assert.Contains(t, str, "commit "+GitCommit)
}

func TestUserAgent(t *testing.T) {
	assert.Regexp(t, `^kaptn-insight/v\S+ \(\w+/\w+\)$`, UserAgent())
}
