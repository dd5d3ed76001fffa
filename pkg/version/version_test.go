package version

import (
	"runtime"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	info := Get()
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, info.GitVersion, info.String())
	assert.True(t, strings.HasPrefix(UserAgent(), "widgetauth/"))
}

func TestInfoRendering(t *testing.T) {
	info := Get()

	var decoded Info
	require.NoError(t, sonic.UnmarshalString(info.ToJSON(), &decoded))
	assert.Equal(t, info, decoded)

	text := info.Text()
	assert.Contains(t, text, "gitVersion:")
	assert.Contains(t, text, info.Platform)
}

func TestVersionValue(t *testing.T) {
	var v versionValue
	require.NoError(t, v.Set("raw"))
	assert.Equal(t, "raw", v.String())
	require.NoError(t, v.Set("true"))
	assert.Equal(t, "true", v.String())
	assert.Error(t, v.Set("maybe"))
	assert.Equal(t, "false", v.String())
}
