package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richardjypark/maskmytext.com/internal/cache"
)

func TestDuplicatePrefixHealer(t *testing.T) {
	h := DuplicatePrefixHealer("/maskmytext.com/")

	tests := []struct {
		url  string
		want bool
	}{
		{"https://x.github.io/maskmytext.com/maskmytext.com/index.js", true},
		{"https://x.github.io/maskmytext.com/index.js", false},
		{"https://maskmytext.com/index.js", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, h.Broken(cache.NewRequest(tt.url)), tt.url)
	}

	assert.False(t, DuplicatePrefixHealer("").Broken(cache.NewRequest("https://x.test///a")))
}

func TestGlobHealer(t *testing.T) {
	h, err := GlobHealer("/legacy/**", "/**/*.map")
	require.NoError(t, err)

	assert.True(t, h.Broken(cache.NewRequest("https://x.test/legacy/a/b.js")))
	assert.True(t, h.Broken(cache.NewRequest("https://x.test/pkg/app.js.map")))
	assert.False(t, h.Broken(cache.NewRequest("https://x.test/pkg/app.js")))

	_, err = GlobHealer("[bad")
	assert.Error(t, err)
}
