package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintIsDeterministic(t *testing.T) {
	type params struct {
		Repo  string `json:"repo"`
		Depth int    `json:"depth"`
	}

	a, err := Fingerprint("repo_insights", map[string]any{"depth": 2, "repo": "x/y"})
	require.NoError(t, err)
	b, err := Fingerprint("repo_insights", params{Repo: "x/y", Depth: 2})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Contains(t, a, "repo_insights:")

	c, err := Fingerprint("ai_summaries", params{Repo: "x/y", Depth: 2})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	d, err := Fingerprint("repo_insights", params{Repo: "x/y", Depth: 3})
	require.NoError(t, err)
	assert.NotEqual(t, a, d)
}

func TestFingerprintRejectsUnencodable(t *testing.T) {
	_, err := Fingerprint("op", make(chan int))
	assert.Error(t, err)
}

func TestFingerprintKeepsLargeIntegersDistinct(t *testing.T) {
	const base int64 = 1 << 53

	a, err := Fingerprint("lookup", map[string]any{"id": base + 1})
	require.NoError(t, err)
	b, err := Fingerprint("lookup", map[string]any{"id": base})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	again, err := Fingerprint("lookup", struct {
		ID int64 `json:"id"`
	}{ID: base + 1})
	require.NoError(t, err)
	assert.Equal(t, a, again)
}
