package json

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type article struct {
	ID   int     `json:"article_number"`
	Text string  `json:"text_arabic"`
	Sim  float64 `json:"similarity,omitempty"`
}

func TestCodec(t *testing.T) {
	in := article{ID: 12, Text: "لا يجوز للوكيل", Sim: 0.75}

	data, err := Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"article_number":12`)

	var out article
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in, out)

	var decoded article
	require.NoError(t, NewDecoder(strings.NewReader(string(data))).Decode(&decoded))
	assert.Equal(t, in, decoded)
}

func TestMarshalIndent(t *testing.T) {
	data, err := MarshalIndent(article{ID: 1}, "", "  ")
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"article_number\": 1")
}

func TestIsUsingSonic(t *testing.T) {
	want := runtime.GOARCH == "amd64" || runtime.GOARCH == "arm64"
	assert.Equal(t, want, IsUsingSonic())
}
