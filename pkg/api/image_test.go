package api_test

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calder-ai/modelgate/pkg/api"
)

// Tiny valid payload; content does not matter, only the encoding.
var pngBytes = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}

func TestImagePayloadFromDataURI(t *testing.T) {
	b64 := base64.StdEncoding.EncodeToString(pngBytes)
	in := []byte(`"data:image/png;base64,` + b64 + `"`)

	var p api.ImagePayload
	require.NoError(t, json.Unmarshal(in, &p))

	assert.Equal(t, "image/png", p.MediaType)
	assert.Equal(t, pngBytes, p.Data)
}

func TestImagePayloadFromBareBase64(t *testing.T) {
	b64 := base64.StdEncoding.EncodeToString(pngBytes)
	in := []byte(`"` + b64 + `"`)

	var p api.ImagePayload
	require.NoError(t, json.Unmarshal(in, &p))

	// No way to know the real type of bare base64.
	assert.Equal(t, "image/jpeg", p.MediaType)
	assert.Equal(t, pngBytes, p.Data)
}

func TestImagePayloadRejectsGarbage(t *testing.T) {
	cases := []string{
		`""`,
		`"data:image/png;base64"`,
		`"data:image/png,notbase64encoded"`,
		`"!!! not base64 !!!"`,
	}
	for _, in := range cases {
		var p api.ImagePayload
		assert.Error(t, json.Unmarshal([]byte(in), &p), in)
	}
}

func TestImagePayloadMarshalsAsDataURI(t *testing.T) {
	p := api.ImagePayload{MediaType: "image/png", Data: pngBytes}

	out, err := json.Marshal(p)
	require.NoError(t, err)

	want := `"data:image/png;base64,` + base64.StdEncoding.EncodeToString(pngBytes) + `"`
	assert.Equal(t, want, string(out))
}
