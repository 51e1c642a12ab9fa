package jsonx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_SortsMapKeys(t *testing.T) {
	out, err := MarshalToString(map[string]float64{"zeta": 1, "alpha": 0.5})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":0.5,"zeta":1}`, out)
}

func TestMarshal_DoesNotEscapeHTML(t *testing.T) {
	out, err := Marshal(map[string]string{"title": "a<b"})
	require.NoError(t, err)
	assert.Equal(t, `{"title":"a<b"}`, string(out))
}

func TestUnmarshalFromString_Struct(t *testing.T) {
	var v struct {
		Label string   `json:"label"`
		Tags  []string `json:"tags"`
	}
	require.NoError(t, UnmarshalFromString(`{"label":"Limits","tags":["calc","intro"]}`, &v))
	assert.Equal(t, "Limits", v.Label)
	assert.Equal(t, []string{"calc", "intro"}, v.Tags)
}

func TestValid(t *testing.T) {
	assert.True(t, Valid([]byte(`{"ok":true}`)))
	assert.False(t, Valid([]byte(`{"ok":`)))
}
