package msgbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawHeaders_Clone(t *testing.T) {
	h := RawHeaders{"a": "1"}
	c := h.Clone()
	c["b"] = "2"

	assert.Equal(t, RawHeaders{"a": "1"}, h)
	assert.Equal(t, RawHeaders{"a": "1", "b": "2"}, c)

	var empty RawHeaders
	cloned := empty.Clone()
	require.NotNil(t, cloned)
	require.Empty(t, cloned)
}

func TestRawHeaders_Merge(t *testing.T) {
	tests := []struct {
		name  string
		base  RawHeaders
		other RawHeaders
		want  RawHeaders
	}{
		{
			name:  "other wins on collision",
			base:  RawHeaders{"a": "1"},
			other: RawHeaders{"a": "2", "b": "3"},
			want:  RawHeaders{"a": "2", "b": "3"},
		},
		{
			name: "nil other",
			base: RawHeaders{"a": "1"},
			want: RawHeaders{"a": "1"},
		},
		{
			name:  "nil base",
			other: RawHeaders{"b": "3"},
			want:  RawHeaders{"b": "3"},
		},
		{
			name: "both nil",
			want: RawHeaders{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var baseCopy RawHeaders
			if tt.base != nil {
				baseCopy = tt.base.Clone()
			}

			got := tt.base.Merge(tt.other)
			require.Equal(t, tt.want, got)
			if tt.base != nil {
				assert.Equal(t, baseCopy, tt.base, "base should remain unchanged")
			}
		})
	}
}
