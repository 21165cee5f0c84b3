package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  map[string]any
		raw   bool
	}{
		{
			name:  "plain object",
			reply: `{"overall_score": 80}`,
			want:  map[string]any{"overall_score": float64(80)},
		},
		{
			name:  "fenced json",
			reply: "```json\n{\"a\":1}\n```",
			want:  map[string]any{"a": float64(1)},
		},
		{
			name:  "fenced without tag",
			reply: "  ```\n{\"a\": \"b\"}\n```  ",
			want:  map[string]any{"a": "b"},
		},
		{
			name:  "double encoded",
			reply: `"{\"suggestions\":[]}"`,
			want:  map[string]any{"suggestions": []any{}},
		},
		{
			name:  "not json",
			reply: "not json",
			want:  map[string]any{"raw": "not json"},
			raw:   true,
		},
		{
			name:  "array is not an object",
			reply: `[1, 2]`,
			want:  map[string]any{"raw": "[1, 2]"},
			raw:   true,
		},
		{
			name:  "broken fence",
			reply: "```json\n{\"a\":\n```",
			want:  map[string]any{"raw": "```json\n{\"a\":\n```"},
			raw:   true,
		},
		{
			name:  "empty",
			reply: "",
			want:  map[string]any{"raw": ""},
			raw:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.reply)
			assert.Equal(t, tt.want, got.Map())

			switch r := got.(type) {
			case Unparsed:
				assert.True(t, tt.raw)
				assert.Equal(t, tt.reply, r.Raw)
			case Parsed:
				assert.False(t, tt.raw)
			default:
				require.Failf(t, "unexpected result type", "%T", got)
			}
		})
	}
}
