package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text", "  # Review\nAll good.  ", "# Review\nAll good."},
		{"markdown fence", "```markdown\n# Review\nok\n```", "# Review\nok"},
		{"json fence", "```json\n{\"score\": 7}\n```", "{\"score\": 7}"},
		{"bare fence", "```\n# Review\n```", "# Review"},
		{"fence with brace on first line", "```{\"a\":1}```", "{\"a\":1}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCodeFence(tt.input))
		})
	}
}
