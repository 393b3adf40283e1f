package ingestion_engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"crlf", "a\r\nb\rc", "a\nb\nc"},
		{"trailing spaces", "line one   \nline two\t", "line one\nline two"},
		{"blank runs", "a\n\n\n\n\nb", "a\n\nb"},
		{"outer whitespace", "  \n\n body \n\n", "body"},
		{"leading indentation kept", "a\n    b", "a\n    b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeText(tt.in))
		})
	}
}

func TestContentHash(t *testing.T) {
	t.Run("known digest", func(t *testing.T) {
		// sha256("hello")
		assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", ContentHash("hello"))
	})

	t.Run("insensitive to line endings and trailing whitespace", func(t *testing.T) {
		assert.Equal(t, ContentHash("a\nb"), ContentHash("a  \r\nb\n\n"))
	})

	t.Run("sensitive to content", func(t *testing.T) {
		assert.NotEqual(t, ContentHash("a b"), ContentHash("a c"))
	})
}
