package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected []string
	}{
		{"Empty", "", nil},
		{"Blank", "   \t ", nil},
		{"Plain", "SET key value", []string{"SET", "key", "value"}},
		{"Extra spaces", "  GET   key  ", []string{"GET", "key"}},
		{"Double quotes", `SET k "hello world"`, []string{"SET", "k", "hello world"}},
		{"Empty quoted", `SET k ""`, []string{"SET", "k", ""}},
		{"Escapes", `ECHO "a\r\nb\t\"c\\"`, []string{"ECHO", "a\r\nb\t\"c\\"}},
		{"Hex escape", `ECHO "\x00\xFFz"`, []string{"ECHO", "\x00\xffz"}},
		{"Single quotes", `ECHO 'it\'s "raw" \n'`, []string{"ECHO", `it's "raw" \n`}},
		{"Quote inside word", `ECHO ab"c d"`, []string{"ECHO", "abc d"}},
		{"Negative number", "INCRBY k -1", []string{"INCRBY", "k", "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := splitArgs(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestSplitArgs_Unbalanced(t *testing.T) {
	for _, line := range []string{
		`SET k "open`,
		`SET k 'open`,
		`SET k "closed"tail`,
		`SET k 'closed'tail`,
	} {
		_, err := splitArgs(line)
		assert.ErrorIs(t, err, errUnbalancedQuotes, line)
	}
}
