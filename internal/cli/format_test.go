package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eternalApril/moonwire/internal/client"
	"github.com/eternalApril/moonwire/internal/resp"
)

func TestFormat(t *testing.T) {
	bulk := resp.MakeBulkString

	eleven := make([]resp.Value, 11)
	for i := range eleven {
		eleven[i] = resp.MakeInteger(int64(i))
	}

	tests := []struct {
		name     string
		value    resp.Value
		expected string
	}{
		{"Status", resp.MakeSimpleString("OK"), "OK"},
		{"Error", resp.MakeError("ERR unknown command 'FOO'"), "(error) ERR unknown command 'FOO'"},
		{"Integer", resp.MakeInteger(-7), "(integer) -7"},
		{"Bulk", bulk("hello"), `"hello"`},
		{"Empty bulk", bulk(""), `""`},
		{"Nil bulk", resp.MakeNilBulkString(), "(nil)"},
		{"Escaped bulk", resp.MakeBulkBytes([]byte("a\"b\\c\r\n\t\x00\xff")), `"a\"b\\c\r\n\t\x00\xff"`},
		{"Nil array", resp.MakeNilArray(), "(nil)"},
		{"Empty array", resp.MakeArray(nil), "(empty array)"},
		{
			"Flat array",
			resp.MakeArray([]resp.Value{bulk("a"), resp.MakeNilBulkString(), resp.MakeInteger(3)}),
			"1) \"a\"\n2) (nil)\n3) (integer) 3",
		},
		{
			"Nested array",
			resp.MakeArray([]resp.Value{
				resp.MakeArray([]resp.Value{bulk("a"), bulk("b")}),
				resp.MakeInteger(3),
				resp.MakeArray(nil),
			}),
			"1) 1) \"a\"\n   2) \"b\"\n2) (integer) 3\n3) (empty array)",
		},
		{
			"Index width",
			resp.MakeArray(eleven),
			" 1) (integer) 0\n 2) (integer) 1\n 3) (integer) 2\n 4) (integer) 3\n 5) (integer) 4\n" +
				" 6) (integer) 5\n 7) (integer) 6\n 8) (integer) 7\n 9) (integer) 8\n10) (integer) 9\n11) (integer) 10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Format(tt.value))
		})
	}
}

func TestFormat_Messages(t *testing.T) {
	tests := []struct {
		name     string
		msg      *client.Message
		expected string
	}{
		{
			"Message",
			&client.Message{Kind: "message", Channel: "news", Payload: []byte("hi")},
			"1) \"message\"\n2) \"news\"\n3) \"hi\"",
		},
		{
			"Pattern message",
			&client.Message{Kind: "pmessage", Pattern: "n*", Channel: "news", Payload: []byte("hi")},
			"1) \"pmessage\"\n2) \"n*\"\n3) \"news\"\n4) \"hi\"",
		},
		{
			"Subscribe",
			&client.Message{Kind: "subscribe", Channel: "news", Count: 1},
			"1) \"subscribe\"\n2) \"news\"\n3) (integer) 1",
		},
		{
			"Pattern subscribe",
			&client.Message{Kind: "psubscribe", Pattern: "n*", Count: 2},
			"1) \"psubscribe\"\n2) \"n*\"\n3) (integer) 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Format(messageValue(tt.msg)))
		})
	}
}
