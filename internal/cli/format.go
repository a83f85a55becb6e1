package cli

import (
	"strconv"
	"strings"

	"github.com/eternalApril/moonwire/internal/client"
	"github.com/eternalApril/moonwire/internal/resp"
)

// Format renders a reply the way redis-cli does on a terminal
func Format(v resp.Value) string {
	var sb strings.Builder
	writeValue(&sb, v, 0)
	return sb.String()
}

func writeValue(sb *strings.Builder, v resp.Value, indent int) {
	switch v.Type {
	case resp.TypeSimpleString:
		sb.Write(v.String)
	case resp.TypeError:
		sb.WriteString("(error) ")
		sb.Write(v.String)
	case resp.TypeInteger:
		sb.WriteString("(integer) ")
		sb.WriteString(strconv.FormatInt(v.Integer, 10))
	case resp.TypeBulkString:
		if v.IsNull {
			sb.WriteString("(nil)")
			return
		}
		writeQuoted(sb, v.String)
	case resp.TypeArray:
		if v.IsNull {
			sb.WriteString("(nil)")
			return
		}
		if len(v.Array) == 0 {
			sb.WriteString("(empty array)")
			return
		}

		width := len(strconv.Itoa(len(v.Array)))
		for i, el := range v.Array {
			if i > 0 {
				sb.WriteByte('\n')
				sb.WriteString(strings.Repeat(" ", indent))
			}
			idx := strconv.Itoa(i + 1)
			prefix := strings.Repeat(" ", width-len(idx)) + idx + ") "
			sb.WriteString(prefix)
			writeValue(sb, el, indent+len(prefix))
		}
	default:
		sb.WriteString("(unknown reply)")
	}
}

// writeQuoted escapes b like sdscatrepr: printable ASCII stays, the rest becomes \xHH
func writeQuoted(sb *strings.Builder, b []byte) {
	const hex = "0123456789abcdef"

	sb.WriteByte('"')
	for _, c := range b {
		switch c {
		case '\\', '"':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		case '\a':
			sb.WriteString(`\a`)
		case '\b':
			sb.WriteString(`\b`)
		default:
			if c >= 0x20 && c < 0x7f {
				sb.WriteByte(c)
				continue
			}
			sb.WriteString(`\x`)
			sb.WriteByte(hex[c>>4])
			sb.WriteByte(hex[c&0x0f])
		}
	}
	sb.WriteByte('"')
}

// messageValue turns a push back into the array redis-cli would print for it
func messageValue(m *client.Message) resp.Value {
	bulk := resp.MakeBulkString

	switch m.Kind {
	case "message":
		return resp.MakeArray([]resp.Value{bulk(m.Kind), bulk(m.Channel), resp.MakeBulkBytes(m.Payload)})
	case "pmessage":
		return resp.MakeArray([]resp.Value{bulk(m.Kind), bulk(m.Pattern), bulk(m.Channel), resp.MakeBulkBytes(m.Payload)})
	case "psubscribe", "punsubscribe":
		return resp.MakeArray([]resp.Value{bulk(m.Kind), bulk(m.Pattern), resp.MakeInteger(m.Count)})
	case "pong":
		return resp.MakeArray([]resp.Value{bulk(m.Kind), resp.MakeBulkBytes(m.Payload)})
	default:
		return resp.MakeArray([]resp.Value{bulk(m.Kind), bulk(m.Channel), resp.MakeInteger(m.Count)})
	}
}
