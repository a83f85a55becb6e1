package resp

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	TypeSimpleString = '+'
	TypeError        = '-'
	TypeInteger      = ':'
	TypeBulkString   = '$'
	TypeArray        = '*'
)

// Value is one decoded reply unit
type Value struct {
	String  []byte // SimpleString, Error, BulkString
	Array   []Value
	Integer int64 // Integer
	Type    byte
	IsNull  bool // For nil BulkString and nil Array
}

// Text returns the textual payload of SimpleString, Error, BulkString and Integer values
func (v Value) Text() string {
	if v.Type == TypeInteger {
		return strconv.FormatInt(v.Integer, 10)
	}
	return string(v.String)
}

// IsError reports whether the value was framed with the '-' marker
func (v Value) IsError() bool {
	return v.Type == TypeError
}

// Err returns a *ServerError for error replies and nil otherwise
func (v Value) Err() error {
	if v.Type != TypeError {
		return nil
	}
	return &ServerError{Msg: string(v.String)}
}

// Strings converts an array of scalar replies into strings.
// Nil elements become empty strings
func (v Value) Strings() ([]string, error) {
	if v.Type != TypeArray {
		return nil, fmt.Errorf("resp: expected array, got %q", v.Type)
	}

	out := make([]string, len(v.Array))
	for i, el := range v.Array {
		switch el.Type {
		case TypeArray:
			return nil, fmt.Errorf("resp: element %d is a nested array", i)
		case TypeError:
			return nil, el.Err()
		}
		out[i] = el.Text()
	}
	return out, nil
}

// GoString renders the value in a compact debug form, e.g. [$"foo", :1, $nil]
func (v Value) GoString() string {
	var sb strings.Builder
	v.writeDebug(&sb)
	return sb.String()
}

func (v Value) writeDebug(sb *strings.Builder) {
	switch v.Type {
	case TypeSimpleString:
		sb.WriteString("+" + strconv.Quote(string(v.String)))
	case TypeError:
		sb.WriteString("-" + strconv.Quote(string(v.String)))
	case TypeInteger:
		sb.WriteString(":" + strconv.FormatInt(v.Integer, 10))
	case TypeBulkString:
		if v.IsNull {
			sb.WriteString("$nil")
			return
		}
		sb.WriteString("$" + strconv.Quote(string(v.String)))
	case TypeArray:
		if v.IsNull {
			sb.WriteString("*nil")
			return
		}
		sb.WriteByte('[')
		for i, el := range v.Array {
			if i > 0 {
				sb.WriteString(", ")
			}
			el.writeDebug(sb)
		}
		sb.WriteByte(']')
	default:
		sb.WriteString("<invalid>")
	}
}
