package resp

import (
	"bufio"
	"io"
	"strconv"
)

// AppendValue appends the wire form of v to dst. Nested arrays are written depth first
func AppendValue(dst []byte, v Value) ([]byte, error) {
	switch v.Type {
	case TypeInteger:
		return appendHeader(dst, TypeInteger, v.Integer), nil

	case TypeSimpleString, TypeError:
		dst = append(dst, v.Type)
		dst = append(dst, v.String...)
		return append(dst, '\r', '\n'), nil

	case TypeBulkString:
		if v.IsNull {
			return append(dst, "$-1\r\n"...), nil
		}
		dst = appendHeader(dst, TypeBulkString, int64(len(v.String)))
		dst = append(dst, v.String...)
		return append(dst, '\r', '\n'), nil

	case TypeArray:
		if v.IsNull {
			return append(dst, "*-1\r\n"...), nil
		}
		dst = appendHeader(dst, TypeArray, int64(len(v.Array)))
		var err error
		for _, el := range v.Array {
			if dst, err = AppendValue(dst, el); err != nil {
				return dst, err
			}
		}
		return dst, nil
	}

	return dst, &ProtocolError{Msg: "unknown value type " + strconv.QuoteRune(rune(v.Type))}
}

// Encoder writes values to a buffered stream, used on the serving side and for dumps
type Encoder struct {
	w       *bufio.Writer
	scratch []byte
}

// NewEncoder wraps w in a buffered writer
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Write buffers v. Nothing is written for a value of unknown type. Call Flush to send it
func (e *Encoder) Write(v Value) error {
	b, err := AppendValue(e.scratch[:0], v)
	if err != nil {
		return err
	}
	e.scratch = b
	_, err = e.w.Write(b)
	return err
}

// WriteRaw buffers bytes that are already RESP encoded
func (e *Encoder) WriteRaw(b []byte) error {
	_, err := e.w.Write(b)
	return err
}

// Flush sends buffered data to the underlying writer
func (e *Encoder) Flush() error {
	return e.w.Flush()
}
