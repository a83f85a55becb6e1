package resp

import (
	"bytes"
	"strconv"
)

const (
	// DefaultMaxBulkLen matches the proto-max-bulk-len default of the server
	DefaultMaxBulkLen = 512 << 20
	// DefaultMaxArrayLen bounds the declared element count of a single array
	DefaultMaxArrayLen = 1 << 24

	// preallocation cap for array accumulators, declared counts are not trusted
	maxPrealloc = 1024
)

// Buffer is the inbound byte stream owned by the transport.
// Bytes returns the unread bytes; Next trims n bytes from the front.
// *bytes.Buffer satisfies it.
type Buffer interface {
	Bytes() []byte
	Next(n int) []byte
}

// frame is an array whose elements are still arriving
type frame struct {
	elems     []Value
	remaining int
}

// Decoder is a resumable reply parser. It never reads from a socket itself:
// the caller appends bytes to a Buffer and calls Decode until a reply is ready.
//
// A Decoder belongs to exactly one byte stream and must not be used concurrently.
type Decoder struct {
	MaxBulkLen  int64
	MaxArrayLen int64

	stack   []frame // open arrays, outermost first
	skip    int     // units of an aborted array still on the wire
	scanned int     // prefix of the current unit known to contain no '\n'
	err     error   // sticky fatal error
}

// NewDecoder returns a Decoder with default length limits
func NewDecoder() *Decoder {
	return &Decoder{
		MaxBulkLen:  DefaultMaxBulkLen,
		MaxArrayLen: DefaultMaxArrayLen,
	}
}

// Decode parses at most one top-level reply from buf.
//
// It returns ok == false and a nil error when more bytes are needed; bytes of the
// unit being parsed stay in buf. When ok is true the reply's bytes have been
// removed from buf. A non-nil error is always a *ProtocolError and is returned by
// every later call until Reset.
//
// An error element inside an array completes the reply immediately with that
// error value. The siblings that follow it on the wire are discarded by later calls.
func (d *Decoder) Decode(buf Buffer) (Value, bool, error) {
	if d.err != nil {
		return Value{}, false, d.err
	}

	for d.skip > 0 {
		_, children, ok, err := d.next(buf)
		if err != nil {
			return Value{}, false, d.fail(err)
		}
		if !ok {
			return Value{}, false, nil
		}
		d.skip += children - 1
	}

	for {
		v, children, ok, err := d.next(buf)
		if err != nil {
			return Value{}, false, d.fail(err)
		}
		if !ok {
			return Value{}, false, nil
		}

		if children > 0 {
			d.stack = append(d.stack, frame{
				elems:     make([]Value, 0, min(children, maxPrealloc)),
				remaining: children,
			})
			continue
		}

		if len(d.stack) == 0 {
			return v, true, nil
		}

		if v.Type == TypeError {
			d.abort()
			return v, true, nil
		}

		if done, ok := d.push(v); ok {
			return done, true, nil
		}
	}
}

// Pending reports whether the decoder holds state between calls
func (d *Decoder) Pending() bool {
	return len(d.stack) > 0 || d.skip > 0
}

// Reset discards all progress state, including a sticky protocol error
func (d *Decoder) Reset() {
	d.stack = d.stack[:0]
	d.skip = 0
	d.scanned = 0
	d.err = nil
}

// push appends a finished element to the innermost array and closes every array
// it completes. It returns the top-level value once the outermost array is done.
func (d *Decoder) push(v Value) (Value, bool) {
	for {
		top := &d.stack[len(d.stack)-1]
		top.elems = append(top.elems, v)
		top.remaining--
		if top.remaining > 0 {
			return Value{}, false
		}

		v = MakeArray(top.elems)
		d.stack[len(d.stack)-1] = frame{}
		d.stack = d.stack[:len(d.stack)-1]
		if len(d.stack) == 0 {
			return v, true
		}
	}
}

// abort drops the accumulated elements and schedules the remaining siblings of
// every open array for skipping. The in-progress element of each frame is
// accounted for by the frame above it, or is the error itself.
func (d *Decoder) abort() {
	for i := range d.stack {
		d.skip += d.stack[i].remaining - 1
		d.stack[i] = frame{}
	}
	d.stack = d.stack[:0]
}

func (d *Decoder) fail(err error) error {
	d.err = err
	d.stack = d.stack[:0]
	d.skip = 0
	return err
}

// next parses one unit from the front of buf and trims it. For an array header
// with a positive count it returns the count in children and a zero Value.
func (d *Decoder) next(buf Buffer) (Value, int, bool, error) {
	v, n, children, ok, err := d.parse(buf.Bytes())
	if err != nil || !ok {
		return Value{}, 0, false, err
	}
	buf.Next(n)
	d.scanned = 0
	return v, children, true, nil
}

func (d *Decoder) parse(data []byte) (v Value, n int, children int, ok bool, err error) {
	if len(data) == 0 {
		return Value{}, 0, 0, false, nil
	}

	marker := data[0]
	switch marker {
	case TypeSimpleString, TypeError, TypeInteger, TypeBulkString, TypeArray:
	default:
		return Value{}, 0, 0, false, &ProtocolError{Msg: "unexpected reply marker " + strconv.QuoteRune(rune(marker))}
	}

	line, n, ok, err := d.readLine(data)
	if err != nil || !ok {
		return Value{}, 0, 0, false, err
	}

	switch marker {
	case TypeSimpleString, TypeError:
		return Value{Type: marker, String: clone(line)}, n, 0, true, nil

	case TypeInteger:
		num, err := parseDecimal(line)
		if err != nil {
			return Value{}, 0, 0, false, &ProtocolError{Msg: "invalid integer " + strconv.Quote(string(line))}
		}
		return MakeInteger(num), n, 0, true, nil

	case TypeBulkString:
		size, err := parseLength(line, d.maxBulkLen())
		if err != nil {
			return Value{}, 0, 0, false, err
		}
		if size < 0 {
			return MakeNilBulkString(), n, 0, true, nil
		}

		end := n + int(size)
		if len(data) < end+2 {
			return Value{}, 0, 0, false, nil
		}
		if data[end] != '\r' || data[end+1] != '\n' {
			return Value{}, 0, 0, false, &ProtocolError{Msg: "bulk string not terminated by CRLF"}
		}
		return Value{Type: TypeBulkString, String: clone(data[n:end])}, end + 2, 0, true, nil

	default:
		count, err := parseLength(line, d.maxArrayLen())
		if err != nil {
			return Value{}, 0, 0, false, err
		}
		switch {
		case count < 0:
			return MakeNilArray(), n, 0, true, nil
		case count == 0:
			return MakeArray([]Value{}), n, 0, true, nil
		}
		return Value{}, n, int(count), true, nil
	}
}

// readLine returns the header text after the marker and the number of bytes
// up to and including CRLF. A bare LF is a framing error.
func (d *Decoder) readLine(data []byte) ([]byte, int, bool, error) {
	from := d.scanned
	if from > len(data) {
		from = 0
	}

	i := bytes.IndexByte(data[from:], '\n')
	if i < 0 {
		d.scanned = len(data)
		return nil, 0, false, nil
	}
	i += from

	if i < 2 || data[i-1] != '\r' {
		return nil, 0, false, ErrInvalidEnding
	}
	return data[1 : i-1], i + 1, true, nil
}

func (d *Decoder) maxBulkLen() int64 {
	if d.MaxBulkLen <= 0 {
		return DefaultMaxBulkLen
	}
	return d.MaxBulkLen
}

func (d *Decoder) maxArrayLen() int64 {
	if d.MaxArrayLen <= 0 {
		return DefaultMaxArrayLen
	}
	return d.MaxArrayLen
}

// parseLength reads a declared length. -1 is the null sentinel
func parseLength(line []byte, limit int64) (int64, error) {
	if len(line) == 0 {
		return 0, &ProtocolError{Msg: "empty length"}
	}

	n, err := parseDecimal(line)
	if err != nil {
		return 0, &ProtocolError{Msg: "invalid length " + strconv.Quote(string(line))}
	}
	if n < -1 {
		return 0, &ProtocolError{Msg: "negative length " + strconv.FormatInt(n, 10)}
	}
	if n > limit {
		return 0, &ProtocolError{Msg: "length " + strconv.FormatInt(n, 10) + " exceeds limit"}
	}
	return n, nil
}

// parseDecimal accepts an optional '-' followed by ASCII digits only
func parseDecimal(line []byte) (int64, error) {
	if len(line) == 0 || (line[0] != '-' && (line[0] < '0' || line[0] > '9')) {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseInt(string(line), 10, 64)
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
