package resp

import "strconv"

// EncodeRequest serializes a command as an array of bulk strings.
// args[0] is the command name; every argument is treated as opaque bytes
func EncodeRequest(args ...[]byte) ([]byte, error) {
	return AppendRequest(nil, args...)
}

// AppendRequest appends the wire form of a request to dst and returns the extended slice
func AppendRequest(dst []byte, args ...[]byte) ([]byte, error) {
	if len(args) == 0 {
		return dst, ErrInvalidRequest
	}

	size := 1 + 20 + 2
	for _, a := range args {
		size += 1 + 20 + 2 + len(a) + 2
	}
	if cap(dst)-len(dst) < size {
		grown := make([]byte, len(dst), len(dst)+size)
		copy(grown, dst)
		dst = grown
	}

	dst = appendHeader(dst, TypeArray, int64(len(args)))
	for _, a := range args {
		dst = appendHeader(dst, TypeBulkString, int64(len(a)))
		dst = append(dst, a...)
		dst = append(dst, '\r', '\n')
	}
	return dst, nil
}

// Command is the string form of EncodeRequest
func Command(name string, args ...string) ([]byte, error) {
	parts := make([][]byte, 0, 1+len(args))
	parts = append(parts, []byte(name))
	for _, a := range args {
		parts = append(parts, []byte(a))
	}
	return EncodeRequest(parts...)
}

func appendHeader(dst []byte, prefix byte, n int64) []byte {
	dst = append(dst, prefix)
	dst = strconv.AppendInt(dst, n, 10)
	return append(dst, '\r', '\n')
}
