package resp

// MakeSimpleString returns a '+' status reply
func MakeSimpleString(s string) Value { return Value{Type: TypeSimpleString, String: []byte(s)} }

// MakeError returns a '-' error reply. s is the full message including its prefix word
func MakeError(s string) Value { return Value{Type: TypeError, String: []byte(s)} }

// MakeBulkString returns a bulk string holding a copy of s
func MakeBulkString(s string) Value { return MakeBulkBytes([]byte(s)) }

// MakeBulkBytes wraps b without copying it. A nil b gives an empty, not a null, bulk string
func MakeBulkBytes(b []byte) Value {
	if b == nil {
		b = []byte{}
	}
	return Value{Type: TypeBulkString, String: b}
}

// MakeNilBulkString returns the $-1 reply
func MakeNilBulkString() Value { return Value{Type: TypeBulkString, IsNull: true} }

// MakeInteger returns a ':' reply
func MakeInteger(n int64) Value { return Value{Type: TypeInteger, Integer: n} }

// MakeArray wraps values. A nil slice gives an empty, not a null, array
func MakeArray(values []Value) Value {
	if values == nil {
		values = []Value{}
	}
	return Value{Type: TypeArray, Array: values}
}

// MakeBulkArray builds an array of bulk strings, the shape of every request
func MakeBulkArray(items ...string) Value {
	values := make([]Value, len(items))
	for i, s := range items {
		values[i] = MakeBulkString(s)
	}
	return MakeArray(values)
}

// MakeNilArray returns the *-1 reply
func MakeNilArray() Value { return Value{Type: TypeArray, IsNull: true} }
