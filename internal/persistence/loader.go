package persistence

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/eternalApril/moonwire/internal/resp"
)

const loadChunk = 64 << 10

// Load reads a journal and returns its requests, each as the argument list
// that was sent. A missing file yields no requests. A request cut short at
// the end of the file, as left by a crash, is dropped with a warning
func Load(filename string, logger *zap.Logger) ([][][]byte, error) {
	file, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // Fresh start
		}
		return nil, err
	}
	defer file.Close() //nolint:errcheck

	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		in       bytes.Buffer
		commands [][][]byte
		eof      bool
	)
	dec := resp.NewDecoder()
	chunk := make([]byte, loadChunk)

	for {
		val, ok, err := dec.Decode(&in)
		if err != nil {
			return nil, fmt.Errorf("journal: command %d: %w", len(commands)+1, err)
		}

		if ok {
			args, err := requestArgs(val)
			if err != nil {
				return nil, fmt.Errorf("journal: command %d: %w", len(commands)+1, err)
			}
			commands = append(commands, args)
			continue
		}

		if eof {
			if in.Len() > 0 || dec.Pending() {
				logger.Warn("journal ends with a truncated command, ignoring it",
					zap.String("file", filename),
					zap.Int("bytes", in.Len()),
				)
			}
			return commands, nil
		}

		n, err := file.Read(chunk)
		if n > 0 {
			in.Write(chunk[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return nil, err
			}
			eof = true
		}
	}
}

// requestArgs checks that v is a request: a non-empty array of bulk strings
func requestArgs(v resp.Value) ([][]byte, error) {
	if v.Type != resp.TypeArray || v.IsNull || len(v.Array) == 0 {
		return nil, resp.ErrInvalidRequest
	}

	args := make([][]byte, len(v.Array))
	for i, el := range v.Array {
		if el.Type != resp.TypeBulkString || el.IsNull {
			return nil, resp.ErrInvalidRequest
		}
		args[i] = el.String
	}
	return args, nil
}
