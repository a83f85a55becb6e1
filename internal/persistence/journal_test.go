package persistence

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eternalApril/moonwire/internal/resp"
)

func encode(t *testing.T, args ...string) []byte {
	t.Helper()
	b, err := resp.Command(args[0], args[1:]...)
	require.NoError(t, err)
	return b
}

func TestParseFsync(t *testing.T) {
	tests := []struct {
		in      string
		want    Fsync
		wantErr bool
	}{
		{in: "always", want: FsyncAlways},
		{in: "everysec", want: FsyncEverySec},
		{in: "", want: FsyncEverySec},
		{in: "no", want: FsyncNo},
		{in: "sometimes", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFsync(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpen_UnknownFsync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.resp")

	_, err := Open(path, "hourly", nil)
	require.Error(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "no file is created for a bad policy")
}

func TestJournal_WriteAndLoad(t *testing.T) {
	for _, fsync := range []string{"always", "everysec", "no"} {
		t.Run(fsync, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "journal.resp")

			j, err := Open(path, fsync, zap.NewNop())
			require.NoError(t, err)
			assert.Equal(t, path, j.Path())

			first := encode(t, "SET", "k", "line1\r\nline2")
			j.Write(first)

			batch := encode(t, "INCR", "n")
			batch = append(batch, encode(t, "DEL", "k")...)
			j.Write(batch)

			require.NoError(t, j.Close())

			batches, size := j.Stats()
			assert.Equal(t, int64(2), batches)
			assert.Equal(t, int64(len(first)+len(batch)), size)

			commands, err := Load(path, nil)
			require.NoError(t, err)
			assert.Equal(t, [][][]byte{
				{[]byte("SET"), []byte("k"), []byte("line1\r\nline2")},
				{[]byte("INCR"), []byte("n")},
				{[]byte("DEL"), []byte("k")},
			}, commands)
		})
	}
}

func TestJournal_AppendsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.resp")

	for i := 0; i < 2; i++ {
		j, err := Open(path, "everysec", nil)
		require.NoError(t, err)
		j.Write(encode(t, "PING"))
		require.NoError(t, j.Close())
	}

	commands, err := Load(path, nil)
	require.NoError(t, err)
	assert.Len(t, commands, 2)
}

func TestJournal_ManyBatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.resp")

	j, err := Open(path, "everysec", nil)
	require.NoError(t, err)

	const n = 2 * queueSize
	for i := 0; i < n; i++ {
		j.Write(encode(t, "INCR", "counter"))
	}
	require.NoError(t, j.Close())

	commands, err := Load(path, nil)
	require.NoError(t, err)
	assert.Len(t, commands, n)
}

func TestJournal_CloseTwiceAndWriteAfterClose(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.resp"), "no", nil)
	require.NoError(t, err)

	require.NoError(t, j.Close())
	assert.NoError(t, j.Close())
	assert.NotPanics(t, func() { j.Write(encode(t, "PING")) })

	batches, _ := j.Stats()
	assert.Zero(t, batches)
	assert.Equal(t, int64(1), j.Dropped())
}

func TestJournal_WriteRacingClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.resp")

	j, err := Open(path, "no", nil)
	require.NoError(t, err)

	const writers, perWriter = 8, 500
	req := encode(t, "PING")

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				j.Write(req)
			}
		}()
	}

	require.NoError(t, j.Close())
	wg.Wait()

	commands, err := Load(path, nil)
	require.NoError(t, err)

	batches, _ := j.Stats()
	assert.Equal(t, int64(len(commands)), batches)
	assert.Equal(t, int64(writers*perWriter), batches+j.Dropped(), "every batch is either on disk or counted as dropped")
}

func TestLoad_Missing(t *testing.T) {
	commands, err := Load(filepath.Join(t.TempDir(), "absent.resp"), nil)
	require.NoError(t, err)
	assert.Nil(t, commands)
}

func TestLoad_TruncatedTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.resp")
	data := append(encode(t, "SET", "a", "1"), []byte("*2\r\n$3\r\nGET\r\n$1\r")...)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	commands, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, [][][]byte{{[]byte("SET"), []byte("a"), []byte("1")}}, commands)
}

func TestLoad_Corrupt(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"Bad marker", "*1\r\n$4\r\nPING\r\n!oops\r\n"},
		{"Not an array", "+OK\r\n"},
		{"Integer argument", "*2\r\n$4\r\nINCR\r\n:1\r\n"},
		{"Null argument", "*2\r\n$3\r\nGET\r\n$-1\r\n"},
		{"Empty array", "*0\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "journal.resp")
			require.NoError(t, os.WriteFile(path, []byte(tt.data), 0o600))

			_, err := Load(path, nil)
			assert.Error(t, err)
		})
	}
}
