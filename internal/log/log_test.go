package log

import (
	"io"
	"os"
	"testing"

	api "github.com/mkoval/clog/api/v1"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/protoadapt"
)

// TestLog exercises the Log type, performing various tests such as
// appending and reading a record, reading a record out of bounds, initializing
// with existing segments, and truncating the log.
func TestLog(t *testing.T) {
	for scenarial, fn := range map[string]func(t *testing.T, log *Log){
		"append and read a record succeeds":  testAppendRead,
		"offset out of bounds returns error": testReadOutOfBounds,
		"init with existing segments":        testInitExisting,
		"reader":                             testReader,
		"truncate":                           testTruncate,
		"truncate keeps the boundary segment": testTruncateBoundary,
	} {
		t.Run(scenarial, func(t *testing.T) {
			dir, err := os.MkdirTemp("", "log_test")

			require.NoError(t, err)
			defer os.RemoveAll(dir)

			c := Config{}
			c.Segment.MaxStoreBytes = 32
			log, err := NewLog(dir, c)
			require.NoError(t, err)
			fn(t, log)
		})
	}
}

// testAppendRead tests that appending a record and reading it back
// works as expected.
func testAppendRead(t *testing.T, log *Log) {
	append := &api.Record{Value: []byte("hello world")}

	off, err := log.Append(append)
	require.NoError(t, err)
	require.Equal(t, uint64(0), off)

	read, err := log.Read(off)

	require.NoError(t, err)
	require.Equal(t, append.Value, read.Value)
}

// testReadOutOfBounds tests that reading a record out of bounds
// returns an error.
func testReadOutOfBounds(t *testing.T, log *Log) {
	read, err := log.Read(1)
	require.Nil(t, read)
	require.Error(t, err)

}

// testInitExisting tests initializing a log with existing segments.
// It appends records to the log, closes it, and then verifies that the
// lowest and highest offsets are correct. It then reopens the log with
// the existing segments and verifies that the offsets remain correct.
func testInitExisting(t *testing.T, log *Log) {
	append := &api.Record{Value: []byte("hello world")}

	for i := 0; i < 3; i++ {
		_, err := log.Append(append)
		require.NoError(t, err)
	}

	require.NoError(t, log.Close())

	off, err := log.LowestOffset()

	require.NoError(t, err)
	require.Equal(t, uint64(0), off)

	off, err = log.HighestOffset()
	require.NoError(t, err)
	require.Equal(t, uint64(3), off)

	n, err := NewLog(log.Dir, log.Config)
	require.NoError(t, err)

	off, err = n.LowestOffset()
	require.NoError(t, err)
	require.Equal(t, uint64(0), off)
	off, err = n.HighestOffset()
	require.NoError(t, err)
	require.Equal(t, uint64(3), off)

}

// testReader tests that the Reader method returns a reader that
// can be read from like a normal reader. It appends a record to the
// log, then reads from the log using the Reader method and verifies
// that the record is read back correctly.
func testReader(t *testing.T, log *Log) {
	append := &api.Record{Value: []byte("hello world")}

	off, err := log.Append(append)
	require.NoError(t, err)
	require.Equal(t, uint64(0), off)

	reader := log.Reader()

	b, err := io.ReadAll(reader)
	require.NoError(t, err)

	read := &api.Record{}

	err = proto.Unmarshal(b[lenWidth:], protoadapt.MessageV2Of(read))
	require.NoError(t, err)
	require.Equal(t, append.Value, read.Value)
}

func testTruncate(t *testing.T, log *Log) {
	append := &api.Record{Value: []byte("hello world")}

	for i := 0; i < 3; i++ {
		_, err := log.Append(append)
		require.NoError(t, err)
	}

	err := log.Truncate(2)
	require.NoError(t, err)

	_, err = log.Read(0)
	require.Error(t, err)
}

// testTruncateBoundary exercises Truncate against three empty segments at
// base offsets 0, 1, 2 (each segment's nextOffset equals its own
// baseOffset). Truncate(1) must drain only the segments at 0 and 1,
// keeping the segment at base offset 2 — not drain it too just because
// its own nextOffset (2) also satisfies nextOffset <= lowest+1 (2).
func testTruncateBoundary(t *testing.T, log *Log) {
	// NewLog's setup already created the segment at base offset 0.
	require.NoError(t, log.NewSegment(1))
	require.NoError(t, log.NewSegment(2))

	err := log.Truncate(1)
	require.NoError(t, err)

	require.Equal(t, 1, len(log.segments))
	require.Equal(t, uint64(2), log.segments[0].baseOffset)

	off, err := log.LowestOffset()
	require.NoError(t, err)
	require.Equal(t, uint64(2), off)

	off, err = log.HighestOffset()
	require.NoError(t, err)
	require.Equal(t, uint64(2), off)
}
