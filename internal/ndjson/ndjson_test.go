package ndjson

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_SkipsBlankLinesAndTrimsTerminators(t *testing.T) {
	t.Parallel()
	r := NewReader(strings.NewReader("{\"a\":1}\r\n\n   \n{\"b\":2}\n"))

	line, err := r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(line))

	line, err = r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, `{"b":2}`, string(line))

	_, err = r.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_FinalLineWithoutNewline(t *testing.T) {
	t.Parallel()
	r := NewReader(strings.NewReader("first\nlast"))

	line, err := r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "first", string(line))

	line, err = r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "last", string(line))

	_, err = r.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_LineTooLong(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("x", 200)
	r := NewReaderSize(strings.NewReader(long+"\nok\n"), 100)

	_, err := r.ReadLine()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLineTooLong))
}

func TestWriter_AppendsSingleNewline(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteRaw([]byte(`{"x":1}`)))
	require.NoError(t, w.WriteRaw([]byte("{\"y\":2}\n")))
	require.NoError(t, w.Encode(map[string]int{"z": 3}))

	assert.Equal(t, "{\"x\":1}\n{\"y\":2}\n{\"z\":3}\n", buf.String())
}

func TestWriter_ConcurrentLinesDoNotInterleave(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := NewWriter(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.WriteRaw([]byte(strings.Repeat("a", 512)))
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 20)
	for _, l := range lines {
		assert.Len(t, l, 512)
	}
}
