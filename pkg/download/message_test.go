package download

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docker/image-sorter/pkg/catalog"
)

func TestReporterWritesNDJSON(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf)
	require.NoError(t, r.Log("Starting download: a.gguf..."))
	require.NoError(t, r.Progress(Task{
		Filename:   "a.gguf",
		Downloaded: 3 * 1024 * 1024 / 2,
		Total:      3 * 1024 * 1024,
		Rate:       2 * 1024 * 1024,
	}))
	require.NoError(t, r.Error("Failed to download b.gguf"))
	require.NoError(t, r.Done(SuccessPrefix+"low"))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	require.JSONEq(t, `{"type":"log","data":"Starting download: a.gguf..."}`, lines[0])
	require.JSONEq(t, `{"type":"progress","data":{"filename":"a.gguf","percent":50,"speed":"2.0 MB/s","downloaded":"1.5 MB","total":"3.0 MB"}}`, lines[1])
	require.JSONEq(t, `{"type":"error","data":"Failed to download b.gguf"}`, lines[2])
	require.JSONEq(t, `{"type":"done","data":"SUCCESS|low"}`, lines[3])
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestReporterStopsAfterWriteError(t *testing.T) {
	r := NewReporter(failingWriter{})
	require.Error(t, r.Log("one"))
	require.EqualError(t, r.Done("two"), "closed pipe")
}

func TestReadStream(t *testing.T) {
	stream := strings.Join([]string{
		`{"type":"log","data":"Download started: Low (4B)"}`,
		``,
		`{"type":"progress","data":{"filename":"a.gguf","percent":12.5,"speed":"1.0 MB/s","downloaded":"1.0 MB","total":"8.0 MB"}}`,
		`Traceback: not json`,
		`{"type":"done","data":"SUCCESS|medium"}`,
	}, "\n")

	var messages []Message
	require.NoError(t, ReadStream(strings.NewReader(stream), func(m Message) error {
		messages = append(messages, m)
		return nil
	}))
	require.Len(t, messages, 4)

	require.Equal(t, TypeLog, messages[0].Type)
	require.Equal(t, "Download started: Low (4B)", messages[0].Text())

	progress, err := messages[1].Progress()
	require.NoError(t, err)
	require.Equal(t, Progress{Filename: "a.gguf", Percent: 12.5, Speed: "1.0 MB/s", Downloaded: "1.0 MB", Total: "8.0 MB"}, progress)

	require.Equal(t, TypeRaw, messages[2].Type)
	require.Equal(t, "Traceback: not json", messages[2].Text())

	key, ok := messages[3].SucceededVariant()
	require.True(t, ok)
	require.Equal(t, catalog.Medium, key)
}

func TestReadStreamStopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	var calls int
	err := ReadStream(strings.NewReader("a\nb\nc\n"), func(Message) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 1, calls)
}

func TestSucceededVariant(t *testing.T) {
	cases := []struct {
		msg Message
		key catalog.Key
		ok  bool
	}{
		{Message{Type: TypeDone, Data: []byte(`"SUCCESS|high"`)}, catalog.High, true},
		{Message{Type: TypeDone, Data: []byte(`"Download Aborted due to error."`)}, "", false},
		{Message{Type: TypeDone, Data: []byte(`"SUCCESS|"`)}, "", false},
		{Message{Type: TypeLog, Data: []byte(`"SUCCESS|low"`)}, "", false},
	}
	for _, tc := range cases {
		key, ok := tc.msg.SucceededVariant()
		require.Equal(t, tc.ok, ok, string(tc.msg.Data))
		require.Equal(t, tc.key, key)
	}
}

func TestProgressOfNonProgressMessage(t *testing.T) {
	_, err := Message{Type: TypeLog, Data: []byte(`"x"`)}.Progress()
	require.Error(t, err)
}

func TestProgressFromTaskUnknownTotal(t *testing.T) {
	p := ProgressFromTask(Task{Filename: "a", Downloaded: 1024})
	require.Zero(t, p.Percent)
	require.Equal(t, "0.0 MB", p.Total)
	require.Equal(t, "0.0 MB/s", p.Speed)
}
