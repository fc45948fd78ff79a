package download

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/docker/go-units"

	"github.com/docker/image-sorter/pkg/catalog"
)

// MessageType is the kind of a worker stream message.
type MessageType string

const (
	// TypeLog carries a human-readable status line.
	TypeLog MessageType = "log"
	// TypeProgress carries a Progress payload.
	TypeProgress MessageType = "progress"
	// TypeError carries an error description.
	TypeError MessageType = "error"
	// TypeDone carries the final outcome and is the last message.
	TypeDone MessageType = "done"
	// TypeRaw marks a stream line that was not valid JSON. It is never
	// written by a Reporter.
	TypeRaw MessageType = "raw"
)

const (
	// SuccessPrefix starts the done message of a fully downloaded variant.
	// The variant key follows it.
	SuccessPrefix = "SUCCESS|"
	// DoneAborted is the done message when the main artifact failed.
	DoneAborted = "Download Aborted due to error."
	// DoneWithErrors is the done message when the projector failed.
	DoneWithErrors = "Downloads finished with errors."
)

// Message is one line of the worker stream.
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Progress is the payload of a progress message. All fields except Percent
// are preformatted for display.
type Progress struct {
	Filename   string  `json:"filename"`
	Percent    float64 `json:"percent"`
	Speed      string  `json:"speed"`
	Downloaded string  `json:"downloaded"`
	Total      string  `json:"total"`
}

// Text returns the data of a log, error, done or raw message as a string.
// Structured payloads are returned as their JSON text.
func (m Message) Text() string {
	var s string
	if err := json.Unmarshal(m.Data, &s); err == nil {
		return s
	}
	return string(m.Data)
}

// Progress decodes the payload of a progress message.
func (m Message) Progress() (Progress, error) {
	if m.Type != TypeProgress {
		return Progress{}, fmt.Errorf("not a progress message: %q", m.Type)
	}
	var p Progress
	if err := json.Unmarshal(m.Data, &p); err != nil {
		return Progress{}, fmt.Errorf("decoding progress: %w", err)
	}
	return p, nil
}

// SucceededVariant returns the variant key of a successful done message.
func (m Message) SucceededVariant() (catalog.Key, bool) {
	if m.Type != TypeDone {
		return "", false
	}
	key, ok := strings.CutPrefix(m.Text(), SuccessPrefix)
	if !ok || key == "" {
		return "", false
	}
	return catalog.Key(key), true
}

// ProgressFromTask formats a task snapshot for the stream.
func ProgressFromTask(t Task) Progress {
	return Progress{
		Filename:   t.Filename,
		Percent:    t.Percent(),
		Speed:      fmt.Sprintf("%.1f MB/s", t.Rate/units.MiB),
		Downloaded: formatMB(t.Downloaded),
		Total:      formatMB(t.Total),
	}
}

func formatMB(n int64) string {
	return fmt.Sprintf("%.1f MB", float64(n)/units.MiB)
}

// Reporter writes worker messages as newline-delimited JSON. It is safe for
// concurrent use. After the first write error all further writes are dropped
// and that error is returned.
type Reporter struct {
	mu  sync.Mutex
	enc *json.Encoder
	err error
}

// NewReporter creates a Reporter writing to w.
func NewReporter(w io.Writer) *Reporter {
	return &Reporter{enc: json.NewEncoder(w)}
}

// Log writes a log message.
func (r *Reporter) Log(text string) error {
	return r.write(TypeLog, text)
}

// Error writes an error message.
func (r *Reporter) Error(text string) error {
	return r.write(TypeError, text)
}

// Done writes the final message.
func (r *Reporter) Done(text string) error {
	return r.write(TypeDone, text)
}

// Progress writes a progress message for a task snapshot.
func (r *Reporter) Progress(t Task) error {
	return r.write(TypeProgress, ProgressFromTask(t))
}

func (r *Reporter) write(typ MessageType, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if err := r.enc.Encode(Message{Type: typ, Data: raw}); err != nil {
		r.err = err
	}
	return r.err
}

// maxLineSize bounds a single stream line.
const maxLineSize = 1024 * 1024

// ReadStream parses a worker stream and calls fn for every line. Lines that
// are not JSON messages are passed as TypeRaw so that stray output is not
// lost. Reading stops at the first error returned by fn.
func ReadStream(r io.Reader, fn func(Message) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil || msg.Type == "" {
			raw, _ := json.Marshal(line)
			msg = Message{Type: TypeRaw, Data: raw}
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading worker stream: %w", err)
	}
	return nil
}
