package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// MaxEvidence caps the evidence kept per event.
const MaxEvidence = 64

// JSONLWriter writes a single JSON object per line. It is safe for
// concurrent use.
type JSONLWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{w: w}
}

// OpenJSONL appends to the file at path, creating parent directories.
func OpenJSONL(path string) (*JSONLWriter, func() error, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return NewJSONLWriter(file), file.Close, nil
}

func (l *JSONLWriter) Write(record Record) error {
	record.Events = sanitizeEvents(record.Events)

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.w.Write(append(data, '\n'))
	return err
}

func sanitizeEvents(events []Event) []Event {
	if len(events) == 0 {
		return nil
	}
	out := make([]Event, len(events))
	for i, ev := range events {
		out[i] = ev
		out[i].Evidence = Truncate(redactVariable(ev.Variable, RedactSecrets(ev.Evidence)))
		out[i].LogData = RedactSecrets(ev.LogData)
	}
	return out
}

// Truncate cuts value to MaxEvidence bytes.
func Truncate(value string) string {
	if len(value) <= MaxEvidence {
		return value
	}
	return value[:MaxEvidence]
}

var (
	secretKVPattern     = regexp.MustCompile(`(?i)\b(password|passwd|token|api[_-]?key|secret)\s*=\s*([^\s&]+)`)
	secretBearerPattern = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/-]+=*`)
)

// RedactSecrets masks key=value secrets and bearer tokens.
func RedactSecrets(input string) string {
	if input == "" {
		return input
	}
	redacted := secretKVPattern.ReplaceAllString(input, `$1=<redacted>`)
	redacted = secretBearerPattern.ReplaceAllString(redacted, "bearer <redacted>")
	return redacted
}

// redactVariable hides the whole value of variables that only carry secrets.
func redactVariable(variable, value string) string {
	_, key, ok := strings.Cut(variable, ":")
	if !ok {
		return value
	}
	switch strings.ToLower(key) {
	case "authorization", "cookie", "set-cookie", "password", "passwd", "token", "secret", "api_key", "apikey":
		return "<redacted>"
	}
	return value
}

// ReadJSONL decodes records from r, skipping blank lines. Records older than
// since are skipped when since is set.
func ReadJSONL(r io.Reader, since time.Time) ([]Record, error) {
	var records []Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if !since.IsZero() && rec.Timestamp.Before(since) {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
