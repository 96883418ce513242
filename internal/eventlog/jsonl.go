package eventlog

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/edflow/backend/internal/models"
)

// JSONLSink writes one JSON object per line.
type JSONLSink struct {
	w   *bufio.Writer
	enc *json.Encoder
}

func NewJSONLSink(w io.Writer) *JSONLSink {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	return &JSONLSink{w: bw, enc: enc}
}

func (s *JSONLSink) Write(e models.Event) error {
	return s.enc.Encode(e)
}

func (s *JSONLSink) Flush() error {
	return s.w.Flush()
}

// WriteJSONL encodes events to w in order.
func WriteJSONL(w io.Writer, events []models.Event) error {
	s := NewJSONLSink(w)
	for _, e := range events {
		if err := s.Write(e); err != nil {
			return err
		}
	}
	return s.Flush()
}

// ReadJSONL decodes a line-delimited log.
func ReadJSONL(r io.Reader) ([]models.Event, error) {
	dec := json.NewDecoder(r)
	var out []models.Event
	for {
		var e models.Event
		if err := dec.Decode(&e); err != nil {
			if err == io.EOF {
				return out, nil
			}
			return out, err
		}
		out = append(out, e)
	}
}
