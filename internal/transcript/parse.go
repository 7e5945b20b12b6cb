package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// ErrNoSegments is returned when a JSON document has no "segments" array.
var ErrNoSegments = errors.New("transcript: missing segments array")

// ParseJSON decodes the diarized JSON transcript format:
//
//	{"language": "en", "segments": [{"start": 0.0, "end": 5.0, "speaker": "SPEAKER_01", "text": "..."}]}
//
// Fields that are missing or of the wrong type fall back to their defaults
// (0.0, UNKNOWN, ""), so one damaged segment never discards the others.
func ParseJSON(data []byte) (Document, error) {
	var raw struct {
		Language json.RawMessage `json:"language"`
		Segments json.RawMessage `json:"segments"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Document{}, fmt.Errorf("transcript: decode: %w", err)
	}
	var items []json.RawMessage
	if len(raw.Segments) == 0 || json.Unmarshal(raw.Segments, &items) != nil || items == nil {
		return Document{}, ErrNoSegments
	}

	doc := Document{Segments: make([]Segment, 0, len(items))}
	_ = json.Unmarshal(raw.Language, &doc.Language)
	for _, item := range items {
		doc.Segments = append(doc.Segments, decodeSegment(item))
	}
	return doc, nil
}

// ReadJSON is ParseJSON over a reader.
func ReadJSON(r io.Reader) (Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Document{}, fmt.Errorf("transcript: read: %w", err)
	}
	return ParseJSON(data)
}

// Decode picks the format from the file name and content: JSON documents
// start with '{', anything else is read as rendered text lines. Rendered text
// with no parsable line is ErrNoSegments.
func Decode(name string, data []byte) (Document, error) {
	trimmed := bytes.TrimSpace(data)
	if strings.EqualFold(filepath.Ext(name), ".json") || bytes.HasPrefix(trimmed, []byte("{")) {
		return ParseJSON(trimmed)
	}
	segs, err := ParseText(bytes.NewReader(trimmed))
	if err != nil {
		return Document{}, err
	}
	if len(segs) == 0 {
		return Document{}, ErrNoSegments
	}
	return Document{Segments: segs}, nil
}

// ReadFile reads and decodes a transcript file.
func ReadFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("transcript: %w", err)
	}
	return Decode(path, data)
}

func decodeSegment(item json.RawMessage) Segment {
	seg := Segment{Speaker: Unknown}
	var fields map[string]json.RawMessage
	if json.Unmarshal(item, &fields) != nil {
		return seg
	}
	_ = json.Unmarshal(fields["start"], &seg.Start)
	_ = json.Unmarshal(fields["end"], &seg.End)
	var speaker string
	if json.Unmarshal(fields["speaker"], &speaker) == nil && strings.TrimSpace(speaker) != "" {
		seg.Speaker = SpeakerID(speaker)
	}
	var text string
	if json.Unmarshal(fields["text"], &text) == nil {
		seg.Text = strings.TrimSpace(text)
	}
	return seg
}

// Render prints segments one per line as "[MM:SS.s–MM:SS.s] SPEAKER: text".
func Render(segments []Segment) string {
	var b strings.Builder
	for _, s := range segments {
		fmt.Fprintf(&b, "[%s–%s] %s: %s\n", clock(s.Start), clock(s.End), s.Speaker, s.Text)
	}
	return b.String()
}

func clock(sec float64) string {
	if math.IsNaN(sec) || math.IsInf(sec, 0) || sec < 0 {
		sec = 0
	}
	m := math.Floor(sec / 60)
	return fmt.Sprintf("%02d:%04.1f", int(m), sec-m*60)
}

var lineRE = regexp.MustCompile(`^\[(\d{2,}):(\d{2}\.\d)\s*[\x{2013}\-]\s*(\d{2,}):(\d{2}\.\d)\]\s+(\S+):\s*(.*)$`)

// ParseText reads the rendered line format back into segments. Lines that do
// not match the format are skipped.
func ParseText(r io.Reader) ([]Segment, error) {
	var out []Segment
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		m := lineRE.FindStringSubmatch(strings.TrimRight(sc.Text(), "\r"))
		if m == nil {
			continue
		}
		out = append(out, Segment{
			Start:   minutesSeconds(m[1], m[2]),
			End:     minutesSeconds(m[3], m[4]),
			Speaker: SpeakerID(m[5]),
			Text:    strings.TrimSpace(m[6]),
		})
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("transcript: scan: %w", err)
	}
	return out, nil
}

func minutesSeconds(min, sec string) float64 {
	m, _ := strconv.Atoi(min)
	s, _ := strconv.ParseFloat(sec, 64)
	return float64(m)*60 + s
}
