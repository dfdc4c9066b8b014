package lake

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Envelope is the raw-layer record of one upstream response.
type Envelope struct {
	Endpoint  string          `json:"endpoint"`
	Params    map[string]any  `json:"params"`
	FetchedAt time.Time       `json:"fetched_at"`
	Body      json.RawMessage `json:"body"`
}

// EncodeRaw gzips the JSON envelope.
func EncodeRaw(env Envelope) ([]byte, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal raw envelope: %w", err)
	}
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(payload); err != nil {
		zw.Close()
		return nil, fmt.Errorf("gzip raw envelope: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip raw envelope: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeRaw reverses EncodeRaw.
func DecodeRaw(data []byte) (Envelope, error) {
	var env Envelope
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return env, fmt.Errorf("open gzip: %w", err)
	}
	defer zr.Close()
	payload, err := io.ReadAll(zr)
	if err != nil {
		return env, fmt.Errorf("read gzip: %w", err)
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return env, fmt.Errorf("unmarshal raw envelope: %w", err)
	}
	return env, nil
}
