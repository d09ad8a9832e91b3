package app

import (
	"encoding/json"
	"fmt"
	"io"
)

// Result is the single JSON line printed on success. encoding/json writes
// []byte as standard base64 and keeps the field order below.
type Result struct {
	IsAvailable bool   `json:"isAvailable"`
	PrivateKey  []byte `json:"privateKey,omitempty"`
	PublicKey   []byte `json:"publicKey,omitempty"`
	Signature   []byte `json:"signature,omitempty"`
}

// Encode writes r as one line of JSON terminated by a newline.
func (r *Result) Encode(w io.Writer) error {
	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	line = append(line, '\n')
	if _, err := w.Write(line); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}
