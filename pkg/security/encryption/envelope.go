package encryption

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// EnvelopeVersion is the only envelope format version this package reads and writes.
const EnvelopeVersion = "1.0"

// Envelope is the serialized form of envelope-encrypted data. Binary fields
// are base64 (standard encoding).
type Envelope struct {
	Version      string `json:"version"`
	Algorithm    string `json:"algorithm"`
	KeyID        string `json:"keyId"`
	EncryptedKey string `json:"encryptedKey"`
	IV           string `json:"iv"`
	AuthTag      string `json:"authTag"`
	Ciphertext   string `json:"ciphertext"`
	Timestamp    string `json:"timestamp"`
}

// additionalData binds the envelope header to the ciphertext.
func (e *Envelope) additionalData() []byte {
	return []byte(strings.Join([]string{e.Version, e.Algorithm, e.KeyID, e.Timestamp}, "|"))
}

// Encode returns the opaque token form of the envelope.
func (e *Envelope) Encode() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// ParseEnvelope decodes a token produced by Encode.
func ParseEnvelope(token string) (*Envelope, error) {
	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("envelope is not valid base64: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("envelope is not valid JSON: %w", err)
	}
	return &env, nil
}

type envelopeBytes struct {
	encryptedKey []byte
	iv           []byte
	authTag      []byte
	ciphertext   []byte
}

func (e *Envelope) decodeFields() (*envelopeBytes, error) {
	var (
		out envelopeBytes
		err error
	)
	fields := []struct {
		name string
		src  string
		dst  *[]byte
	}{
		{"encryptedKey", e.EncryptedKey, &out.encryptedKey},
		{"iv", e.IV, &out.iv},
		{"authTag", e.AuthTag, &out.authTag},
		{"ciphertext", e.Ciphertext, &out.ciphertext},
	}
	for _, f := range fields {
		*f.dst, err = base64.StdEncoding.DecodeString(f.src)
		if err != nil {
			return nil, fmt.Errorf("envelope field %s: %w", f.name, err)
		}
	}
	return &out, nil
}
