package persistence

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/petrijr/flowtrace/pkg/api"
)

// tokenPayload is the wire form of a process token for byte-oriented
// backends (SQLite BLOB, Postgres BYTEA, Redis values).
type tokenPayload struct {
	ProcessInstanceID string
	ProcessModelID    string
	CorrelationID     string
	Payload           []byte
	History           []historyEntry
}

type historyEntry struct {
	FlowNodeID string
	Payload    []byte
	CreatedAt  time.Time
}

// EncodeValue serializes an arbitrary payload value using encoding/gob.
// Callers must ensure that values are gob-encodable; nil encodes to nil.
func EncodeValue(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	// Encode as interface{} so we can safely decode into interface{}.
	var iv = v
	if err := enc.Encode(&iv); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeValue deserializes a payload encoded by EncodeValue.
func DecodeValue(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var iv any
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&iv); err != nil {
		return nil, err
	}
	return iv, nil
}

// EncodeToken serializes a full process token, payload history included.
func EncodeToken(tok api.ProcessToken) ([]byte, error) {
	payload, err := EncodeValue(tok.Payload)
	if err != nil {
		return nil, err
	}

	wire := tokenPayload{
		ProcessInstanceID: tok.ProcessInstanceID,
		ProcessModelID:    tok.ProcessModelID,
		CorrelationID:     tok.CorrelationID,
		Payload:           payload,
	}
	for _, snap := range tok.History {
		p, err := EncodeValue(snap.Payload)
		if err != nil {
			return nil, err
		}
		wire.History = append(wire.History, historyEntry{
			FlowNodeID: snap.FlowNodeID,
			Payload:    p,
			CreatedAt:  snap.CreatedAt,
		})
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&wire); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeToken deserializes a token encoded by EncodeToken.
func DecodeToken(data []byte) (api.ProcessToken, error) {
	var tok api.ProcessToken
	if len(data) == 0 {
		return tok, nil
	}

	var wire tokenPayload
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wire); err != nil {
		return tok, err
	}

	payload, err := DecodeValue(wire.Payload)
	if err != nil {
		return tok, err
	}

	tok.ProcessInstanceID = wire.ProcessInstanceID
	tok.ProcessModelID = wire.ProcessModelID
	tok.CorrelationID = wire.CorrelationID
	tok.Payload = payload
	for _, entry := range wire.History {
		p, err := DecodeValue(entry.Payload)
		if err != nil {
			return tok, err
		}
		tok.History = append(tok.History, api.TokenSnapshot{
			FlowNodeID: entry.FlowNodeID,
			Payload:    p,
			CreatedAt:  entry.CreatedAt,
		})
	}
	return tok, nil
}
