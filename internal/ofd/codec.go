package ofd

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptyResponse is returned when OFD closed the exchange without a body.
var ErrEmptyResponse = errors.New("ofd: empty response")

// Envelope is the decoded part of an OFD reply the core relies on. The
// business payload stays opaque.
type Envelope struct {
	ResultCode *int   `json:"resultCode"`
	Token      string `json:"token,omitempty"`
	ReqNum     int    `json:"reqNum,omitempty"`
	FiscalSign string `json:"fiscalSign,omitempty"`
	Message    string `json:"message,omitempty"`
}

type Codec interface {
	Encode(Request) ([]byte, error)
	Decode([]byte) (Envelope, error)
}

type JSONCodec struct{}

func (JSONCodec) Encode(req Request) ([]byte, error) {
	return json.Marshal(req)
}

func (JSONCodec) Decode(b []byte) (Envelope, error) {
	if len(b) == 0 {
		return Envelope{}, ErrEmptyResponse
	}
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("ofd: decode envelope: %w", err)
	}
	return env, nil
}
