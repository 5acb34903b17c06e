package dispatcher

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/censync/go-dto"
	"github.com/censync/go-validator"

	"github.com/lidofinance/tssd/storage"
)

var ErrMalformedEnvelope = errors.New("malformed envelope")

type EnvelopeForm struct {
	RequestID string `json:"request_id" validate:"attr=request_id,min=1"`
	Payload   string `json:"payload" validate:"attr=payload,min=2"`
}

type SignJobForm struct {
	Message   string   `json:"message" validate:"attr=message,min=1"`
	SessionID string   `json:"session_id" validate:"attr=session_id,min=1"`
	Identity  string   `json:"identity" validate:"attr=identity,min=1"`
	Parties   []uint16 `json:"parties"`
}

type KeygenJobForm struct {
	Identity string `json:"identity" validate:"attr=identity,min=1"`
}

// SignJobDTO is a validated sign signal. Parties may be empty, in which case
// the configured signers take part.
type SignJobDTO struct {
	Message   string
	SessionID string
	Identity  string
	Parties   []uint16
}

type KeygenJobDTO struct {
	Identity string
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedEnvelope, fmt.Sprintf(format, args...))
}

// decodeForm unmarshals raw into form and validates it. Neither the raw bytes
// nor the offending values end up in the returned error.
func decodeForm(raw []byte, form interface{}) error {
	if err := json.Unmarshal(raw, form); err != nil {
		return malformed("invalid json")
	}
	if verr := validator.Validate(form); !verr.IsEmpty() {
		return malformed("invalid fields: %v", verr.Error())
	}
	return nil
}

func parseEnvelope(raw []byte) (*storage.Envelope, error) {
	form := &EnvelopeForm{}
	if err := decodeForm(raw, form); err != nil {
		return nil, err
	}
	return &storage.Envelope{RequestID: form.RequestID, Payload: form.Payload}, nil
}

func parseSignJob(raw []byte) (*storage.Envelope, *SignJobDTO, error) {
	env, err := parseEnvelope(raw)
	if err != nil {
		return nil, nil, err
	}

	form := &SignJobForm{}
	if err := decodeForm([]byte(env.Payload), form); err != nil {
		return env, nil, err
	}
	for _, p := range form.Parties {
		if p == 0 {
			return env, nil, malformed("party index must be positive")
		}
	}

	job := &SignJobDTO{}
	if err := dto.RequestToDTO(job, form); err != nil {
		return env, nil, malformed("failed to map sign job")
	}
	return env, job, nil
}

func parseKeygenJob(raw []byte) (*storage.Envelope, *KeygenJobDTO, error) {
	env, err := parseEnvelope(raw)
	if err != nil {
		return nil, nil, err
	}

	form := &KeygenJobForm{}
	if err := decodeForm([]byte(env.Payload), form); err != nil {
		return env, nil, err
	}

	job := &KeygenJobDTO{}
	if err := dto.RequestToDTO(job, form); err != nil {
		return env, nil, malformed("failed to map keygen job")
	}
	return env, job, nil
}
