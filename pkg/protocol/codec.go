package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrInvalidMessage  = errors.New("invalid message")
)

// Inbound is a decoded and validated client message.
type Inbound struct {
	Type    Type
	Payload any
}

// SessionID returns the session a message refers to, if any.
func (in Inbound) SessionID() string {
	switch p := in.Payload.(type) {
	case SessionRef:
		return p.SessionID
	case Signal:
		return p.SessionID
	}
	return ""
}

// DecodeClient parses one client frame and validates required fields per type.
func DecodeClient(raw []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	switch env.Type {
	case TypeRegister:
		var p Register
		if err := decodeData(env, &p); err != nil {
			return Inbound{}, err
		}
		p.DisplayName = strings.TrimSpace(p.DisplayName)
		return Inbound{Type: env.Type, Payload: p}, nil

	case TypeCallRequest:
		var p CallRequest
		if err := decodeData(env, &p); err != nil {
			return Inbound{}, err
		}
		return Inbound{Type: env.Type, Payload: p}, nil

	case TypeCallAccept, TypeCallReject, TypeCallCancel, TypeCallEnd:
		var p SessionRef
		if err := decodeData(env, &p); err != nil {
			return Inbound{}, err
		}
		if strings.TrimSpace(p.SessionID) == "" {
			return Inbound{}, fmt.Errorf("%w: %s requires sessionId", ErrInvalidMessage, env.Type)
		}
		return Inbound{Type: env.Type, Payload: p}, nil

	case TypeOffer, TypeAnswer, TypeICECandidate:
		var p Signal
		if err := decodeData(env, &p); err != nil {
			return Inbound{}, err
		}
		if p.SessionID == "" || p.TargetConnectionID == "" || len(p.Payload) == 0 {
			return Inbound{}, fmt.Errorf("%w: %s requires sessionId, targetConnectionId and payload", ErrInvalidMessage, env.Type)
		}
		// Senders cannot spoof the origin; the server stamps it.
		p.FromConnectionID = ""
		return Inbound{Type: env.Type, Payload: p}, nil

	case TypeGetOnlineAdmins:
		return Inbound{Type: env.Type}, nil

	default:
		return Inbound{}, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
}

func decodeData(env Envelope, out any) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidMessage, env.Type, err)
	}
	return nil
}

// Decode unmarshals a server frame's data into out. Used by clients.
func Decode(env Envelope, out any) error {
	return decodeData(env, out)
}
