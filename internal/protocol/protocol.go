// ABOUTME: Wire message envelope exchanged between the coordinator and agents.
// ABOUTME: Tagged-union JSON encoding with a closed set of message types.

package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType identifies the kind of a wire message.
type MessageType string

const (
	TypeRegister    MessageType = "register"
	TypeAuthSuccess MessageType = "auth_success"
	TypeAuthFailed  MessageType = "auth_failed"
	TypeHeartbeat   MessageType = "heartbeat"
	TypeCommand     MessageType = "command"
	TypeResponse    MessageType = "response"
)

// Message is the envelope for every frame on an agent connection.
// Payload is absent for types that carry no body (AuthSuccess, Heartbeat).
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Register is the mandatory first message an agent sends after connecting.
type Register struct {
	AgentID   string   `json:"agent_id"`
	Token     string   `json:"token"`
	Hostname  string   `json:"hostname"`
	OS        string   `json:"os"`
	Alias     string   `json:"alias,omitempty"`
	Version   string   `json:"version"`
	Addresses []string `json:"addresses,omitempty"`
}

// AuthFailed tells the agent why its registration was rejected.
type AuthFailed struct {
	Reason string `json:"reason"`
}

// Command carries one payload coordinator->agent, joined to its eventual
// response by the correlation ID.
type Command struct {
	ID  string
	Cmd Payload
}

// Response carries one result agent->coordinator.
type Response struct {
	ID     string
	Result Result
}

// commandWire is the JSON shape of a Command payload.
type commandWire struct {
	ID  string          `json:"id"`
	Cmd json.RawMessage `json:"cmd"`
}

// responseWire is the JSON shape of a Response payload.
type responseWire struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
}

// NewRegister builds a register message.
func NewRegister(r Register) (Message, error) {
	return wrap(TypeRegister, r)
}

// NewAuthSuccess builds an auth-success message.
func NewAuthSuccess() Message {
	return Message{Type: TypeAuthSuccess}
}

// NewAuthFailed builds an auth-failure message.
func NewAuthFailed(reason string) (Message, error) {
	return wrap(TypeAuthFailed, AuthFailed{Reason: reason})
}

// NewHeartbeat builds a heartbeat message.
func NewHeartbeat() Message {
	return Message{Type: TypeHeartbeat}
}

// NewCommand builds a command message for the given correlation ID and payload.
func NewCommand(correlationID string, p Payload) (Message, error) {
	cmd, err := MarshalPayload(p)
	if err != nil {
		return Message{}, err
	}
	return wrap(TypeCommand, commandWire{ID: correlationID, Cmd: cmd})
}

// NewResponse builds a response message for the given correlation ID and result.
func NewResponse(correlationID string, r Result) (Message, error) {
	res, err := MarshalResult(r)
	if err != nil {
		return Message{}, err
	}
	return wrap(TypeResponse, responseWire{ID: correlationID, Result: res})
}

func wrap(t MessageType, body any) (Message, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Message{}, fmt.Errorf("encoding %s payload: %w", t, err)
	}
	return Message{Type: t, Payload: raw}, nil
}

// DecodeRegister extracts the Register body from a message.
func DecodeRegister(m Message) (Register, error) {
	var r Register
	if m.Type != TypeRegister {
		return r, fmt.Errorf("expected %s message, got %s", TypeRegister, m.Type)
	}
	if err := json.Unmarshal(m.Payload, &r); err != nil {
		return r, fmt.Errorf("decoding register payload: %w", err)
	}
	return r, nil
}

// DecodeCommand extracts the Command body from a message.
func DecodeCommand(m Message) (Command, error) {
	var c Command
	if m.Type != TypeCommand {
		return c, fmt.Errorf("expected %s message, got %s", TypeCommand, m.Type)
	}
	var w commandWire
	if err := json.Unmarshal(m.Payload, &w); err != nil {
		return c, fmt.Errorf("decoding command payload: %w", err)
	}
	p, err := UnmarshalPayload(w.Cmd)
	if err != nil {
		return c, err
	}
	return Command{ID: w.ID, Cmd: p}, nil
}

// DecodeResponse extracts the Response body from a message.
func DecodeResponse(m Message) (Response, error) {
	var r Response
	if m.Type != TypeResponse {
		return r, fmt.Errorf("expected %s message, got %s", TypeResponse, m.Type)
	}
	var w responseWire
	if err := json.Unmarshal(m.Payload, &w); err != nil {
		return r, fmt.Errorf("decoding response payload: %w", err)
	}
	res, err := UnmarshalResult(w.Result)
	if err != nil {
		return r, err
	}
	return Response{ID: w.ID, Result: res}, nil
}

// DecodeAuthFailed extracts the AuthFailed body from a message.
func DecodeAuthFailed(m Message) (AuthFailed, error) {
	var a AuthFailed
	if m.Type != TypeAuthFailed {
		return a, fmt.Errorf("expected %s message, got %s", TypeAuthFailed, m.Type)
	}
	if err := json.Unmarshal(m.Payload, &a); err != nil {
		return a, fmt.Errorf("decoding auth_failed payload: %w", err)
	}
	return a, nil
}
