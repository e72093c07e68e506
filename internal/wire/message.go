// Package wire defines the messages exchanged between the editor frontend and
// the backend service, and the length-prefixed framing that carries them over
// a byte stream.
package wire

import (
	"encoding/json"
	"fmt"
)

// Type is the kind of a message
type Type string

const (
	// TypeRequest is sent by the frontend
	TypeRequest Type = "request"
	// TypeResponse terminates an invocation
	TypeResponse Type = "response"
	// TypeProgress reports intermediate progress of an invocation
	TypeProgress Type = "progress"
	// TypeUnknownCommand answers a request whose command the service does not know
	TypeUnknownCommand Type = "unknown_command_error"
)

// Commands understood by the service
const (
	CommandLoadModel       = "load_model"
	CommandContentComplete = "content_complete"
	CommandLinkTargets     = "link_targets"
	CommandFindElements    = "find_elements"
	CommandStop            = "stop"
)

const (
	keyType         = "type"
	keyCommand      = "command"
	keyInvocationID = "invocation_id"
)

// Message is one framed object on the wire. The header fields are decoded
// eagerly; command specific fields stay raw until bound to a payload type.
type Message struct {
	Type         Type
	Command      string
	InvocationID int
	Fields       map[string]json.RawMessage
}

// IsTerminal reports whether the message ends an invocation
func (m Message) IsTerminal() bool {
	return m.Type == TypeResponse || m.Type == TypeUnknownCommand
}

// Bind decodes the command specific fields into v
func (m Message) Bind(v any) error {
	data, err := json.Marshal(m.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to bind %s fields: %w", m.Type, err)
	}
	return nil
}

// NewRequest builds a request carrying payload's fields
func NewRequest(command string, invocationID int, payload any) (Message, error) {
	fields, err := toFields(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:         TypeRequest,
		Command:      command,
		InvocationID: invocationID,
		Fields:       fields,
	}, nil
}

// NewResponse builds the terminal response of an invocation
func NewResponse(invocationID int, payload any) (Message, error) {
	fields, err := toFields(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:         TypeResponse,
		InvocationID: invocationID,
		Fields:       fields,
	}, nil
}

// NewProgress builds a progress message
func NewProgress(invocationID, percentage int) Message {
	m, _ := toFields(Progress{Percentage: percentage})
	return Message{
		Type:         TypeProgress,
		InvocationID: invocationID,
		Fields:       m,
	}
}

// NewUnknownCommand builds the error answer for an unsupported command
func NewUnknownCommand(invocationID int, command string) Message {
	return Message{
		Type:         TypeUnknownCommand,
		Command:      command,
		InvocationID: invocationID,
	}
}

func toFields(payload any) (map[string]json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("payload must encode to an object: %w", err)
	}
	delete(fields, keyType)
	delete(fields, keyCommand)
	delete(fields, keyInvocationID)

	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

// MarshalJSON flattens header and fields into one object
func (m Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(m.Fields)+3)
	for k, v := range m.Fields {
		out[k] = v
	}

	if m.Type != "" {
		raw, _ := json.Marshal(string(m.Type))
		out[keyType] = raw
	}
	if m.Command != "" {
		raw, _ := json.Marshal(m.Command)
		out[keyCommand] = raw
	}
	if m.InvocationID != 0 {
		raw, _ := json.Marshal(m.InvocationID)
		out[keyInvocationID] = raw
	}

	return json.Marshal(out)
}

// UnmarshalJSON splits an object into header and fields. Header values of
// the wrong JSON type are left in Fields so callers can tell a malformed
// request from a missing one.
func (m *Message) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*m = Message{}

	var s string
	if raw, ok := fields[keyType]; ok && json.Unmarshal(raw, &s) == nil {
		m.Type = Type(s)
		delete(fields, keyType)
	}

	s = ""
	if raw, ok := fields[keyCommand]; ok && json.Unmarshal(raw, &s) == nil {
		m.Command = s
		delete(fields, keyCommand)
	}

	var id int
	if raw, ok := fields[keyInvocationID]; ok && json.Unmarshal(raw, &id) == nil {
		m.InvocationID = id
		delete(fields, keyInvocationID)
	}

	if len(fields) > 0 {
		m.Fields = fields
	}
	return nil
}
