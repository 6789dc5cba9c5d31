// Package protocol defines the wire contract: one JSON message per frame,
// discriminated by a "type" field. Decode peeks the discriminator with
// gjson before committing to a typed unmarshal, so a malformed body never
// costs more than that one message.

package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"session-relay/internal/registry"
)

// Message type tags. These are the canonical wire names.
const (
	TypeClientConnect        = "ClientConnect"
	TypeCreateSession        = "CreateSession"
	TypeUpdateClient         = "UpdateClient"
	TypeAddSessionClient     = "AddSessionClient"
	TypeClientJoinedSession  = "ClientJoinedSession"
	TypeClientLeftSession    = "ClientLeftSession"
	TypeBroadcastToSession   = "BroadcastToSession"
	TypeBroadcastFromSession = "BroadcastFromSession"
	TypeError                = "Error"
	TypeInfo                 = "Info"
)

// Msg is any wire message.
type Msg interface {
	MsgType() string
}

// ClientConnect announces the accepted identity to a freshly connected
// client.
type ClientConnect struct {
	Type   string          `json:"type"`
	Client registry.Client `json:"client"`
}

// CreateSession asks the server to create a session owned by the sender.
type CreateSession struct {
	Type string `json:"type"`
}

// UpdateClient renames the sending client.
type UpdateClient struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// AddSessionClient asks the server to add a client to a session the
// sender owns.
type AddSessionClient struct {
	Type        string `json:"type"`
	SessionID   string `json:"sessionId"`
	AddClientID string `json:"addClientId"`
}

// ClientJoinedSession notifies session members of a join (or of a
// refreshed membership snapshot after a rename).
type ClientJoinedSession struct {
	Type           string                     `json:"type"`
	ClientID       string                     `json:"clientId"`
	SessionID      string                     `json:"sessionId"`
	SessionOwnerID string                     `json:"sessionOwnerId"`
	ClientMap      map[string]registry.Client `json:"clientMap"`
}

// ClientLeftSession notifies remaining members that a client left.
type ClientLeftSession struct {
	Type           string                     `json:"type"`
	ClientID       string                     `json:"clientId"`
	SessionID      string                     `json:"sessionId"`
	SessionOwnerID string                     `json:"sessionOwnerId"`
	ClientMap      map[string]registry.Client `json:"clientMap"`
}

// BroadcastToSession carries a payload from a member to its session. The
// session is explicit because a client may belong to several sessions.
type BroadcastToSession struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Payload   string `json:"payload"`
}

// BroadcastFromSession is the server-side fan-out of a member broadcast.
type BroadcastFromSession struct {
	Type             string `json:"type"`
	FromSessionOwner bool   `json:"fromSessionOwner"`
	SenderID         string `json:"senderId"`
	SessionID        string `json:"sessionId"`
	Payload          string `json:"payload"`
}

// Error is sent to the offending sender only, never broadcast.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Info is an informational notice from the server.
type Info struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (m ClientConnect) MsgType() string        { return TypeClientConnect }
func (m CreateSession) MsgType() string        { return TypeCreateSession }
func (m UpdateClient) MsgType() string         { return TypeUpdateClient }
func (m AddSessionClient) MsgType() string     { return TypeAddSessionClient }
func (m ClientJoinedSession) MsgType() string  { return TypeClientJoinedSession }
func (m ClientLeftSession) MsgType() string    { return TypeClientLeftSession }
func (m BroadcastToSession) MsgType() string   { return TypeBroadcastToSession }
func (m BroadcastFromSession) MsgType() string { return TypeBroadcastFromSession }
func (m Error) MsgType() string                { return TypeError }
func (m Info) MsgType() string                 { return TypeInfo }

// DecodeError reports a frame that could not be decoded. It terminates
// processing of that single message only.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "decode: " + e.Reason
}

// Decode parses one inbound frame into its typed message. Only
// client-to-server types decode; server-to-client types arriving inbound
// are rejected like any unknown type.
func Decode(data []byte) (Msg, error) {
	typeValue := gjson.GetBytes(data, "type")
	if !typeValue.Exists() {
		return nil, &DecodeError{Reason: "missing type field"}
	}

	switch typeValue.String() {
	case TypeCreateSession:
		return unmarshal[CreateSession](data)
	case TypeUpdateClient:
		return unmarshal[UpdateClient](data)
	case TypeAddSessionClient:
		return unmarshal[AddSessionClient](data)
	case TypeBroadcastToSession:
		return unmarshal[BroadcastToSession](data)
	default:
		return nil, &DecodeError{Reason: "unknown type " + typeValue.String()}
	}
}

func unmarshal[M Msg](data []byte) (Msg, error) {
	var msg M
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &DecodeError{Reason: err.Error()}
	}
	return msg, nil
}

// Encode serializes an outbound message.
func Encode(msg Msg) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.MsgType(), err)
	}
	return data, nil
}
