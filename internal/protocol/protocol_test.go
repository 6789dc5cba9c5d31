package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDispatchesOnType(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  Msg
	}{
		{
			name:  "create session",
			frame: `{"type":"CreateSession"}`,
			want:  CreateSession{Type: TypeCreateSession},
		},
		{
			name:  "update client",
			frame: `{"type":"UpdateClient","name":"alice"}`,
			want:  UpdateClient{Type: TypeUpdateClient, Name: "alice"},
		},
		{
			name:  "add session client",
			frame: `{"type":"AddSessionClient","sessionId":"s1","addClientId":"c2"}`,
			want:  AddSessionClient{Type: TypeAddSessionClient, SessionID: "s1", AddClientID: "c2"},
		},
		{
			name:  "broadcast to session",
			frame: `{"type":"BroadcastToSession","sessionId":"s1","payload":"hi"}`,
			want:  BroadcastToSession{Type: TypeBroadcastToSession, SessionID: "s1", Payload: "hi"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode([]byte(tc.frame))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"payload":"hi"}`))

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Contains(t, decodeErr.Reason, "missing type")
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"SelfDestruct"}`))

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
}

func TestDecodeRejectsServerOnlyTypes(t *testing.T) {
	_, err := Decode([]byte(`{"type":"BroadcastFromSession","payload":"spoof"}`))

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
}

func TestDecodeMalformedBody(t *testing.T) {
	_, err := Decode([]byte(`{"type":"UpdateClient","name":42}`))

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
}

func TestEncodeCarriesTypeTag(t *testing.T) {
	frame, err := Encode(Error{Type: TypeError, Message: "nope"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"Error","message":"nope"}`, string(frame))
}
