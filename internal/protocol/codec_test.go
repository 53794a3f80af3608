package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/peerplay/internal/ledger"
)

func TestDecodeReturnsValues(t *testing.T) {
	data, err := Encode(&SyncParticipants{Participants: []Participant{
		{ConnectionID: "host", Name: "Ada", Status: PlayerGame, Connected: true, Host: true},
		{ConnectionID: "c1", Name: "Bo", Status: PlayerLobby},
	}})
	require.NoError(t, err)

	m, err := Decode(data)
	require.NoError(t, err)
	switch v := m.(type) {
	case SyncParticipants:
		require.Len(t, v.Participants, 2)
		assert.True(t, v.Participants[0].Host)
		assert.Equal(t, PlayerLobby, v.Participants[1].Status)
	default:
		t.Fatalf("unexpected %T", m)
	}

	data, err = Encode(ActionRequest{
		Action:          ledger.Action{Type: "ROLL_DICE", Payload: json.RawMessage(`{"value":4}`)},
		Signature:       "ab",
		SignerPublicKey: "cd",
	})
	require.NoError(t, err)
	m, err = Decode(data)
	require.NoError(t, err)
	req, ok := m.(ActionRequest)
	require.True(t, ok)
	assert.JSONEq(t, `{"value":4}`, string(req.Action.Payload))
	assert.Equal(t, ChannelLedger, req.Channel())
}

func TestEmptyPayloadMessages(t *testing.T) {
	m, err := Decode([]byte(`{"channel":"lifecycle","type":"GAME_STARTED"}`))
	require.NoError(t, err)
	assert.Equal(t, GameStarted{}, m)

	m, err = Decode([]byte(`{"channel":"ledger","type":"REQUEST_SYNC","payload":null}`))
	require.NoError(t, err)
	assert.Equal(t, RequestSync{}, m)
}

func TestSyncLedgerWireShape(t *testing.T) {
	m := SyncLedger{Seed: 12345, Entries: []ledger.Entry{{
		Index:           0,
		Action:          ledger.Action{Type: "ROLL_DICE", Payload: json.RawMessage(`{"value":4}`)},
		Signature:       "ab",
		SignerPublicKey: "cd",
		Timestamp:       1,
	}}}
	data, err := Encode(m)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.JSONEq(t, `"SYNC_LEDGER"`, string(raw["type"]))
	assert.JSONEq(t, `12345`, string(raw["seed"]))
	assert.Equal(t, byte('['), raw["payload"][0], "payload is the entry array")

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, m, got)

	ptrData, err := Encode(&m)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(ptrData))
}

func TestDecodeRejectsAtBoundary(t *testing.T) {
	cases := map[string]struct {
		input string
		err   error
	}{
		"not json":          {`{`, ErrMalformed},
		"unknown type":      {`{"channel":"game","type":"LAUNCH_MISSILES"}`, ErrUnknownType},
		"wrong channel":     {`{"channel":"game","type":"START_GAME","payload":{"seed":1}}`, ErrMalformed},
		"bad status":        {`{"channel":"lifecycle","type":"SYNC_PLAYER_STATUS","payload":{"status":"afk"}}`, ErrMalformed},
		"empty board id":    {`{"channel":"lifecycle","type":"NEW_BOARD","payload":{}}`, ErrMalformed},
		"sync without seed": {`{"channel":"ledger","type":"SYNC_LEDGER","payload":[]}`, ErrMalformed},
		"unsigned request":  {`{"channel":"ledger","type":"ACTION_REQUEST","payload":{"action":{"type":"BEGIN"}}}`, ErrMalformed},
		"payload type":      {`{"channel":"lifecycle","type":"START_GAME","payload":{"seed":"x"}}`, ErrMalformed},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(tc.input))
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestEncodeValidates(t *testing.T) {
	_, err := Encode(NewBoard{})
	assert.ErrorIs(t, err, ErrMalformed)
}
