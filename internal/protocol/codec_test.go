package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/rps/internal/game/rps"
)

func frame(payload string) []byte {
	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[headerSize:], payload)
	return buf
}

func TestWriteReadFrame_Move(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, &Move{PlayerID: "alice", Move: rps.Rock}))

	msg, err := ReadFrame(&buf)
	require.NoError(t, err)
	mv, ok := msg.(*Move)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, "alice", mv.PlayerID)
	assert.Equal(t, rps.Rock, mv.Move)
}

func TestWriteReadFrame_Sequence(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, &LoginRequest{Username: "bob", Password: "pw"}))
	require.NoError(t, WriteFrame(&buf, &Terminate{}))

	first, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, TypeLoginRequest, first.Type())

	second, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, TypeTerminate, second.Type())

	_, err = ReadFrame(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestEncode_RoundResultWireShape(t *testing.T) {
	data, err := Encode(&RoundResult{
		Round:         1,
		YourMove:      rps.Rock,
		OpponentMove:  rps.Scissors,
		Outcome:       rps.Win,
		YourScore:     1,
		OpponentScore: 0,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"round_result","payload":{"round":1,"yourMove":"ROCK","opponentMove":"SCISSORS","outcome":"WIN","yourScore":1,"opponentScore":0}}`, string(data))
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"fireball","payload":{}}`))
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDecode_MalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{"type":`))
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDecode_InvalidMove(t *testing.T) {
	for _, body := range []string{
		`{"type":"move","payload":{"playerId":"a","move":"NONE"}}`,
		`{"type":"move","payload":{"playerId":"a","move":"LIZARD"}}`,
		`{"type":"move","payload":{"playerId":"a"}}`,
	} {
		_, err := Decode([]byte(body))
		assert.ErrorIs(t, err, ErrProtocol, body)
	}
}

func TestDecode_LoginRequiresUsername(t *testing.T) {
	_, err := Decode([]byte(`{"type":"login_request","payload":{"password":"x"}}`))
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDecode_TerminateWithoutPayload(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"terminate"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeTerminate, msg.Type())
}

func TestReadFrame_Oversize(t *testing.T) {
	var header [headerSize]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)
	_, err := ReadFrame(bytes.NewReader(header[:]))
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestReadFrame_Truncated(t *testing.T) {
	data := frame(`{"type":"terminate"}`)
	_, err := ReadFrame(bytes.NewReader(data[:len(data)-3]))
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.False(t, errors.Is(err, ErrProtocol))
}

func TestFromClient(t *testing.T) {
	assert.True(t, FromClient(TypeLoginRequest))
	assert.True(t, FromClient(TypeMove))
	assert.True(t, FromClient(TypePlayAgain))
	assert.True(t, FromClient(TypeTerminate))
	assert.False(t, FromClient(TypeRoundResult))
	assert.False(t, FromClient(TypeGameStart))
}

// Property: arbitrary bytes never decode into a nil message without an error.
func TestPropertyDecode_NeverPanics(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 0, 256).Draw(t, "data")
		msg, err := Decode(data)
		if err == nil && msg == nil {
			t.Fatalf("Decode(%q) returned nil message without error", data)
		}
		if err != nil && !errors.Is(err, ErrProtocol) {
			t.Fatalf("Decode(%q) error %v does not wrap ErrProtocol", data, err)
		}
	})
}

// Property: a written move frame always reads back as the same move.
func TestPropertyMoveFrame_Preserved(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		player := rapid.StringMatching(`[a-z]{1,16}`).Draw(t, "player")
		move := rapid.SampledFrom(rps.Moves).Draw(t, "move")

		var buf bytes.Buffer
		if err := WriteFrame(&buf, &Move{PlayerID: player, Move: move}); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
		msg, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		got := msg.(*Move)
		if got.PlayerID != player || got.Move != move {
			t.Fatalf("got %+v, want %s/%s", got, player, move)
		}
	})
}
