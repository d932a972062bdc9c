// Package protocol defines the wire messages exchanged between clients and the
// server and the framed encoding that carries them.
//
// Every message travels inside an envelope with an explicit discriminant:
//
//	{"type":"round_result","payload":{...}}
//
// The set of message types is closed; Decode rejects any discriminant it does
// not know with ErrProtocol.
package protocol

import (
	"github.com/cory-johannsen/rps/internal/game/rps"
)

// Type is the envelope discriminant.
type Type string

const (
	TypeLoginRequest         Type = "login_request"
	TypeLoginResponse        Type = "login_response"
	TypeWaiting              Type = "waiting"
	TypeGameStart            Type = "game_start"
	TypeRoundStart           Type = "round_start"
	TypeMove                 Type = "move"
	TypeRoundResult          Type = "round_result"
	TypeGameResult           Type = "game_result"
	TypeOpponentDisconnected Type = "opponent_disconnected"
	TypePlayAgain            Type = "play_again"
	TypeTerminate            Type = "terminate"
	TypeError                Type = "error"
)

// Message is implemented by every wire message. The interface is sealed: only
// types in this package satisfy it.
type Message interface {
	Type() Type
	sealed()
}

// LoginRequest is the first message a client must send.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse answers a LoginRequest. Reason is empty on success.
type LoginResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// Waiting tells a client it is queued for a match.
type Waiting struct {
	Message string `json:"message"`
}

// GameStart announces a new match and names the opponent.
type GameStart struct {
	SessionID        string `json:"sessionId"`
	OpponentUsername string `json:"opponentUsername"`
	MaxRounds        int    `json:"maxRounds"`
}

// RoundStart solicits the moves for a round.
type RoundStart struct {
	Round     int `json:"round"`
	MaxRounds int `json:"maxRounds"`
}

// Move submits a participant's choice for the current round.
type Move struct {
	PlayerID string   `json:"playerId"`
	Move     rps.Move `json:"move"`
}

// RoundResult reports an adjudicated round from the recipient's point of view.
type RoundResult struct {
	Round         int         `json:"round"`
	YourMove      rps.Move    `json:"yourMove"`
	OpponentMove  rps.Move    `json:"opponentMove"`
	Outcome       rps.Outcome `json:"outcome"`
	YourScore     int         `json:"yourScore"`
	OpponentScore int         `json:"opponentScore"`
}

// GameResult reports the final totals. Winner is empty on a tie.
type GameResult struct {
	YourScore     int         `json:"yourScore"`
	OpponentScore int         `json:"opponentScore"`
	Outcome       rps.Outcome `json:"outcome"`
	Winner        string      `json:"winner,omitempty"`
	Summary       string      `json:"summary"`
}

// OpponentDisconnected tells the remaining participant the match was aborted.
type OpponentDisconnected struct {
	DisconnectedPlayerName string `json:"disconnectedPlayerName"`
}

// PlayAgain answers the post-match prompt.
type PlayAgain struct {
	Again bool `json:"again"`
}

// Terminate is a voluntary disconnect notice.
type Terminate struct{}

// Error reports a non-fatal misuse back to the client.
type Error struct {
	Message string `json:"message"`
}

func (*LoginRequest) Type() Type         { return TypeLoginRequest }
func (*LoginResponse) Type() Type        { return TypeLoginResponse }
func (*Waiting) Type() Type              { return TypeWaiting }
func (*GameStart) Type() Type            { return TypeGameStart }
func (*RoundStart) Type() Type           { return TypeRoundStart }
func (*Move) Type() Type                 { return TypeMove }
func (*RoundResult) Type() Type          { return TypeRoundResult }
func (*GameResult) Type() Type           { return TypeGameResult }
func (*OpponentDisconnected) Type() Type { return TypeOpponentDisconnected }
func (*PlayAgain) Type() Type            { return TypePlayAgain }
func (*Terminate) Type() Type            { return TypeTerminate }
func (*Error) Type() Type                { return TypeError }

func (*LoginRequest) sealed()         {}
func (*LoginResponse) sealed()        {}
func (*Waiting) sealed()              {}
func (*GameStart) sealed()            {}
func (*RoundStart) sealed()           {}
func (*Move) sealed()                 {}
func (*RoundResult) sealed()          {}
func (*GameResult) sealed()           {}
func (*OpponentDisconnected) sealed() {}
func (*PlayAgain) sealed()            {}
func (*Terminate) sealed()            {}
func (*Error) sealed()                {}

// newMessage returns an empty message for the discriminant, or nil if t is unknown.
func newMessage(t Type) Message {
	switch t {
	case TypeLoginRequest:
		return &LoginRequest{}
	case TypeLoginResponse:
		return &LoginResponse{}
	case TypeWaiting:
		return &Waiting{}
	case TypeGameStart:
		return &GameStart{}
	case TypeRoundStart:
		return &RoundStart{}
	case TypeMove:
		return &Move{}
	case TypeRoundResult:
		return &RoundResult{}
	case TypeGameResult:
		return &GameResult{}
	case TypeOpponentDisconnected:
		return &OpponentDisconnected{}
	case TypePlayAgain:
		return &PlayAgain{}
	case TypeTerminate:
		return &Terminate{}
	case TypeError:
		return &Error{}
	}
	return nil
}

// FromClient reports whether t is a message type clients are allowed to send.
func FromClient(t Type) bool {
	switch t {
	case TypeLoginRequest, TypeMove, TypePlayAgain, TypeTerminate:
		return true
	}
	return false
}
