// Package rps defines the rock-paper-scissors move set and the adjudication rule.
package rps

import (
	"fmt"
	"strings"
)

// Move is a participant's choice for a round.
//
// Invariant: MoveNone is an internal sentinel for "not yet chosen" and is never
// accepted as input.
type Move int

const (
	MoveNone Move = iota
	Rock
	Paper
	Scissors
)

// Moves lists every legal move.
var Moves = []Move{Rock, Paper, Scissors}

var moveNames = [...]string{
	MoveNone: "NONE",
	Rock:     "ROCK",
	Paper:    "PAPER",
	Scissors: "SCISSORS",
}

// String returns the wire name of the move.
func (m Move) String() string {
	if m < MoveNone || int(m) >= len(moveNames) {
		return fmt.Sprintf("Move(%d)", int(m))
	}
	return moveNames[m]
}

// Valid reports whether m is one of ROCK, PAPER or SCISSORS.
func (m Move) Valid() bool {
	return m == Rock || m == Paper || m == Scissors
}

// ParseMove converts a wire name into a Move. Matching is case-insensitive.
//
// Postcondition: Returns a valid Move, or an error for NONE and unknown names.
func ParseMove(s string) (Move, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ROCK":
		return Rock, nil
	case "PAPER":
		return Paper, nil
	case "SCISSORS":
		return Scissors, nil
	}
	return MoveNone, fmt.Errorf("invalid move %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Move) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("cannot encode move %s", m)
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Move) UnmarshalText(text []byte) error {
	parsed, err := ParseMove(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Outcome is the result of a round from one participant's point of view.
type Outcome int

const (
	Draw Outcome = iota
	Win
	Lose
)

var outcomeNames = [...]string{
	Draw: "DRAW",
	Win:  "WIN",
	Lose: "LOSE",
}

// String returns the wire name of the outcome.
func (o Outcome) String() string {
	if o < Draw || int(o) >= len(outcomeNames) {
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
	return outcomeNames[o]
}

// Opposite returns the outcome seen by the other participant.
func (o Outcome) Opposite() Outcome {
	switch o {
	case Win:
		return Lose
	case Lose:
		return Win
	}
	return Draw
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	if o < Draw || o > Lose {
		return nil, fmt.Errorf("cannot encode outcome %d", int(o))
	}
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outcome) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "DRAW":
		*o = Draw
	case "WIN":
		*o = Win
	case "LOSE":
		*o = Lose
	default:
		return fmt.Errorf("invalid outcome %q", text)
	}
	return nil
}

// outcomes maps (a - b) mod 3 to a's outcome. Rock, Paper and Scissors are
// consecutive, and each move beats its predecessor cyclically.
var outcomes = [3]Outcome{Draw, Win, Lose}

// Adjudicate returns a's outcome against b.
//
// Precondition: a and b must be valid moves. Panics otherwise.
// Postcondition: Adjudicate(a, b) == Adjudicate(b, a).Opposite().
func Adjudicate(a, b Move) Outcome {
	if !a.Valid() || !b.Valid() {
		panic(fmt.Sprintf("rps: Adjudicate called with %s vs %s", a, b))
	}
	return outcomes[(int(a)-int(b)+3)%3]
}
