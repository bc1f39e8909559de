package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OperationKind names a committed pool operation.
type OperationKind string

const (
	OpInitialize OperationKind = "initialize"
	OpDeposit    OperationKind = "deposit"
	OpWithdraw   OperationKind = "withdraw"
	OpSwap       OperationKind = "swap"
)

// Direction selects the input side of a swap.
type Direction uint8

const (
	AToB Direction = iota
	BToA
)

// Valid reports whether d is one of AToB or BToA.
func (d Direction) Valid() bool {
	return d == AToB || d == BToA
}

func (d Direction) String() string {
	if d == BToA {
		return "b_to_a"
	}
	return "a_to_b"
}

// ParseDirection accepts "a_to_b"/"b_to_a" and the short forms "ab"/"ba".
func ParseDirection(input string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "a_to_b", "ab", "a2b", "":
		return AToB, nil
	case "b_to_a", "ba", "b2a":
		return BToA, nil
	default:
		return AToB, fmt.Errorf("invalid direction: %s", input)
	}
}

func (d Direction) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Direction) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDirection(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// OperationRecord is the journal entry for one committed operation. Reserve
// and share fields hold the state after the operation.
type OperationRecord struct {
	ID          string        `json:"id"`
	Kind        OperationKind `json:"kind"`
	Pool        string        `json:"pool"`
	Actor       string        `json:"actor,omitempty"`
	Direction   *Direction    `json:"direction,omitempty"`
	AmountA     uint64        `json:"amount_a,omitempty"`
	AmountB     uint64        `json:"amount_b,omitempty"`
	AmountIn    uint64        `json:"amount_in,omitempty"`
	AmountOut   uint64        `json:"amount_out,omitempty"`
	Shares      uint64        `json:"shares,omitempty"`
	ReserveA    uint64        `json:"reserve_a"`
	ReserveB    uint64        `json:"reserve_b"`
	TotalShares uint64        `json:"total_shares"`
	Timestamp   string        `json:"timestamp"`
}
