package models

import (
	"fmt"
	"strings"
)

type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case Buy, Sell:
		return d, nil
	default:
		return "", fmt.Errorf("invalid direction %q", s)
	}
}
