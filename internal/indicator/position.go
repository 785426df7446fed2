package indicator

import (
	"fmt"
	"log/slog"
	"strings"

	"git.home.luguber.info/inful/indicatord/internal/logfields"
)

// Position is a screen corner the indicator is anchored to.
type Position int

const (
	TopRight Position = iota
	TopLeft
	BottomRight
	BottomLeft
)

func (p Position) String() string {
	switch p {
	case TopLeft:
		return "top-left"
	case TopRight:
		return "top-right"
	case BottomLeft:
		return "bottom-left"
	case BottomRight:
		return "bottom-right"
	default:
		return fmt.Sprintf("position(%d)", int(p))
	}
}

// ParsePosition parses a corner name like "top-right".
func ParsePosition(s string) (Position, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "top-left":
		return TopLeft, nil
	case "top-right":
		return TopRight, nil
	case "bottom-left":
		return BottomLeft, nil
	case "bottom-right":
		return BottomRight, nil
	default:
		return TopRight, fmt.Errorf("invalid position %q: want top-left, top-right, bottom-left or bottom-right", s)
	}
}

// ParsePositionOr parses a position string, falling back on error.
func ParsePositionOr(s string, fallback Position) Position {
	p, err := ParsePosition(s)
	if err != nil {
		slog.Warn("invalid indicator position, using fallback",
			logfields.Position(fallback.String()), logfields.Error(err))
		return fallback
	}
	return p
}
