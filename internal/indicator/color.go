// Package indicator drives the presentation indicator: it reconciles
// activation state, live configuration, and config-watcher health into color
// updates against a presentation backend, reconnecting with exponential
// backoff when the backend fails.
package indicator

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"

	"git.home.luguber.info/inful/indicatord/internal/logfields"
)

// Color is an RGBA color as pushed to the presentation backend.
type Color struct {
	R, G, B, A uint8
}

// Opaque returns a fully opaque color.
func Opaque(r, g, b uint8) Color {
	return Color{R: r, G: g, B: b, A: 255}
}

// Built-in indicator colors.
var (
	ColorGreen = Opaque(0, 255, 0)
	ColorGray  = Opaque(128, 128, 128)
	ColorRed   = Opaque(255, 0, 0)
)

func (c Color) String() string {
	if c.A == 255 {
		return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
	}
	return fmt.Sprintf("#%02x%02x%02x%02x", c.R, c.G, c.B, c.A)
}

var namedColors = map[string]Color{
	"green":   ColorGreen,
	"lime":    ColorGreen,
	"gray":    ColorGray,
	"grey":    ColorGray,
	"red":     ColorRed,
	"blue":    Opaque(0, 0, 255),
	"yellow":  Opaque(255, 255, 0),
	"cyan":    Opaque(0, 255, 255),
	"magenta": Opaque(255, 0, 255),
	"white":   Opaque(255, 255, 255),
	"black":   Opaque(0, 0, 0),
	"orange":  Opaque(255, 165, 0),
	"purple":  Opaque(128, 0, 128),
	"pink":    Opaque(255, 192, 203),
}

// ParseColor parses a named color ("green") or a hex color ("#00ff00",
// "#00ff00cc" with alpha).
func ParseColor(s string) (Color, error) {
	trimmed := strings.ToLower(strings.TrimSpace(s))

	if c, ok := namedColors[trimmed]; ok {
		return c, nil
	}

	if strings.HasPrefix(trimmed, "#") {
		return parseHexColor(trimmed)
	}

	return Color{}, fmt.Errorf("unknown color %q", s)
}

func parseHexColor(s string) (Color, error) {
	digits := s[1:]
	switch len(digits) {
	case 6:
		c, err := colorful.Hex(s)
		if err != nil {
			return Color{}, fmt.Errorf("invalid hex color %q: %w", s, err)
		}
		r, g, b := c.RGB255()
		return Opaque(r, g, b), nil
	case 8:
		c, err := colorful.Hex(s[:7])
		if err != nil {
			return Color{}, fmt.Errorf("invalid hex color %q: %w", s, err)
		}
		a, err := strconv.ParseUint(digits[6:8], 16, 8)
		if err != nil {
			return Color{}, fmt.Errorf("invalid alpha in hex color %q: %w", s, err)
		}
		r, g, b := c.RGB255()
		return Color{R: r, G: g, B: b, A: uint8(a)}, nil
	default:
		return Color{}, fmt.Errorf("invalid hex color %q: want #rrggbb or #rrggbbaa", s)
	}
}

// ParseColorOr parses a color string, falling back on error. A typo in a
// config color must never block startup or a reload; it is logged and fixed
// on the next reload.
func ParseColorOr(s string, fallback Color) Color {
	c, err := ParseColor(s)
	if err != nil {
		slog.Warn("invalid indicator color, using fallback",
			logfields.Color(s), logfields.Error(err))
		return fallback
	}
	return c
}
