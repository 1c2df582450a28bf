package format

import (
	"math"

	"github.com/crystal-mush/mushchat/pkg/chatdb"
)

// Params tune distance obscuring.
type Params struct {
	MaxFadeDistance  float64 `yaml:"max_fade_distance"`
	Exponent         float64 `yaml:"exponent"`
	MaxObscure       float64 `yaml:"max_obscure_percentage"`
	Placeholder      string  `yaml:"placeholder"`
	PlaceholderColor string  `yaml:"placeholder_color"`
}

// DefaultParams returns the canonical obscuring constants.
func DefaultParams() Params {
	return Params{
		MaxFadeDistance:  30,
		Exponent:         2.0,
		MaxObscure:       0.6,
		Placeholder:      ".",
		PlaceholderColor: "&8",
	}
}

// ObscurePercentage returns the per-character replacement probability for a
// recipient d blocks away from a message with the given range.
func ObscurePercentage(d float64, rng int, p Params) float64 {
	over := d - float64(rng)
	if over <= 0 {
		return 0
	}
	ratio := 1.0
	if p.MaxFadeDistance > 0 {
		ratio = math.Min(over/p.MaxFadeDistance, 1)
	}
	return p.MaxObscure * math.Pow(ratio, p.Exponent)
}

// obscure rebuilds body character by character, replacing each with the
// placeholder with probability pct. Kept characters take the body style.
func obscure(body chatdb.Message, pct float64, keep, placeholder chatdb.Segment, glyph string, rnd func() float64) chatdb.Message {
	var out chatdb.Message
	var run []rune
	runStyle := keep
	flush := func() {
		if len(run) == 0 {
			return
		}
		seg := runStyle
		seg.Text = string(run)
		out.Append(seg)
		run = run[:0]
	}
	for _, r := range body.Plain() {
		style, text := keep, []rune(string(r))
		if rnd() < pct {
			style, text = placeholder, []rune(glyph)
		}
		if style != runStyle {
			flush()
			runStyle = style
		}
		run = append(run, text...)
	}
	flush()
	return out
}
