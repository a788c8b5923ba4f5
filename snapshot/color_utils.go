package snapshot

import (
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"
)

var namedColors = map[string]color.NRGBA{
	"black":   {0, 0, 0, 255},
	"white":   {255, 255, 255, 255},
	"red":     {255, 0, 0, 255},
	"green":   {0, 128, 0, 255},
	"blue":    {0, 0, 255, 255},
	"yellow":  {255, 255, 0, 255},
	"gray":    {128, 128, 128, 255},
	"grey":    {128, 128, 128, 255},
	"silver":  {192, 192, 192, 255},
	"maroon":  {128, 0, 0, 255},
	"purple":  {128, 0, 128, 255},
	"fuchsia": {255, 0, 255, 255},
	"lime":    {0, 255, 0, 255},
	"olive":   {128, 128, 0, 255},
	"navy":    {0, 0, 128, 255},
	"teal":    {0, 128, 128, 255},
	"aqua":    {0, 255, 255, 255},
	"orange":  {255, 165, 0, 255},
}

func colorHex(c color.NRGBA) string {
	if c.A == 255 {
		return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
	}
	return fmt.Sprintf("#%02x%02x%02x%02x", c.R, c.G, c.B, c.A)
}

func parseHexColor(value string) (color.NRGBA, bool) {
	hex := strings.TrimPrefix(strings.TrimSpace(value), "#")
	switch len(hex) {
	case 3, 4:
		exp := make([]byte, 0, 8)
		for i := 0; i < len(hex); i++ {
			exp = append(exp, hex[i], hex[i])
		}
		hex = string(exp)
	case 6, 8:
	default:
		return color.NRGBA{}, false
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, false
	}
	if len(hex) == 6 {
		return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, true
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, true
}

// ParseColor parses a CSS color: #rgb, #rgba, #rrggbb, #rrggbbaa, rgb(),
// rgba(), a basic named color, or transparent.
func ParseColor(input string) (color.NRGBA, bool) {
	s := strings.TrimSpace(strings.ToLower(input))
	switch {
	case s == "":
		return color.NRGBA{}, false
	case s == "transparent":
		return color.NRGBA{}, true
	case strings.HasPrefix(s, "#"):
		return parseHexColor(s)
	case strings.HasPrefix(s, "rgb(") || strings.HasPrefix(s, "rgba("):
		return parseRGBFunctional(s)
	}
	c, ok := namedColors[s]
	return c, ok
}

func parseRGBFunctional(expr string) (color.NRGBA, bool) {
	open := strings.IndexByte(expr, '(')
	close := strings.LastIndexByte(expr, ')')
	if open < 0 || close <= open+1 {
		return color.NRGBA{}, false
	}
	body := strings.ReplaceAll(expr[open+1:close], "/", " ")
	var parts []string
	if strings.Contains(body, ",") {
		parts = strings.Split(body, ",")
	} else {
		parts = strings.Fields(body)
	}
	if len(parts) < 3 {
		return color.NRGBA{}, false
	}
	toByte := func(component string) uint8 {
		component = strings.TrimSpace(component)
		if strings.HasSuffix(component, "%") {
			v, err := strconv.ParseFloat(strings.TrimSuffix(component, "%"), 64)
			if err != nil {
				return 0
			}
			return uint8(math.Round(clamp01(v/100) * 255))
		}
		v, err := strconv.ParseFloat(component, 64)
		if err != nil {
			return 0
		}
		return uint8(math.Round(math.Max(0, math.Min(255, v))))
	}
	c := color.NRGBA{R: toByte(parts[0]), G: toByte(parts[1]), B: toByte(parts[2]), A: 255}
	if len(parts) > 3 {
		a := strings.TrimSpace(parts[3])
		if strings.HasSuffix(a, "%") {
			v, err := strconv.ParseFloat(strings.TrimSuffix(a, "%"), 64)
			if err == nil {
				c.A = uint8(math.Round(clamp01(v/100) * 255))
			}
		} else if v, err := strconv.ParseFloat(a, 64); err == nil {
			c.A = uint8(math.Round(clamp01(v) * 255))
		}
	}
	return c, true
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// cssToHex normalizes a CSS color to hex notation, "" when it cannot be parsed.
func cssToHex(v string) string {
	c, ok := ParseColor(v)
	if !ok {
		return ""
	}
	return colorHex(c)
}
