// Package codec decodes and encodes entity state tokens.
//
// Token layout (ASCII, '_' delimited):
//
//	category_x_y_width_height
//
// Only category, x and y are decoded. width and height are carried by the
// token and take part in whole-token equality, but are never interpreted.
//
// x and y are base-10 integers of any size. DecodePosition keeps them
// exact as big.Int; Decode and DecodeStrict narrow them to int, and a
// coordinate outside the int range is treated as a malformed token
// (ErrCoordinateRange).
package codec

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ChuLiYu/buildtrace/pkg/types"
)

// Delimiter separates token fields.
const Delimiter = "_"

// UnknownCategory is the category of the degraded sentinel.
const UnknownCategory = "unknown"

// ErrMalformedToken is returned by DecodeStrict when a token cannot be parsed.
var ErrMalformedToken = errors.New("codec: malformed state token")

// ErrCoordinateRange is returned by DecodeStrict when a coordinate parses but
// does not fit in an int. It wraps ErrMalformedToken.
var ErrCoordinateRange = fmt.Errorf("%w: coordinate out of int range", ErrMalformedToken)

// Unknown is the sentinel returned for tokens that fail to parse.
var Unknown = types.DecodedToken{Category: UnknownCategory}

// Position is the exact view of a token's category and coordinates.
type Position struct {
	Category string
	X, Y     *big.Int
}

// UnknownPosition is the Position form of Unknown.
func UnknownPosition() Position {
	return Position{Category: UnknownCategory, X: new(big.Int), Y: new(big.Int)}
}

// Decoded narrows p to a DecodedToken. ok is false when either coordinate
// does not fit in an int.
func (p Position) Decoded() (d types.DecodedToken, ok bool) {
	if !fitsInt(p.X) || !fitsInt(p.Y) {
		return Unknown, false
	}
	return types.DecodedToken{Category: p.Category, X: int(p.X.Int64()), Y: int(p.Y.Int64())}, true
}

func fitsInt(v *big.Int) bool {
	return v.IsInt64() && v.Int64() >= math.MinInt && v.Int64() <= math.MaxInt
}

// DecodePosition parses a token without narrowing its coordinates. On
// failure it returns UnknownPosition and an error wrapping ErrMalformedToken.
func DecodePosition(token types.StateToken) (Position, error) {
	parts := strings.Split(string(token), Delimiter)
	if len(parts) < 3 {
		return UnknownPosition(), fmt.Errorf("%w: %q has %d fields, want at least 3", ErrMalformedToken, token, len(parts))
	}

	x, err := parseCoordinate(parts[1])
	if err != nil {
		return UnknownPosition(), fmt.Errorf("%w: x: %v", ErrMalformedToken, err)
	}
	y, err := parseCoordinate(parts[2])
	if err != nil {
		return UnknownPosition(), fmt.Errorf("%w: y: %v", ErrMalformedToken, err)
	}

	return Position{Category: parts[0], X: x, Y: y}, nil
}

// parseCoordinate accepts an optionally signed run of ASCII digits,
// surrounding whitespace ignored.
func parseCoordinate(field string) (*big.Int, error) {
	field = strings.TrimSpace(field)
	digits := strings.TrimLeft(field, "+-")
	if digits == "" || len(field)-len(digits) > 1 {
		return nil, fmt.Errorf("%q is not an integer", field)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("%q is not an integer", field)
		}
	}
	v, ok := new(big.Int).SetString(field, 10)
	if !ok {
		return nil, fmt.Errorf("%q is not an integer", field)
	}
	return v, nil
}

// Decode parses a token. It never fails: any parse anomaly yields Unknown,
// which the classifier then treats as an entity stationary at the origin.
func Decode(token types.StateToken) types.DecodedToken {
	d, err := DecodeStrict(token)
	if err != nil {
		return Unknown
	}
	return d
}

// DecodeStrict parses a token and reports why it could not be decoded.
func DecodeStrict(token types.StateToken) (types.DecodedToken, error) {
	p, err := DecodePosition(token)
	if err != nil {
		return Unknown, err
	}
	d, ok := p.Decoded()
	if !ok {
		return Unknown, fmt.Errorf("%w: %q", ErrCoordinateRange, token)
	}
	return d, nil
}

// Encode builds a token from its five fields.
func Encode(category string, x, y, width, height int) types.StateToken {
	return types.StateToken(fmt.Sprintf("%s_%d_%d_%d_%d", category, x, y, width, height))
}
