// Package pagination implements the opaque page tokens handed out by the
// listing tools.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidCursor wraps every token that cannot be decoded or fails checks.
var ErrInvalidCursor = errors.New("cursor: invalid")

// Unit is what a cursor offset counts.
type Unit string

const (
	UnitNodes   Unit = "nodes"
	UnitEntries Unit = "entries"
)

const schemaVersion = 1

// Cursor is the decoded token. Keys are kept to a few letters since the token
// travels in every paged response.
//
//	did  dataset id
//	ver  naming version of the dataset when the page was cut
//	u    unit of off and ps
//	off  offset of the next page
//	ps   page size
//	iat  issued at, unix seconds
//	per  period filter, so a cursor alone can resume the listing
type Cursor struct {
	V   int      `json:"v"`
	Did string   `json:"did"`
	Ver int64    `json:"ver"`
	U   Unit     `json:"u"`
	Off int      `json:"off"`
	Ps  int      `json:"ps"`
	Iat int64    `json:"iat"`
	Per []string `json:"per,omitempty"`
}

// EncodeCursor fills defaults, checks c and returns it as unpadded URL-safe
// base64 of its JSON form.
func EncodeCursor(c Cursor) (string, error) {
	if err := c.check(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("cursor: encode: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeCursor reverses EncodeCursor. All failures wrap ErrInvalidCursor.
func DecodeCursor(token string) (*Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidCursor)
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	c := new(Cursor)
	if err := json.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if err := c.check(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cursor) check() error {
	if c.V <= 0 {
		c.V = schemaVersion
	}
	if c.Iat == 0 {
		c.Iat = time.Now().Unix()
	}
	c.Ver = max(c.Ver, 0)

	var problem string
	switch {
	case strings.TrimSpace(c.Did) == "":
		problem = "missing dataset id"
	case c.U != UnitNodes && c.U != UnitEntries:
		problem = fmt.Sprintf("unknown unit %q", c.U)
	case c.Off < 0:
		problem = "negative offset"
	case c.Ps <= 0:
		problem = "page size must be positive"
	default:
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidCursor, problem)
}

// NextOffset is curr advanced by the n units just returned.
func NextOffset(curr, n int) int {
	return max(curr, 0) + max(n, 0)
}

// Window clamps [off, off+ps) to total items and reports whether more follow.
// A non-positive ps selects everything from off.
func Window(total, off, ps int) (start, end int, more bool) {
	start = min(max(off, 0), total)
	end = total
	if ps > 0 && start+ps < total {
		end = start + ps
	}
	return start, end, end < total
}
