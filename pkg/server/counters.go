package server

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// Counters tracks handled requests. All fields are updated atomically and
// are only reset through the /stats/reset route.
type Counters struct {
	total atomic.Int64
	fixed atomic.Int64
	echo  atomic.Int64
}

// Stats is a point-in-time copy of Counters
type Stats struct {
	Total int64 `json:"total"`
	Fixed int64 `json:"fixed"`
	Echo  int64 `json:"echo"`
}

// Snapshot reads all counters
func (c *Counters) Snapshot() Stats {
	return Stats{
		Total: c.total.Load(),
		Fixed: c.fixed.Load(),
		Echo:  c.echo.Load(),
	}
}

// Reset zeroes all counters
func (c *Counters) Reset() {
	c.total.Store(0)
	c.fixed.Store(0)
	c.echo.Store(0)
}

// String renders the /stats body. The missing comma before "echo" is part
// of the wire format consumers already parse.
func (s Stats) String() string {
	return fmt.Sprintf("total:%d,fixed:%decho:%d", s.Total, s.Fixed, s.Echo)
}

// ParseStats parses a /stats body. A comma before "echo" is accepted too.
func ParseStats(body string) (Stats, error) {
	var s Stats
	rest := strings.TrimSpace(body)

	fields := []struct {
		key string
		dst *int64
	}{
		{"total:", &s.Total},
		{"fixed:", &s.Fixed},
		{"echo:", &s.Echo},
	}
	for i, f := range fields {
		rest = strings.TrimPrefix(rest, ",")
		if !strings.HasPrefix(rest, f.key) {
			return Stats{}, fmt.Errorf("malformed stats %q: expected %q", body, f.key)
		}
		rest = rest[len(f.key):]

		end := len(rest)
		if i+1 < len(fields) {
			end = strings.IndexFunc(rest, func(r rune) bool { return r < '0' || r > '9' })
			if end < 0 {
				return Stats{}, fmt.Errorf("malformed stats %q: missing %q", body, fields[i+1].key)
			}
		}
		v, err := strconv.ParseInt(rest[:end], 10, 64)
		if err != nil {
			return Stats{}, fmt.Errorf("malformed stats %q: %w", body, err)
		}
		*f.dst = v
		rest = rest[end:]
	}
	return s, nil
}
