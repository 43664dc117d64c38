// Package export turns book BBO changes into stamped records and writes them
// to files and downstream publishers.
package export

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/cfebook/internal/feed"
)

// Clock tracks feed time. The date comes from the midnight reference, the
// time of day from the last Time message and the nanoseconds from the offset
// of the message being applied.
type Clock struct {
	midnight uint32
	date     string
	seconds  uint32
	offset   uint32
}

// Update moves the clock to cur.
func (c *Clock) Update(cur feed.Cursor) {
	if cur.Midnight != 0 && cur.Midnight != c.midnight {
		c.midnight = cur.Midnight
		c.date = time.Unix(int64(cur.Midnight), 0).UTC().Format(time.DateOnly)
	}
	c.seconds = cur.Seconds
	c.offset = cur.Offset
}

// Date returns the midnight reference date as YYYY-MM-DD, or "" before the
// first TimeReference.
func (c *Clock) Date() string { return c.date }

// Stamp formats the current feed time as YYYY-MM-DD HH:MM:SS.nnnnnnnnn.
func (c *Clock) Stamp() string {
	h := c.seconds / 3600
	m := (c.seconds % 3600) / 60
	s := c.seconds % 60
	return fmt.Sprintf("%s %02d:%02d:%02d.%09d", c.date, h, m, s, c.offset)
}

// Time returns the current feed time in UTC. It is the zero time before the
// first TimeReference.
func (c *Clock) Time() time.Time {
	if c.midnight == 0 {
		return time.Time{}
	}
	return time.Unix(int64(c.midnight), 0).UTC().
		Add(time.Duration(c.seconds)*time.Second + time.Duration(c.offset))
}
