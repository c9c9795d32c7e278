// Package atomic_clock is a lock-free last-activity timestamp, an
// atomic int64 of system clock nanoseconds. Use for time accounting
// only.
package atomic_clock

import (
	"sync/atomic"
	"time"
)

type Clock struct{ v int64 }

func source() int64 { return time.Now().UnixNano() }

func (c *Clock) get() int64 { return atomic.LoadInt64(&c.v) }

func (c *Clock) IsZero() bool    { return c.get() == 0 }
func (c *Clock) Set(v int64)     { atomic.StoreInt64(&c.v, v) }
func (c *Clock) SetNow()         { c.Set(source()) }
func (c *Clock) UnixNano() int64 { return c.get() }

// Since is the duration elapsed after the last Set/SetNow.
func Since(begin *Clock) time.Duration { return time.Duration(source() - begin.get()) }

// Source is the raw clock reading, same scale as Set.
func Source() int64 { return source() }
