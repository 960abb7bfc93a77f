package limit

import (
	"time"
)

// Options is display metadata attached to a record. It has no effect on
// quota accounting.
type Options struct {
	BackgroundColor string `json:"backgroundColor,omitempty"`
}

func (o *Options) clone() *Options {
	if o == nil {
		return nil
	}
	c := *o
	return &c
}

// Key identifies a quota pool.
type Key struct {
	Resource string
	Type     string
}

func (k Key) String() string {
	return k.Resource + "/" + k.Type
}

// Record is the persisted state of one quota pool.
type Record struct {
	Resource  string    `json:"resource"`
	Type      string    `json:"type"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	ResetTime time.Time `json:"resetTime"`
	Options   *Options  `json:"options,omitempty"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Key returns the record's key.
func (r *Record) Key() Key {
	return Key{Resource: r.Resource, Type: r.Type}
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Options = r.Options.clone()
	return &c
}

// normalize clamps remaining into [0, limit].
func (r *Record) normalize() {
	if r.Limit < 0 {
		r.Limit = 0
	}
	if r.Remaining > r.Limit {
		r.Remaining = r.Limit
	}
	if r.Remaining < 0 {
		r.Remaining = 0
	}
}

// Filter selects records in Store.List. Zero fields match everything.
type Filter struct {
	Resource string
}

func (f Filter) matches(r *Record) bool {
	return f.Resource == "" || f.Resource == r.Resource
}

// Status is the verbatim quota state of a pool.
type Status struct {
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	ResetTime time.Time `json:"resetTime"`
}

// ResetWait describes how long until a pool's reset time.
type ResetWait struct {
	// Due is true when the reset time has already passed.
	Due bool `json:"due"`

	// Hours is the remaining wait rounded up to whole hours, zero when Due.
	Hours int64 `json:"hours"`

	ResetTime time.Time `json:"resetTime"`
}

// ceilHours rounds d up to whole hours.
func ceilHours(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	hours := int64(d / time.Hour)
	if d%time.Hour != 0 {
		hours++
	}
	return hours
}
