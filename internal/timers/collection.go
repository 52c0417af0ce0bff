package timers

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/timepulse/timepulse/internal/holiday"
	"github.com/timepulse/timepulse/internal/localstore"
)

var (
	// ErrNotFound is returned for an id that is not in the collection.
	ErrNotFound = errors.New("timer not found")
)

// Collection is the ordered timer list plus the active selection.
// It is not safe for concurrent use.
type Collection struct {
	timers []Record
	active string

	now   func() time.Time
	newID func() string
}

// Option configures a Collection.
type Option func(*Collection)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Collection) { c.now = now }
}

// WithIDGenerator overrides the UUIDv4 generator.
func WithIDGenerator(f func() string) Option {
	return func(c *Collection) { c.newID = f }
}

func newCollection(opts []Option) *Collection {
	c := &Collection{
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Load reads the collection from store. Absent or malformed timers yield an
// empty list, which is then seeded with the default countdown. An invalid
// selection falls back to the first record.
func Load(store localstore.Store, opts ...Option) *Collection {
	c := newCollection(opts)
	if raw, ok := store.Get(localstore.KeyTimers); ok && raw != "" {
		var list []Record
		if err := json.Unmarshal([]byte(raw), &list); err == nil {
			c.timers = list
		}
	}
	active, _ := store.Get(localstore.KeyActiveTimer)
	c.setSelection(active)
	return c
}

// New returns a collection holding snap, applying the same fallbacks as Load.
func New(snap Snapshot, opts ...Option) *Collection {
	c := newCollection(opts)
	c.timers = append([]Record(nil), snap.Timers...)
	c.setSelection(snap.ActiveTimerID)
	return c
}

func (c *Collection) setSelection(id string) {
	if len(c.timers) == 0 {
		d := c.makeDefault()
		c.timers = []Record{d}
		c.active = d.ID
		return
	}
	if c.index(id) >= 0 {
		c.active = id
		return
	}
	c.active = c.timers[0].ID
}

// makeDefault builds the auto-generated countdown to the next holiday.
func (c *Collection) makeDefault() Record {
	now := c.now()
	h := holiday.Next(now)
	target := h.Date
	return Record{
		ID:              DefaultID,
		Name:            h.Name,
		Type:            Countdown,
		Color:           h.Color,
		CreatedAt:       now,
		IsAutoGenerated: true,
		TargetDate:      &target,
		Timezone:        time.Local.String(),
	}
}

func (c *Collection) index(id string) int {
	if id == "" {
		return -1
	}
	for i := range c.timers {
		if c.timers[i].ID == id {
			return i
		}
	}
	return -1
}

// Len returns the number of records.
func (c *Collection) Len() int {
	return len(c.timers)
}

// Timers returns a copy of the records in order.
func (c *Collection) Timers() []Record {
	return append([]Record(nil), c.timers...)
}

// Get returns the record with id.
func (c *Collection) Get(id string) (Record, bool) {
	if i := c.index(id); i >= 0 {
		return c.timers[i], true
	}
	return Record{}, false
}

// ActiveID returns the selected id.
func (c *Collection) ActiveID() string {
	return c.active
}

// Active returns the selected record.
func (c *Collection) Active() (Record, bool) {
	return c.Get(c.active)
}

// Snapshot returns the whole document.
func (c *Collection) Snapshot() Snapshot {
	return Snapshot{Timers: c.Timers(), ActiveTimerID: c.active}
}

// Replace swaps in snap wholesale. An invalid selection falls back to the
// first record of snap.
func (c *Collection) Replace(snap Snapshot) {
	c.timers = append([]Record(nil), snap.Timers...)
	c.setSelection(snap.ActiveTimerID)
}

// Add fills id, createdAt and type when absent, upserts by id and selects the
// record. IsAutoGenerated survives only when explicitly set, in which case any
// other auto-generated record is demoted.
func (c *Collection) Add(r Record) Record {
	if r.ID == "" {
		r.ID = c.newID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = c.now()
	}
	if r.Type == "" {
		r.Type = Countdown
	}
	if r.IsAutoGenerated {
		for i := range c.timers {
			if c.timers[i].ID != r.ID {
				c.timers[i].IsAutoGenerated = false
			}
		}
	}
	if i := c.index(r.ID); i >= 0 {
		c.timers[i] = r
	} else {
		c.timers = append(c.timers, r)
	}
	c.active = r.ID
	return r
}

// Update applies patch to the record with id.
func (c *Collection) Update(id string, patch Patch) (Record, error) {
	i := c.index(id)
	if i < 0 {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	patch.apply(&c.timers[i])
	return c.timers[i], nil
}

// Delete removes the record with id. Deleting the active record selects the
// first remaining one; deleting the last record seeds a fresh default.
func (c *Collection) Delete(id string) (Record, error) {
	i := c.index(id)
	if i < 0 {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	removed := c.timers[i]
	c.timers = append(c.timers[:i:i], c.timers[i+1:]...)
	switch {
	case len(c.timers) == 0:
		d := c.makeDefault()
		c.timers = []Record{d}
		c.active = d.ID
	case id == c.active:
		c.active = c.timers[0].ID
	}
	return removed, nil
}

// Select makes id the active record.
func (c *Collection) Select(id string) error {
	if c.index(id) < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c.active = id
	return nil
}

// RefreshDefault replaces an elapsed auto-generated countdown with a new one
// placed first, moving the selection if it pointed at the old record. It
// reports whether a replacement happened.
func (c *Collection) RefreshDefault() bool {
	now := c.now()
	for i, r := range c.timers {
		if !r.IsAutoGenerated {
			continue
		}
		if r.TargetDate != nil && r.TargetDate.After(now) {
			return false
		}
		rest := append(append([]Record(nil), c.timers[:i]...), c.timers[i+1:]...)
		d := c.makeDefault()
		c.timers = append([]Record{d}, rest...)
		if c.active == r.ID {
			c.active = d.ID
		}
		return true
	}
	return false
}

// Countdowns returns every countdown record.
func (c *Collection) Countdowns() []Record {
	var out []Record
	for _, r := range c.timers {
		if r.IsCountdown() {
			out = append(out, r)
		}
	}
	return out
}

// Save persists the collection and selection in one write.
func (c *Collection) Save(store localstore.Store) error {
	b, err := json.Marshal(c.timers)
	if err != nil {
		return fmt.Errorf("failed to encode timers: %w", err)
	}
	return store.SetMany(map[string]string{
		localstore.KeyTimers:      string(b),
		localstore.KeyActiveTimer: c.active,
	})
}
