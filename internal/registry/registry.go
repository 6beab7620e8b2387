// Package registry keeps the last known state of every device the bridge has
// registered since startup. Nothing is persisted; a restart rebuilds it from a scan.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"warema-bridge/internal/profile"
)

// ErrNotRegistered is returned when an update references an unknown serial.
var ErrNotRegistered = errors.New("device not registered")

// Record is a snapshot of one registered device.
type Record struct {
	Serial   string           `json:"snr"`
	Type     profile.TypeCode `json:"type"`
	Position *int             `json:"position,omitempty"` // 0-100, nil until first report
	Tilt     *int             `json:"tilt,omitempty"`     // -100..100, nil until first report
	Ignored  bool             `json:"ignored"`
	Seen     time.Time        `json:"last_seen"`
}

// Registry maps serial numbers to records. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Record
	now     func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		devices: make(map[string]*Record),
		now:     time.Now,
	}
}

// Upsert creates a record for serial if none exists and returns the current
// snapshot. An existing record keeps its position and tilt.
func (r *Registry) Upsert(serial string, code profile.TypeCode) Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.devices[serial]
	if !ok {
		rec = &Record{Serial: serial, Type: code, Seen: r.now()}
		r.devices[serial] = rec
	}
	return rec.clone()
}

// MarkIgnored records serial as an ignored network member. Ignored records
// show up in List but are not counted by Len and reject state updates.
func (r *Registry) MarkIgnored(serial string, code profile.TypeCode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.devices[serial]
	if !ok {
		rec = &Record{Serial: serial, Type: code, Seen: r.now()}
		r.devices[serial] = rec
	}
	rec.Ignored = true
}

// Get returns a snapshot of the record for serial.
func (r *Registry) Get(serial string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.devices[serial]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// SetPosition stores the last reported position.
func (r *Registry) SetPosition(serial string, position int) error {
	return r.update(serial, func(rec *Record) { rec.Position = &position })
}

// SetTilt stores the last reported tilt angle.
func (r *Registry) SetTilt(serial string, tilt int) error {
	return r.update(serial, func(rec *Record) { rec.Tilt = &tilt })
}

func (r *Registry) update(serial string, fn func(rec *Record)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.devices[serial]
	if !ok || rec.Ignored {
		return fmt.Errorf("%w: %s", ErrNotRegistered, serial)
	}
	fn(rec)
	rec.Seen = r.now()
	return nil
}

// List returns snapshots of all records ordered by serial.
func (r *Registry) List() []Record {
	r.mu.RLock()
	list := make([]Record, 0, len(r.devices))
	for _, rec := range r.devices {
		list = append(list, rec.clone())
	}
	r.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].Serial < list[j].Serial })
	return list
}

// Len returns the number of registered devices. Ignored records are not counted.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rec := range r.devices {
		if !rec.Ignored {
			n++
		}
	}
	return n
}

// IsIgnored reports whether serial appears in the operator ignore list.
func IsIgnored(serial string, ignore map[string]struct{}) bool {
	_, ok := ignore[serial]
	return ok
}

func (rec *Record) clone() Record {
	c := *rec
	if rec.Position != nil {
		p := *rec.Position
		c.Position = &p
	}
	if rec.Tilt != nil {
		t := *rec.Tilt
		c.Tilt = &t
	}
	return c
}
