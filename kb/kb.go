package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/social-orbit/model"
)

var (
	// ErrPersonExists indicates a person with the same name is already known.
	ErrPersonExists = errors.New("person already exists")
	// ErrPersonNotFound indicates a requested person was not found.
	ErrPersonNotFound = errors.New("person not found")
	// ErrPersonInvalid indicates a nil person or an empty name.
	ErrPersonInvalid = errors.New("invalid person")
)

// EventType indicates what kind of change happened in the directory.
type EventType int

const (
	EventPersonAdded EventType = iota
	EventPersonRemoved
)

func (t EventType) String() string {
	switch t {
	case EventPersonAdded:
		return "added"
	case EventPersonRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is emitted to subscribers when the directory changes.
type Event struct {
	Type   EventType
	Person *model.Person
}

// Directory is an in-memory, thread-safe name table for the people placed
// in a social circle.
type Directory struct {
	mu sync.RWMutex

	people map[string]*model.Person

	subs   []subscriber
	nextID int
}

type subscriber struct {
	id int
	fn func(Event)
}

// NewDirectory constructs an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		people: make(map[string]*model.Person),
	}
}

// Add stores p under its name. It returns an error if the name is taken.
func (d *Directory) Add(p *model.Person) error {
	if p == nil || p.Name() == "" {
		return fmt.Errorf("%w", ErrPersonInvalid)
	}

	d.mu.Lock()
	if _, exists := d.people[p.Name()]; exists {
		d.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrPersonExists, p.Name())
	}
	d.people[p.Name()] = p
	subs := append([]subscriber(nil), d.subs...)
	d.mu.Unlock()

	notify(subs, Event{Type: EventPersonAdded, Person: p})
	return nil
}

// Get returns the person with the given name, or nil if not found.
func (d *Directory) Get(name string) *model.Person {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.people[name]
}

// Remove deletes the person with the given name.
func (d *Directory) Remove(name string) error {
	d.mu.Lock()
	p, ok := d.people[name]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrPersonNotFound, name)
	}
	delete(d.people, name)
	subs := append([]subscriber(nil), d.subs...)
	d.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	notify(subs, Event{Type: EventPersonRemoved, Person: p})
	return nil
}

// Names returns a sorted snapshot of all known names.
func (d *Directory) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, 0, len(d.people))
	for name := range d.people {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of known people.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.people)
}

// Subscribe registers a callback for directory events. It returns an
// unsubscribe function.
func (d *Directory) Subscribe(fn func(Event)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.subs = append(d.subs, subscriber{id: id, fn: fn})

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, s := range d.subs {
			if s.id == id {
				d.subs = append(d.subs[:i], d.subs[i+1:]...)
				return
			}
		}
	}
}

func notify(subs []subscriber, ev Event) {
	for _, sub := range subs {
		sub.fn(ev)
	}
}
