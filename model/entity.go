package model

// Handle is the stable identifier the orbit assigns to every placed entity.
// Relation and track bookkeeping is keyed by Handle, never by entity value.
type Handle uint64

// Entity is anything that can be placed in an orbit. The orbit compares
// entities by value, so pointer types give identity semantics; Name is only
// used when presenting relation maps to callers.
type Entity interface {
	comparable
	Name() string
}
