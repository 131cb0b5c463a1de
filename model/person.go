package model

// Sex codes used by Person.
const (
	SexMale   = 'M'
	SexFemale = 'F'
)

// Person is a participant of a social network circle.
type Person struct {
	name string

	Age int
	Sex rune
}

// NewPerson constructs a person. Name uniqueness is the caller's concern.
func NewPerson(name string, age int, sex rune) *Person {
	return &Person{name: name, Age: age, Sex: sex}
}

// Name returns the person's identifier.
func (p *Person) Name() string {
	if p == nil {
		return ""
	}
	return p.name
}
