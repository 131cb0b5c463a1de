package model

import "fmt"

// Position places an entity on the orbit: Level is the track number
// (0 for the center) and Angle is a rendering coordinate in degrees.
type Position struct {
	Level int
	Angle float64
}

func (p Position) String() string {
	return fmt.Sprintf("level=%d angle=%.0f", p.Level, p.Angle)
}
