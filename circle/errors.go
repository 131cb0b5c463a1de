package circle

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/social-orbit/core"
	"github.com/signalsfoundry/social-orbit/kb"
)

var (
	// ErrPersonNotFound is returned when a name is not on the circle, or a
	// relation starts from someone who was never placed.
	ErrPersonNotFound = kb.ErrPersonNotFound
	// ErrInvalidTrack is returned for track declaration or placement mistakes.
	ErrInvalidTrack = errors.New("invalid track")
	// ErrNoCenter is returned by operations that need a center user.
	ErrNoCenter = errors.New("circle has no center user")
)

// Translate maps orbit errors onto circle errors. The original error stays
// in the chain so callers can match either.
func Translate(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrPersonNotFound),
		errors.Is(err, ErrInvalidTrack),
		errors.Is(err, ErrNoCenter):
		return err

	case errors.Is(err, core.ErrUnknownEntity),
		errors.Is(err, core.ErrUnknownSource):
		return fmt.Errorf("%w: %w", ErrPersonNotFound, err)

	case errors.Is(err, core.ErrNoSuchTrack),
		errors.Is(err, core.ErrTrackExists),
		errors.Is(err, core.ErrInvalidLevel):
		return fmt.Errorf("%w: %w", ErrInvalidTrack, err)

	default:
		return err
	}
}

func notFound(name string) error {
	return fmt.Errorf("%w: %q", ErrPersonNotFound, name)
}
