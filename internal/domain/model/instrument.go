package model

import (
	"errors"
	"strings"
)

// Instrument the traded symbol as shown to feeds (Display) and as known to
// the venue (VenueCode).
type Instrument struct {
	Display   string
	VenueCode string
}

// ParseInstrument accepts "SYMBOL" or "SYMBOL|VENUE_CODE".
// Without a venue code both fields are the upper-cased symbol.
func ParseInstrument(line string) (Instrument, error) {
	line = strings.TrimSpace(line)
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if line == "" {
		return Instrument{}, errors.New("instrument line is empty")
	}
	if display, venue, ok := strings.Cut(line, "|"); ok {
		display = strings.ToUpper(strings.TrimSpace(display))
		venue = strings.TrimSpace(venue)
		if display == "" || venue == "" {
			return Instrument{}, errors.New("instrument line must be SYMBOL or SYMBOL|VENUE_CODE")
		}
		return Instrument{Display: display, VenueCode: venue}, nil
	}
	sym := strings.ToUpper(line)
	return Instrument{Display: sym, VenueCode: sym}, nil
}

func (i Instrument) String() string {
	if i.VenueCode == "" || i.VenueCode == i.Display {
		return i.Display
	}
	return i.Display + "|" + i.VenueCode
}
