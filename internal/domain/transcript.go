package domain

import (
	"errors"
	"strings"
)

// ErrTranscriptNotFound is returned (wrapped) by transcript stores when the
// requested transcript does not exist.
var ErrTranscriptNotFound = errors.New("transcript not found")

// ErrInvalidTranscriptID is returned when a title sanitizes to nothing.
var ErrInvalidTranscriptID = errors.New("invalid transcript id")

const maxTranscriptIDLen = 120

// TranscriptID derives a path-safe transcript identifier from a user- or
// model-suggested title.
func TranscriptID(title string) (string, error) {
	id := strings.Map(func(r rune) rune {
		switch r {
		case '\\', '/', '*', '?', ':', '"', '<', '>', '|':
			return -1
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, title)
	id = trimID(id)
	if r := []rune(id); len(r) > maxTranscriptIDLen {
		id = trimID(string(r[:maxTranscriptIDLen]))
	}
	if id == "" {
		return "", ErrInvalidTranscriptID
	}
	return id, nil
}

// trimID strips surrounding spaces, leading dots and any number of ".json"
// suffixes until nothing changes, so TranscriptID(TranscriptID(t)) is stable.
func trimID(id string) string {
	for {
		next := strings.TrimSpace(id)
		next = strings.TrimSuffix(next, ".json")
		next = strings.TrimLeft(next, ". ")
		next = strings.TrimSpace(next)
		if next == id {
			return id
		}
		id = next
	}
}
