// Package model defines the report types shared by the local store, the remote
// adapters, and the synchronizing repositories.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by stores when a keyed document, blob, or row
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidReport wraps validation failures from [Report.Validate].
	ErrInvalidReport = errors.New("invalid report")
)

// Kind identifies which report collection a report belongs to.
type Kind int

const (
	// KindStrayAnimal is a sighting of an animal without a known owner.
	KindStrayAnimal Kind = iota + 1
	// KindLostPet is an owner's report of a missing pet.
	KindLostPet
)

// Kinds lists every report kind in a stable order.
var Kinds = []Kind{KindStrayAnimal, KindLostPet}

// String returns the snake_case name used in paths and CLI flags.
func (k Kind) String() string {
	switch k {
	case KindStrayAnimal:
		return "stray_animal"
	case KindLostPet:
		return "lost_pet"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == KindStrayAnimal || k == KindLostPet
}

// Collection returns the remote document collection for the kind.
func (k Kind) Collection() string {
	return k.String() + "_reports"
}

// BlobPrefix returns the folder under which report photos of this kind are
// stored in the remote blob store.
func (k Kind) BlobPrefix() string {
	return k.String() + "_images/"
}

// BlobKey derives the remote blob key for a report's photo.
func (k Kind) BlobKey(uniqueID string) string {
	return k.BlobPrefix() + uniqueID
}

// ParseKind maps a CLI or config string to a Kind. Both the snake_case name
// and the short forms "stray" and "lost" are accepted.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stray_animal", "stray":
		return KindStrayAnimal, nil
	case "lost_pet", "lost", "pet":
		return KindLostPet, nil
	default:
		return 0, fmt.Errorf("unknown report kind %q (want stray_animal or lost_pet)", s)
	}
}

// Report is a single stray-animal or lost-pet report.
type Report struct {
	// ID is the local row id. Zero until the first local insert. It is never
	// sent to the remote stores.
	ID int64

	// UniqueID correlates the report across the local store, the remote
	// document store, and the remote blob store. Assigned once at creation.
	UniqueID string

	Kind Kind

	Photo Photo

	Type       string
	Name       string // lost pets only
	Colour     string
	Sex        string
	Appearance string
	// Location is the sighting location for strays and the last known
	// location for lost pets.
	Location string

	MicrochipID    string
	ContactInfo    string
	AdditionalInfo string

	// ReportedAt is assigned at creation and never changes.
	ReportedAt time.Time

	// Uploaded is true once both remote stores confirmed the current state.
	Uploaded bool

	// UserID is the account that filed the report.
	UserID string
}

// NewReport returns an empty report of the given kind with a fresh unique id,
// the creation time, and the owning user stamped on it.
func NewReport(kind Kind, userID string, now time.Time) *Report {
	return &Report{
		UniqueID:   uuid.NewString(),
		Kind:       kind,
		ReportedAt: now,
		UserID:     userID,
	}
}

// Normalize trims free-text fields and uppercases the microchip id.
func (r *Report) Normalize() {
	r.Type = strings.TrimSpace(r.Type)
	r.Name = strings.TrimSpace(r.Name)
	r.Colour = strings.TrimSpace(r.Colour)
	r.Sex = strings.TrimSpace(r.Sex)
	r.MicrochipID = NormalizeMicrochipID(r.MicrochipID)
	if r.Kind != KindLostPet {
		r.Name = ""
	}
}

// NormalizeMicrochipID is the canonical form of a microchip id as stored and
// queried.
func NormalizeMicrochipID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// Validate checks the fields required when a report is filed. Sex, microchip
// id, contact and additional information are optional.
func (r *Report) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidReport, int(r.Kind))
	}
	if r.UniqueID == "" {
		return fmt.Errorf("%w: unique id is required", ErrInvalidReport)
	}
	if r.ReportedAt.IsZero() {
		return fmt.Errorf("%w: report time is required", ErrInvalidReport)
	}

	required := []struct{ name, value string }{
		{"type", r.Type},
		{"colour", r.Colour},
		{"appearance", r.Appearance},
		{"location", r.Location},
	}
	if r.Kind == KindLostPet {
		required = append(required, struct{ name, value string }{"name", r.Name})
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidReport, f.name)
		}
	}
	return nil
}

// ContentHash returns a SHA-256 hex digest of the user-visible content of the
// report. The local id, the upload flag, and the local photo path are excluded;
// only whether a photo is attached contributes.
func (r *Report) ContentHash() string {
	h := sha256.New()
	for _, s := range []string{
		r.UniqueID,
		r.Type,
		r.Name,
		r.Colour,
		r.Sex,
		r.Appearance,
		r.Location,
		r.MicrochipID,
		r.ContactInfo,
		r.AdditionalInfo,
		FormatLocalDateTime(r.ReportedAt),
		r.UserID,
	} {
		h.Write([]byte(s))
		h.Write([]byte("|"))
	}
	_, _ = fmt.Fprintf(h, "%t", r.Photo.IsSet())
	return hex.EncodeToString(h.Sum(nil))
}

// Title is a short label for log lines and CLI output.
func (r *Report) Title() string {
	if r.Kind == KindLostPet && r.Name != "" {
		return fmt.Sprintf("%s (%s %s)", r.Name, r.Colour, r.Type)
	}
	return strings.TrimSpace(r.Colour + " " + r.Type)
}
