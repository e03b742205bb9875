package model

import (
	"fmt"
	"strings"
)

// Document is the wire form of a report in the remote document store. The
// field names are shared by the Firestore and MongoDB adapters. The local row
// id is deliberately absent.
type Document struct {
	UniqueID       string `firestore:"reportUniqueId" bson:"_id" json:"reportUniqueId"`
	Type           string `firestore:"type" bson:"type" json:"type"`
	Name           string `firestore:"name,omitempty" bson:"name,omitempty" json:"name,omitempty"`
	Colour         string `firestore:"colour" bson:"colour" json:"colour"`
	Sex            string `firestore:"sex" bson:"sex" json:"sex"`
	Appearance     string `firestore:"appearanceDescription" bson:"appearanceDescription" json:"appearanceDescription"`
	Location       string `firestore:"location" bson:"location" json:"location"`
	MicrochipID    string `firestore:"microchipId" bson:"microchipId" json:"microchipId"`
	ContactInfo    string `firestore:"contactInformation" bson:"contactInformation" json:"contactInformation"`
	AdditionalInfo string `firestore:"additionalInformation" bson:"additionalInformation" json:"additionalInformation"`
	ReportDateTime string `firestore:"reportDateTime" bson:"reportDateTime" json:"reportDateTime"`
	MadeByUserID   string `firestore:"madeByUserId" bson:"madeByUserId" json:"madeByUserId"`

	// HasPhoto tells pullers whether a blob exists under the report's key.
	HasPhoto bool `firestore:"hasPhoto" bson:"hasPhoto" json:"hasPhoto"`

	// PhotoPath is only read from documents written by older clients, which
	// stored a device path or the "none" sentinel instead of HasPhoto.
	PhotoPath string `firestore:"photoPath,omitempty" bson:"photoPath,omitempty" json:"photoPath,omitempty"`
}

// DocumentFromReport builds the remote document for r.
func DocumentFromReport(r *Report) Document {
	doc := Document{
		UniqueID:       r.UniqueID,
		Type:           r.Type,
		Colour:         r.Colour,
		Sex:            r.Sex,
		Appearance:     r.Appearance,
		Location:       r.Location,
		MicrochipID:    r.MicrochipID,
		ContactInfo:    r.ContactInfo,
		AdditionalInfo: r.AdditionalInfo,
		ReportDateTime: FormatLocalDateTime(r.ReportedAt),
		MadeByUserID:   r.UserID,
		HasPhoto:       r.Photo.IsSet(),
	}
	if r.Kind == KindLostPet {
		doc.Name = r.Name
	}
	return doc
}

// Report decodes the document into a report of the given kind. The returned
// report has no local id and no local photo; the caller fills those in.
func (d Document) Report(kind Kind) (*Report, error) {
	if strings.TrimSpace(d.UniqueID) == "" {
		return nil, fmt.Errorf("%w: document has no report unique id", ErrInvalidReport)
	}
	reportedAt, err := ParseLocalDateTime(d.ReportDateTime)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", d.UniqueID, err)
	}

	r := &Report{
		UniqueID:       d.UniqueID,
		Kind:           kind,
		Type:           d.Type,
		Name:           d.Name,
		Colour:         d.Colour,
		Sex:            d.Sex,
		Appearance:     d.Appearance,
		Location:       d.Location,
		MicrochipID:    d.MicrochipID,
		ContactInfo:    d.ContactInfo,
		AdditionalInfo: d.AdditionalInfo,
		ReportedAt:     reportedAt,
		UserID:         d.MadeByUserID,
	}
	r.Normalize()
	return r, nil
}

// WantsPhoto reports whether a blob should be fetched for this document.
func (d Document) WantsPhoto() bool {
	return d.HasPhoto || ParsePhoto(d.PhotoPath).IsSet()
}
