package watcher

import (
	"strings"

	"github.com/alanmeadows/mrwatch/internal/config"
	"github.com/alanmeadows/mrwatch/internal/provider"
	"github.com/alanmeadows/mrwatch/internal/store"
)

// Detection is the result of scanning one MR's notes against its record.
type Detection struct {
	// Events are the CI notes not yet processed, in note order.
	Events []provider.Note
	// LastSeen is the updated watermark. It is never behind the record's.
	LastSeen store.Watermark
	// LastNote is the body of the latest CI note seen, or the prior value
	// when the MR has none.
	LastNote string
}

// IsCIAuthor reports whether author contains the CI marker. The match is a
// case-sensitive substring test.
func IsCIAuthor(author, marker string) bool {
	return marker != "" && strings.Contains(author, marker)
}

// Detect scans notes (ascending creation order) and returns the CI notes newer
// than rec's watermark.
//
// In sequential mode each note is compared against the watermark as it
// advances, so a CI note that is not newer than an earlier one in the same list
// is skipped. In snapshot mode every note is compared against rec.LastSeen and
// the new watermark is the newest emitted note.
func Detect(notes []provider.Note, rec store.MRRecord, ciAuthor string, mode config.WatermarkMode) Detection {
	d := Detection{LastSeen: rec.LastSeen, LastNote: rec.LastNote}

	for _, n := range notes {
		if !IsCIAuthor(n.Author, ciAuthor) {
			continue
		}
		d.LastNote = n.Body

		created := store.NewWatermark(n.CreatedAt)
		gate := d.LastSeen
		if mode == config.WatermarkSnapshot {
			gate = rec.LastSeen
		}
		if !created.After(gate) {
			continue
		}

		d.Events = append(d.Events, n)
		if created.After(d.LastSeen) {
			d.LastSeen = created
		}
	}
	return d
}
