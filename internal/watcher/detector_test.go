package watcher

import (
	"testing"
	"time"

	"github.com/alanmeadows/mrwatch/internal/config"
	"github.com/alanmeadows/mrwatch/internal/provider"
	"github.com/alanmeadows/mrwatch/internal/store"
	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return t0.Add(time.Duration(minutes) * time.Minute)
}

func ciNote(minutes int, body string) provider.Note {
	return provider.Note{Author: "Jenkins CI", Body: body, CreatedAt: at(minutes)}
}

func TestDetectEmptyNotes(t *testing.T) {
	rec := store.MRRecord{LastSeen: store.NewWatermark(at(1)), LastNote: "old"}
	d := Detect(nil, rec, "Jenkins", config.WatermarkSequential)

	assert.Empty(t, d.Events)
	assert.Equal(t, rec.LastSeen, d.LastSeen)
	assert.Equal(t, "old", d.LastNote)
}

func TestDetectAuthorFilter(t *testing.T) {
	notes := []provider.Note{
		{Author: "alice", Body: "Build failed? no idea", CreatedAt: at(1)},
		{Author: "jenkins", Body: "lowercase bot", CreatedAt: at(2)},
		ciNote(3, "Build passed"),
	}
	d := Detect(notes, store.MRRecord{}, "Jenkins", config.WatermarkSequential)

	assert.Len(t, d.Events, 1)
	assert.Equal(t, "Build passed", d.Events[0].Body)
	assert.Equal(t, "Build passed", d.LastNote)
	assert.Equal(t, store.NewWatermark(at(3)), d.LastSeen)
}

func TestIsCIAuthor(t *testing.T) {
	assert.True(t, IsCIAuthor("Jenkins CI", "Jenkins"))
	assert.True(t, IsCIAuthor("Team Jenkins", "Jenkins"))
	assert.False(t, IsCIAuthor("jenkins", "Jenkins"))
	assert.False(t, IsCIAuthor("Jenkins", ""))
}

func TestDetectFirstPollEmitsAll(t *testing.T) {
	notes := []provider.Note{ciNote(1, "first"), ciNote(2, "second")}
	d := Detect(notes, store.MRRecord{}, "Jenkins", config.WatermarkSequential)

	assert.Len(t, d.Events, 2)
	assert.Equal(t, store.NewWatermark(at(2)), d.LastSeen)
}

func TestDetectNeverMovesWatermarkBack(t *testing.T) {
	rec := store.MRRecord{LastSeen: store.NewWatermark(at(10))}
	notes := []provider.Note{ciNote(1, "a"), ciNote(5, "b"), ciNote(10, "c")}

	for _, mode := range []config.WatermarkMode{config.WatermarkSequential, config.WatermarkSnapshot} {
		t.Run(string(mode), func(t *testing.T) {
			d := Detect(notes, rec, "Jenkins", mode)
			assert.Empty(t, d.Events)
			assert.Equal(t, rec.LastSeen, d.LastSeen)
			assert.Equal(t, "c", d.LastNote, "last note tracks every CI note, emitted or not")
		})
	}
}

func TestDetectEqualTimestampIsNotNew(t *testing.T) {
	rec := store.MRRecord{LastSeen: store.NewWatermark(at(2))}
	d := Detect([]provider.Note{ciNote(2, "same instant")}, rec, "Jenkins", config.WatermarkSequential)
	assert.Empty(t, d.Events)
}

func TestDetectNoDuplicateAcrossPolls(t *testing.T) {
	notes := []provider.Note{ciNote(1, "Build failed"), ciNote(2, "Build passed")}

	first := Detect(notes, store.MRRecord{}, "Jenkins", config.WatermarkSequential)
	assert.Len(t, first.Events, 2)

	rec := store.MRRecord{LastSeen: first.LastSeen, LastNote: first.LastNote}
	second := Detect(notes, rec, "Jenkins", config.WatermarkSequential)
	assert.Empty(t, second.Events)
	assert.Equal(t, first.LastSeen, second.LastSeen)
}

func TestDetectOutOfOrderNotes(t *testing.T) {
	// Platform returned a newer CI note before an older one.
	notes := []provider.Note{ciNote(5, "newer"), ciNote(3, "older")}
	rec := store.MRRecord{LastSeen: store.NewWatermark(at(1))}

	t.Run("sequential skips behind the advancing watermark", func(t *testing.T) {
		d := Detect(notes, rec, "Jenkins", config.WatermarkSequential)
		assert.Len(t, d.Events, 1)
		assert.Equal(t, "newer", d.Events[0].Body)
		assert.Equal(t, store.NewWatermark(at(5)), d.LastSeen)
		assert.Equal(t, "older", d.LastNote)
	})

	t.Run("snapshot gates on the stored watermark", func(t *testing.T) {
		d := Detect(notes, rec, "Jenkins", config.WatermarkSnapshot)
		assert.Len(t, d.Events, 2)
		assert.Equal(t, store.NewWatermark(at(5)), d.LastSeen)
	})
}
