package savegame

import (
	"strconv"

	"github.com/yndnr/savekeep-go/internal/core/domain"
)

// Well-known fragment ids read for listing metadata. A world without them
// still saves; the fields stay empty.
const (
	FragmentScene = "scene"
	FragmentClock = "clock"
)

type sceneSummary struct {
	Chapter  string `json:"chapter"`
	Location string `json:"location"`
}

type clockSummary struct {
	Time domain.GameTime `json:"time"`
}

// buildMetadata derives the summary fields of snap. Undecodable well-known
// fragments become warnings instead of failing the save.
func buildMetadata(snap domain.Snapshot) domain.SaveMetadata {
	md := domain.SaveMetadata{
		FragmentCount: len(snap.Fragments),
		Digest:        snap.Digest(),
	}
	for _, id := range snap.Missing {
		md.Warnings = append(md.Warnings, "fragment "+id+" not captured")
	}

	var scene sceneSummary
	if ok, err := snap.Decode(FragmentScene, &scene); err != nil {
		md.Warnings = append(md.Warnings, "scene summary unreadable: "+err.Error())
	} else if ok {
		md.Chapter = scene.Chapter
		md.Location = scene.Location
	}

	var clock clockSummary
	if ok, err := snap.Decode(FragmentClock, &clock); err != nil {
		md.Warnings = append(md.Warnings, "clock summary unreadable: "+err.Error())
	} else if ok {
		md.GameTime = clock.Time
	}
	return md
}

func defaultDisplayName(rec *domain.SaveRecord) string {
	name := string(rec.Category)
	if rec.Category != domain.CategoryAuto {
		name += " " + strconv.Itoa(rec.Slot+1)
	}
	if rec.Metadata.Chapter != "" {
		name += " - " + rec.Metadata.Chapter
	}
	return name
}
