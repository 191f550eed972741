package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Category partitions save records into independently rotated slot pools.
type Category string

const (
	CategoryManual Category = "manual"
	CategoryQuick  Category = "quick"
	CategoryAuto   Category = "auto"
)

// Categories lists every category in display order.
var Categories = []Category{CategoryManual, CategoryQuick, CategoryAuto}

// ParseCategory validates s as a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case CategoryManual, CategoryQuick, CategoryAuto:
		return c, nil
	}
	return "", ErrInvalidCategory.WithDetailsf("%q", s)
}

// SaveID returns the record id for a category slot, e.g. "quick_2".
func SaveID(c Category, slot int) string {
	return fmt.Sprintf("%s_%d", c, slot)
}

// ParseSaveID splits an id produced by SaveID.
func ParseSaveID(id string) (Category, int, error) {
	i := strings.LastIndexByte(id, '_')
	if i <= 0 {
		return "", 0, ErrSaveNotFound.WithDetailsf("malformed id %q", id)
	}
	c, err := ParseCategory(id[:i])
	if err != nil {
		return "", 0, ErrSaveNotFound.WithDetailsf("malformed id %q", id)
	}
	slot, err := strconv.Atoi(id[i+1:])
	if err != nil || slot < 0 {
		return "", 0, ErrSaveNotFound.WithDetailsf("malformed id %q", id)
	}
	return c, slot, nil
}

// SaveMetadata holds summary fields shown in listings.
type SaveMetadata struct {
	Chapter       string   `json:"chapter,omitempty"`
	Location      string   `json:"location,omitempty"`
	GameTime      GameTime `json:"game_time"`
	FragmentCount int      `json:"fragment_count"`
	Digest        string   `json:"digest,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
}

// SaveRecord is a named, categorized, persisted Snapshot.
type SaveRecord struct {
	ID            string       `json:"id"`
	Category      Category     `json:"category"`
	Slot          int          `json:"slot"`
	DisplayName   string       `json:"display_name"`
	CreatedAt     time.Time    `json:"created_at"`
	SchemaVersion int          `json:"schema_version"`
	Snapshot      Snapshot     `json:"snapshot"`
	Metadata      SaveMetadata `json:"metadata"`
}

// Validate checks the identity fields.
func (r *SaveRecord) Validate() error {
	c, err := ParseCategory(string(r.Category))
	if err != nil {
		return err
	}
	if r.Slot < 0 {
		return ErrInvalidSlot.WithDetailsf("slot %d", r.Slot)
	}
	if r.ID != SaveID(c, r.Slot) {
		return ErrInvalidArgument.WithDetailsf("id %q does not match %s slot %d", r.ID, c, r.Slot)
	}
	if r.CreatedAt.IsZero() {
		return ErrInvalidArgument.WithDetails("created_at is zero")
	}
	return nil
}

// HasWarnings reports whether the record was written with a partial capture.
func (r *SaveRecord) HasWarnings() bool {
	return len(r.Metadata.Warnings) > 0
}

// SaveSummary is the listing view of a SaveRecord, without the snapshot.
type SaveSummary struct {
	ID          string    `json:"id"`
	Category    Category  `json:"category"`
	Slot        int       `json:"slot"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	Chapter     string    `json:"chapter"`
	Location    string    `json:"location"`
	GameTime    string    `json:"game_time"`
	Warnings    int       `json:"warnings"`
}

// Summary returns the listing view.
func (r *SaveRecord) Summary() SaveSummary {
	return SaveSummary{
		ID:          r.ID,
		Category:    r.Category,
		Slot:        r.Slot,
		DisplayName: r.DisplayName,
		CreatedAt:   r.CreatedAt,
		Chapter:     r.Metadata.Chapter,
		Location:    r.Metadata.Location,
		GameTime:    r.Metadata.GameTime.String(),
		Warnings:    len(r.Metadata.Warnings),
	}
}
