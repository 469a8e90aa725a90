package types

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// MaxTagLength bounds a single tag in runes
const MaxTagLength = 64

// Project is a project posting with its tag set and description embedding
type Project struct {
	ID          int64
	Title       string
	Budget      float64
	Description string
	Tags        []string  // Sorted, unique, case-sensitive
	Embedding   []float32 // Nil when the project is degraded (keyword-searchable only)
	OwnerID     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasEmbedding reports whether the project participates in semantic search
func (p *Project) HasEmbedding() bool {
	return len(p.Embedding) > 0
}

// Clone returns a deep copy so callers never share tag or vector buffers
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	c := *p
	c.Tags = slices.Clone(p.Tags)
	c.Embedding = slices.Clone(p.Embedding)
	return &c
}

// ProjectInput carries the caller-supplied fields for project creation
type ProjectInput struct {
	Title       string
	Budget      float64
	Description string
	Tags        []string
	OwnerID     int64
}

// EditInput carries the replacement fields for an edit.
// Tags is the complete new tag set, not a delta.
type EditInput struct {
	Title       string
	Budget      float64
	Description string
	Tags        []string
	EditorID    int64
}

// ProjectPatch changes only the fields that are set. A nil Tags keeps the
// tag set; a non-nil Tags, even empty, replaces it.
type ProjectPatch struct {
	Title       *string
	Budget      *float64
	Description *string
	Tags        []string
	EditorID    int64
}

// Apply merges the patch over the given current values
func (p ProjectPatch) Apply(title string, budget float64, description string, tags []string) EditInput {
	in := EditInput{
		Title:       title,
		Budget:      budget,
		Description: description,
		Tags:        slices.Clone(tags),
		EditorID:    p.EditorID,
	}
	if p.Title != nil {
		in.Title = *p.Title
	}
	if p.Budget != nil {
		in.Budget = *p.Budget
	}
	if p.Description != nil {
		in.Description = *p.Description
	}
	if p.Tags != nil {
		in.Tags = slices.Clone(p.Tags)
	}
	return in
}

// Validate checks title and budget, and normalizes the tag set in place
func (in *ProjectInput) Validate() error {
	if err := validateFields(in.Title, in.Budget); err != nil {
		return err
	}
	tags, err := NormalizeTags(in.Tags)
	if err != nil {
		return err
	}
	in.Title = strings.TrimSpace(in.Title)
	in.Tags = tags
	return nil
}

// Validate checks title and budget, and normalizes the tag set in place
func (in *EditInput) Validate() error {
	if err := validateFields(in.Title, in.Budget); err != nil {
		return err
	}
	tags, err := NormalizeTags(in.Tags)
	if err != nil {
		return err
	}
	in.Title = strings.TrimSpace(in.Title)
	in.Tags = tags
	return nil
}

func validateFields(title string, budget float64) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyTitle)
	}
	if math.IsNaN(budget) || math.IsInf(budget, 0) {
		return fmt.Errorf("%w: %w", ErrValidation, ErrInvalidBudget)
	}
	if budget < 0 {
		return fmt.Errorf("%w: %w", ErrValidation, ErrNegativeBudget)
	}
	return nil
}

// NormalizeTags trims, validates, de-duplicates, and sorts a tag list.
// Tags keep their case: "Java" and "java" are distinct.
func NormalizeTags(tags []string) ([]string, error) {
	out := make([]string, 0, len(tags))
	for _, raw := range tags {
		tag := strings.TrimSpace(raw)
		if err := ValidateTag(tag); err != nil {
			return nil, err
		}
		out = append(out, tag)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// ValidateTag rejects empty, oversized, or control-character tags
func ValidateTag(tag string) error {
	if tag == "" {
		return fmt.Errorf("%w: %w: tag is empty", ErrValidation, ErrMalformedTag)
	}
	if !utf8.ValidString(tag) {
		return fmt.Errorf("%w: %w: tag is not valid UTF-8", ErrValidation, ErrMalformedTag)
	}
	if utf8.RuneCountInString(tag) > MaxTagLength {
		return fmt.Errorf("%w: %w: tag exceeds %d characters", ErrValidation, ErrMalformedTag, MaxTagLength)
	}
	for _, r := range tag {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: %w: tag contains control characters", ErrValidation, ErrMalformedTag)
		}
	}
	return nil
}

// DiffTags returns the tags to add and remove to turn current into desired.
// Both inputs must already be normalized.
func DiffTags(current, desired []string) (add, remove []string) {
	for _, t := range desired {
		if !slices.Contains(current, t) {
			add = append(add, t)
		}
	}
	for _, t := range current {
		if !slices.Contains(desired, t) {
			remove = append(remove, t)
		}
	}
	return add, remove
}
