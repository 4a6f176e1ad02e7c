package entities

import (
	"fmt"
	"sort"
)

// SectionState represents the lifecycle state of a budget-consuming document
type SectionState int

const (
	SectionDraft SectionState = iota
	SectionConfirmed
	SectionDone
	SectionCancelled
)

// String method for SectionState enum
func (s SectionState) String() string {
	switch s {
	case SectionDraft:
		return "draft"
	case SectionConfirmed:
		return "confirmed"
	case SectionDone:
		return "done"
	case SectionCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ParseSectionState parses the String form of a SectionState
func ParseSectionState(s string) (SectionState, error) {
	switch s {
	case "draft", "":
		return SectionDraft, nil
	case "confirmed":
		return SectionConfirmed, nil
	case "done":
		return SectionDone, nil
	case "cancelled", "cancel":
		return SectionCancelled, nil
	default:
		return SectionDraft, fmt.Errorf("unknown section state %q", s)
	}
}

// Section is a document reserving budget: a purchase order, work order,
// picking, task or manual balance.
type Section struct {
	ID             int64
	Kind           Kind
	ProjectID      int64
	Name           string
	Sequence       int
	Active         bool
	State          SectionState
	LaunchIDs      []int64
	CategoryIDs    []int64
	AutoDistribute bool
}

// NewSection creates a validated Section
func NewSection(kind Kind, id, projectID int64, name string) (*Section, error) {
	if !kind.IsSection() {
		return nil, fmt.Errorf("%s is not a section kind", kind)
	}
	if id <= 0 {
		return nil, fmt.Errorf("%s id must be positive, got %d", kind, id)
	}
	if projectID <= 0 {
		return nil, fmt.Errorf("%s %d has no project", kind, id)
	}
	if name == "" {
		return nil, fmt.Errorf("%s name cannot be empty", kind)
	}
	return &Section{ID: id, Kind: kind, ProjectID: projectID, Name: name, Active: true}, nil
}

// Ref returns the polymorphic reference of the section
func (s *Section) Ref() Ref { return Ref{Kind: s.Kind, ID: s.ID} }

// IsLive reports whether the section's reservations should count.
// A cancelled document is never live.
func (s *Section) IsLive() bool {
	return s.Active && s.State != SectionCancelled
}

// IsBalance reports whether the section reserves all remaining budget
func (s *Section) IsBalance() bool {
	return s.Kind == KindBalance
}

// Consumers returns the selected launches, or the project when none is selected
func (s *Section) Consumers() []Ref {
	if len(s.LaunchIDs) == 0 {
		return []Ref{{Kind: KindProject, ID: s.ProjectID}}
	}
	ids := append([]int64(nil), s.LaunchIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	refs := make([]Ref, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, Ref{Kind: KindLaunch, ID: id})
	}
	return refs
}

// HasCategory reports whether the category is selected on the section
func (s *Section) HasCategory(categoryID int64) bool {
	for _, id := range s.CategoryIDs {
		if id == categoryID {
			return true
		}
	}
	return false
}
