package shared

import (
	"slices"
)

// Wildcard branch names. A wildcard reader sees everything nobody has
// deleted; a wildcard writer's inserts are visible to every branch and its
// deletes hide content from every branch.
const (
	WildcardAll = "*"
	WildcardAny = "_"
)

// IsWildcard reports whether branch is one of the wildcard names.
func IsWildcard(branch string) bool {
	return branch == WildcardAll || branch == WildcardAny
}

// Status summarizes a Modification.
type Status int

const (
	StatusInitial Status = iota
	StatusInserted
	StatusDeleted
	StatusInsertedThenDeleted
)

func (s Status) String() string {
	switch s {
	case StatusInitial:
		return "INITIAL"
	case StatusInserted:
		return "INSERTED"
	case StatusDeleted:
		return "DELETED"
	case StatusInsertedThenDeleted:
		return "INSERTED_THEN_DELETED"
	default:
		return "UNKNOWN"
	}
}

// Modification records which branch inserted a fragment and which branches
// deleted it. It is a value type; deletedBy is never written after creation.
type Modification struct {
	insertedBy string
	deletedBy  []string
}

// NewInsertion returns the modification of content inserted by branch.
func NewInsertion(branch string) Modification {
	return Modification{insertedBy: branch}
}

// InsertedBy returns the inserting branch, or "" for initial content.
func (m Modification) InsertedBy() string { return m.insertedBy }

// DeletedBy returns the sorted deleting branches.
func (m Modification) DeletedBy() []string { return slices.Clone(m.deletedBy) }

func (m Modification) IsDeletedBy(branch string) bool {
	_, found := slices.BinarySearch(m.deletedBy, branch)
	return found
}

func (m Modification) Status() Status {
	switch {
	case m.insertedBy == "" && len(m.deletedBy) == 0:
		return StatusInitial
	case m.insertedBy == "":
		return StatusDeleted
	case len(m.deletedBy) == 0:
		return StatusInserted
	default:
		return StatusInsertedThenDeleted
	}
}

// withDeletion returns a copy with branch added to the deleting set.
func (m Modification) withDeletion(branch string) Modification {
	i, found := slices.BinarySearch(m.deletedBy, branch)
	if found {
		return m
	}
	deleted := make([]string, 0, len(m.deletedBy)+1)
	deleted = append(deleted, m.deletedBy[:i]...)
	deleted = append(deleted, branch)
	deleted = append(deleted, m.deletedBy[i:]...)
	return Modification{insertedBy: m.insertedBy, deletedBy: deleted}
}

// IsPublic reports whether nobody has deleted the fragment.
func (m Modification) IsPublic() bool {
	return len(m.deletedBy) == 0
}

// IsVisibleTo reports whether branch sees the fragment.
func (m Modification) IsVisibleTo(branch string) bool {
	if IsWildcard(branch) {
		return m.IsPublic()
	}
	for _, d := range m.deletedBy {
		if d == branch || IsWildcard(d) {
			return false
		}
	}
	if m.insertedBy != "" && m.insertedBy != branch && !IsWildcard(m.insertedBy) {
		return false
	}
	return true
}

// ShouldAdvanceForTiebreak reports whether an insert by branch at this
// fragment's position must be placed after it. Concurrent inserts at the
// same position are ordered by ascending branch name.
func (m Modification) ShouldAdvanceForTiebreak(branch string) bool {
	return m.insertedBy != "" && !IsWildcard(m.insertedBy) && m.insertedBy < branch
}
