package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModification_Status(t *testing.T) {
	assert.Equal(t, StatusInitial, Modification{}.Status())
	assert.Equal(t, StatusDeleted, Modification{}.withDeletion("a").Status())
	assert.Equal(t, StatusInserted, NewInsertion("a").Status())
	assert.Equal(t, StatusInsertedThenDeleted, NewInsertion("a").withDeletion("b").Status())
}

func TestModification_WithDeletionIsCopyOnWrite(t *testing.T) {
	m1 := Modification{}.withDeletion("b")
	m2 := m1.withDeletion("a")
	m3 := m1.withDeletion("c")

	assert.Equal(t, []string{"b"}, m1.DeletedBy())
	assert.Equal(t, []string{"a", "b"}, m2.DeletedBy())
	assert.Equal(t, []string{"b", "c"}, m3.DeletedBy())
	assert.Equal(t, m2, m2.withDeletion("b"))
}

func TestModification_IsVisibleTo(t *testing.T) {
	tests := []struct {
		name   string
		mod    Modification
		branch string
		want   bool
	}{
		{"initial", Modification{}, "a", true},
		{"initial to wildcard", Modification{}, WildcardAll, true},
		{"own insert", NewInsertion("a"), "a", true},
		{"other insert", NewInsertion("b"), "a", false},
		{"wildcard insert", NewInsertion(WildcardAll), "a", true},
		{"underscore insert", NewInsertion(WildcardAny), "a", true},
		{"other insert to wildcard", NewInsertion("b"), WildcardAny, true},
		{"deleted by self", Modification{}.withDeletion("a"), "a", false},
		{"deleted by other", Modification{}.withDeletion("b"), "a", true},
		{"deleted by wildcard", Modification{}.withDeletion(WildcardAll), "a", false},
		{"deleted by anyone to wildcard", Modification{}.withDeletion("b"), WildcardAll, false},
		{"own insert deleted by other", NewInsertion("a").withDeletion("b"), "a", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.mod.IsVisibleTo(tt.branch); got != tt.want {
				t.Errorf("IsVisibleTo(%q) = %v, want %v", tt.branch, got, tt.want)
			}
		})
	}
}

func TestModification_ShouldAdvanceForTiebreak(t *testing.T) {
	assert.False(t, Modification{}.ShouldAdvanceForTiebreak("b"))
	assert.True(t, NewInsertion("a").ShouldAdvanceForTiebreak("b"))
	assert.False(t, NewInsertion("b").ShouldAdvanceForTiebreak("a"))
	assert.False(t, NewInsertion("b").ShouldAdvanceForTiebreak("b"))
	assert.False(t, NewInsertion(WildcardAll).ShouldAdvanceForTiebreak("b"))
}
