package cohort

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports an operation on an id that no longer exists. The
	// returned state is the input state; callers may safely ignore it.
	ErrNotFound = errors.New("node not found")
	// ErrRootGroup is returned on any attempt to delete the root group or
	// change its combinator or inclusion.
	ErrRootGroup = errors.New("root group cannot be deleted or altered")
	// ErrInvalidParent is returned when a target parent id is not a group.
	ErrInvalidParent = errors.New("parent must be a group")
	// ErrNoFields is returned when a criterion is created or edited without
	// a field bag.
	ErrNoFields = errors.New("criterion has no fields")
)

// NewLeaf builds an inclusive leaf around fields, ready for AddLeaf.
func NewLeaf(title string, fields Criterion) LeafNode {
	leaf := LeafNode{Title: title, Inclusive: true, Fields: fields}
	if fields != nil {
		leaf.Kind = fields.Kind()
	}
	return leaf
}

// AddLeaf allocates the next criterion id, stores leaf under it and appends
// it to the parent's children. Failed creations do not consume an id.
func (s State) AddLeaf(parentID int, leaf LeafNode) (State, int, error) {
	if leaf.Fields == nil {
		return s, 0, ErrNoFields
	}
	if IsLeafID(parentID) {
		return s, 0, fmt.Errorf("%w: %d", ErrInvalidParent, parentID)
	}
	if s.groupIndex(parentID) < 0 {
		return s, 0, fmt.Errorf("%w: parent group %d", ErrNotFound, parentID)
	}

	next := s.Clone()
	id := next.freeLeafID()
	leaf.ID = id
	leaf.Kind = leaf.Fields.Kind()
	leaf.Invalid = false
	leaf.RawFields = nil
	next.Criteria = append(next.Criteria, leaf)
	p := &next.Groups[next.groupIndex(parentID)]
	p.ChildIDs = append(p.ChildIDs, id)
	next.syncCounters()
	return next, id, nil
}

// EditLeaf replaces the title, inclusion, occurrence and field bag of leaf
// id. The id and tree position are unchanged; a previously invalid leaf
// becomes valid again.
func (s State) EditLeaf(id int, leaf LeafNode) (State, error) {
	if leaf.Fields == nil {
		return s, ErrNoFields
	}
	i := s.leafIndex(id)
	if i < 0 {
		return s, fmt.Errorf("%w: criterion %d", ErrNotFound, id)
	}
	next := s.Clone()
	leaf.ID = id
	leaf.Kind = leaf.Fields.Kind()
	leaf.Invalid = false
	leaf.RawFields = nil
	next.Criteria[i] = leaf
	return next, nil
}

// DeleteLeaf removes leaf id and strips it from its parent. Siblings are
// untouched apart from threshold clamping on the parent.
func (s State) DeleteLeaf(id int) (State, error) {
	i := s.leafIndex(id)
	if i < 0 {
		return s, fmt.Errorf("%w: criterion %d", ErrNotFound, id)
	}
	next := s.Clone()
	next.Criteria = append(next.Criteria[:i], next.Criteria[i+1:]...)
	next.detach(id)
	return next, nil
}

// AddGroup allocates the next group id and appends an empty inclusive group
// to the parent's children.
func (s State) AddGroup(parentID int, combinator Combinator) (State, int, error) {
	if IsLeafID(parentID) {
		return s, 0, fmt.Errorf("%w: %d", ErrInvalidParent, parentID)
	}
	if s.groupIndex(parentID) < 0 {
		return s, 0, fmt.Errorf("%w: parent group %d", ErrNotFound, parentID)
	}
	if combinator == "" {
		combinator = CombinatorAnd
	}
	switch combinator {
	case CombinatorAnd, CombinatorOr, CombinatorNAmongM:
	default:
		return s, 0, fmt.Errorf("%w: combinator %q", ErrUnknownChoice, combinator)
	}

	next := s.Clone()
	id := next.freeGroupID()
	g := GroupNode{
		ID:         id,
		Title:      fmt.Sprintf("Groupe de critères %d", -id+1),
		Combinator: combinator,
		ChildIDs:   []int{},
		Inclusive:  true,
		IsSubgroup: true,
	}
	normalizeGroup(&g)
	next.Groups = append(next.Groups, g)
	p := &next.Groups[next.groupIndex(parentID)]
	p.ChildIDs = append(p.ChildIDs, id)
	next.syncCounters()
	return next, id, nil
}

// freeLeafID returns the next criterion id past every leaf id in use,
// including ids only referenced from a group. A host counter that is unset
// or behind is skipped forward rather than trusted.
func (s State) freeLeafID() int {
	id := max(s.NextCriteriaID, 1)
	for _, l := range s.Criteria {
		id = max(id, l.ID+1)
	}
	for _, g := range s.Groups {
		for _, c := range g.ChildIDs {
			if IsLeafID(c) {
				id = max(id, c+1)
			}
		}
	}
	return id
}

// freeGroupID is freeLeafID for the negative group namespace.
func (s State) freeGroupID() int {
	id := min(s.NextGroupID, -1)
	for _, g := range s.Groups {
		id = min(id, g.ID-1)
		for _, c := range g.ChildIDs {
			if !IsLeafID(c) {
				id = min(id, c-1)
			}
		}
	}
	return id
}

// syncCounters moves both counters past every id in use. It only ever moves
// them forward, so ids freed by deletion are not reissued.
func (s *State) syncCounters() {
	s.NextCriteriaID = s.freeLeafID()
	s.NextGroupID = s.freeGroupID()
}

// GroupPatch is a partial group update. Nil fields are left unchanged.
type GroupPatch struct {
	Title              *string             `json:"title,omitempty"`
	Combinator         *Combinator         `json:"type,omitempty"`
	ComparisonOperator *ComparisonOperator `json:"comparisonOperator,omitempty"`
	Threshold          *int                `json:"threshold,omitempty"`
	Inclusive          *bool               `json:"isInclusive,omitempty"`
}

// EditGroup merges patch into group id. Leaving N_AMONG_M clears the
// operator and threshold; entering it defaults them to at-least 1. The
// threshold is clamped to 1..len(children).
func (s State) EditGroup(id int, patch GroupPatch) (State, error) {
	i := s.groupIndex(id)
	if i < 0 {
		return s, fmt.Errorf("%w: group %d", ErrNotFound, id)
	}
	if id == RootGroupID {
		if patch.Combinator != nil && *patch.Combinator != CombinatorAnd {
			return s, fmt.Errorf("%w: combinator must stay AND", ErrRootGroup)
		}
		if patch.Inclusive != nil && !*patch.Inclusive {
			return s, fmt.Errorf("%w: root must stay inclusive", ErrRootGroup)
		}
	}
	if patch.ComparisonOperator != nil {
		switch *patch.ComparisonOperator {
		case OperatorAtLeast, OperatorAtMost, OperatorExactly:
		default:
			return s, fmt.Errorf("%w %q", ErrUnknownOperator, *patch.ComparisonOperator)
		}
	}
	if patch.Combinator != nil {
		switch *patch.Combinator {
		case CombinatorAnd, CombinatorOr, CombinatorNAmongM:
		default:
			return s, fmt.Errorf("%w: combinator %q", ErrUnknownChoice, *patch.Combinator)
		}
	}

	next := s.Clone()
	g := &next.Groups[i]
	if patch.Title != nil {
		g.Title = *patch.Title
	}
	if patch.Combinator != nil {
		g.Combinator = *patch.Combinator
	}
	if patch.ComparisonOperator != nil {
		g.ComparisonOperator = *patch.ComparisonOperator
	}
	if patch.Threshold != nil {
		g.Threshold = *patch.Threshold
	}
	if patch.Inclusive != nil {
		g.Inclusive = *patch.Inclusive
	}
	normalizeGroup(g)
	return next, nil
}

// DeleteGroup removes group id and strips it from its parent. The group's
// own children are not touched; callers move or delete them first.
func (s State) DeleteGroup(id int) (State, error) {
	if id == RootGroupID {
		return s, ErrRootGroup
	}
	i := s.groupIndex(id)
	if i < 0 {
		return s, fmt.Errorf("%w: group %d", ErrNotFound, id)
	}
	next := s.Clone()
	next.Groups = append(next.Groups[:i], next.Groups[i+1:]...)
	next.detach(id)
	return next, nil
}

// CleanupEmptyGroups makes one pass over the non-root groups that are empty
// when the pass starts and deletes each of them. A parent emptied by this
// pass survives until the next pass. It returns the removed ids.
func (s State) CleanupEmptyGroups() (State, []int) {
	var empty []int
	for _, g := range s.Groups {
		if g.ID != RootGroupID && len(g.ChildIDs) == 0 {
			empty = append(empty, g.ID)
		}
	}
	next := s
	removed := make([]int, 0, len(empty))
	for _, id := range empty {
		var err error
		if next, err = next.DeleteGroup(id); err == nil {
			removed = append(removed, id)
		}
	}
	return next, removed
}

// CleanupEmptyGroupsFully repeats CleanupEmptyGroups until a pass removes
// nothing and returns every removed id.
func (s State) CleanupEmptyGroupsFully() (State, []int) {
	var all []int
	for {
		var removed []int
		s, removed = s.CleanupEmptyGroups()
		if len(removed) == 0 {
			return s, all
		}
		all = append(all, removed...)
	}
}

// detach strips id from every group's children and re-clamps the
// thresholds of the groups it was removed from. Must run on a clone.
func (s *State) detach(id int) {
	for i := range s.Groups {
		g := &s.Groups[i]
		kept := g.ChildIDs[:0]
		for _, childID := range g.ChildIDs {
			if childID != id {
				kept = append(kept, childID)
			}
		}
		if len(kept) != len(g.ChildIDs) {
			g.ChildIDs = kept
			normalizeGroup(g)
		}
	}
}

func normalizeGroup(g *GroupNode) {
	if g.Combinator != CombinatorNAmongM {
		g.ComparisonOperator = OperatorNone
		g.Threshold = 0
		return
	}
	if g.ComparisonOperator == OperatorNone {
		g.ComparisonOperator = OperatorAtLeast
	}
	g.Threshold = clampThreshold(g.Threshold, len(g.ChildIDs))
}

// clampThreshold keeps a threshold within 1..children. An empty group is
// held at 1.
func clampThreshold(threshold, children int) int {
	upper := max(children, 1)
	switch {
	case threshold < 1:
		return 1
	case threshold > upper:
		return upper
	}
	return threshold
}
