package cohort

import "fmt"

// ChildrenOf resolves the child ids of group id in order. Ids that resolve
// to nothing are skipped.
func (s State) ChildrenOf(id int) []Node {
	g, ok := s.Group(id)
	if !ok {
		return nil
	}
	out := make([]Node, 0, len(g.ChildIDs))
	for _, childID := range g.ChildIDs {
		if IsLeafID(childID) {
			if l, ok := s.Leaf(childID); ok {
				out = append(out, l)
			}
			continue
		}
		if child, ok := s.Group(childID); ok {
			out = append(out, child)
		}
	}
	return out
}

// ParentOf returns the id of the first group listing id as a child.
func (s State) ParentOf(id int) (int, bool) {
	for _, g := range s.Groups {
		for _, childID := range g.ChildIDs {
			if childID == id {
				return g.ID, true
			}
		}
	}
	return 0, false
}

// Depth is the number of parent hops from id up to the root. It reports
// false when the chain breaks or loops before reaching the root.
func (s State) Depth(id int) (int, bool) {
	depth := 0
	for cur := id; cur != RootGroupID; depth++ {
		if depth > len(s.Groups) {
			return 0, false
		}
		parent, ok := s.ParentOf(cur)
		if !ok {
			return 0, false
		}
		cur = parent
	}
	return depth, true
}

// Leaves returns the leaves reachable from the root in depth-first order.
func (s State) Leaves() []LeafNode {
	var out []LeafNode
	visited := map[int]bool{}
	var walk func(id int)
	walk = func(id int) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, n := range s.ChildrenOf(id) {
			switch node := n.(type) {
			case LeafNode:
				out = append(out, node)
			case GroupNode:
				walk(node.ID)
			}
		}
	}
	walk(RootGroupID)
	return out
}

// AnomalyKind classifies a structural problem found by Validate.
type AnomalyKind string

const (
	AnomalyMissingRoot      AnomalyKind = "missing-root"
	AnomalyRootMisconfigure AnomalyKind = "root-misconfigured"
	AnomalyRootAsChild      AnomalyKind = "root-as-child"
	AnomalyDanglingChild    AnomalyKind = "dangling-child"
	AnomalyWrongNamespace   AnomalyKind = "wrong-namespace"
	AnomalyDuplicateID      AnomalyKind = "duplicate-id"
	AnomalySharedChild      AnomalyKind = "shared-child"
	AnomalyOrphan           AnomalyKind = "orphan"
	AnomalyCycle            AnomalyKind = "cycle"
	AnomalyThreshold        AnomalyKind = "threshold-out-of-range"
	AnomalyOperator         AnomalyKind = "unknown-operator"
	AnomalyCounter          AnomalyKind = "stale-counter"
	AnomalyInvalidLeaf      AnomalyKind = "invalid-leaf"
)

// Anomaly is a structural problem surfaced to the caller instead of failing.
type Anomaly struct {
	Kind   AnomalyKind `json:"kind"`
	NodeID int         `json:"nodeId"`
	Detail string      `json:"detail"`
}

func (a Anomaly) String() string {
	return fmt.Sprintf("%s (node %d): %s", a.Kind, a.NodeID, a.Detail)
}

// Validate checks every structural invariant of the tree and returns the
// violations found. A well-formed state yields no anomalies.
func (s State) Validate() []Anomaly {
	var out []Anomaly
	report := func(kind AnomalyKind, id int, format string, args ...interface{}) {
		out = append(out, Anomaly{Kind: kind, NodeID: id, Detail: fmt.Sprintf(format, args...)})
	}

	if root, ok := s.Group(RootGroupID); !ok {
		report(AnomalyMissingRoot, RootGroupID, "no group with id 0")
	} else if root.Combinator != CombinatorAnd || !root.Inclusive {
		report(AnomalyRootMisconfigure, RootGroupID, "root must be an inclusive AND group")
	}

	seenGroups := map[int]bool{}
	for _, g := range s.Groups {
		if IsLeafID(g.ID) {
			report(AnomalyWrongNamespace, g.ID, "group id must not be positive")
		}
		if seenGroups[g.ID] {
			report(AnomalyDuplicateID, g.ID, "group id used twice")
		}
		seenGroups[g.ID] = true
		if g.ID < 0 && g.ID <= s.NextGroupID {
			report(AnomalyCounter, g.ID, "nextGroupId %d not below existing group", s.NextGroupID)
		}
		if g.Combinator == CombinatorNAmongM {
			if _, err := ChoiceFor(g); err != nil {
				report(AnomalyOperator, g.ID, "%v", err)
			}
			if g.Threshold < 1 || g.Threshold > max(len(g.ChildIDs), 1) {
				report(AnomalyThreshold, g.ID, "threshold %d outside 1..%d", g.Threshold, len(g.ChildIDs))
			}
		}
	}

	seenLeaves := map[int]bool{}
	for _, l := range s.Criteria {
		if !IsLeafID(l.ID) {
			report(AnomalyWrongNamespace, l.ID, "criterion id must be positive")
		}
		if seenLeaves[l.ID] {
			report(AnomalyDuplicateID, l.ID, "criterion id used twice")
		}
		seenLeaves[l.ID] = true
		if l.ID >= s.NextCriteriaID {
			report(AnomalyCounter, l.ID, "nextCriteriaId %d not above existing criterion", s.NextCriteriaID)
		}
		if l.Invalid {
			report(AnomalyInvalidLeaf, l.ID, "criterion no longer matches the %s schema", l.Kind)
		}
	}

	parents := map[int]int{}
	for _, g := range s.Groups {
		for _, childID := range g.ChildIDs {
			switch {
			case childID == RootGroupID:
				report(AnomalyRootAsChild, g.ID, "root listed as a child")
				continue
			case IsLeafID(childID) && !seenLeaves[childID]:
				report(AnomalyDanglingChild, g.ID, "child %d resolves to no criterion", childID)
			case !IsLeafID(childID) && !seenGroups[childID]:
				report(AnomalyDanglingChild, g.ID, "child %d resolves to no group", childID)
			}
			if prev, ok := parents[childID]; ok {
				report(AnomalySharedChild, childID, "listed by groups %d and %d", prev, g.ID)
				continue
			}
			parents[childID] = g.ID
		}
	}

	for _, g := range s.Groups {
		if g.ID != RootGroupID {
			if _, ok := parents[g.ID]; !ok {
				report(AnomalyOrphan, g.ID, "group has no parent")
			}
		}
	}
	for _, l := range s.Criteria {
		if _, ok := parents[l.ID]; !ok {
			report(AnomalyOrphan, l.ID, "criterion has no parent")
		}
	}

	for _, g := range s.Groups {
		if g.ID == RootGroupID {
			continue
		}
		if _, ok := parents[g.ID]; ok {
			if _, ok := s.Depth(g.ID); !ok {
				report(AnomalyCycle, g.ID, "parent chain does not reach the root")
			}
		}
	}
	return out
}
