package cohort

import "encoding/json"

// RootGroupID is the id of the unique root group. It is AND, inclusive and
// cannot be deleted.
const RootGroupID = 0

// Combinator is the logical operator a group applies to its children.
type Combinator string

const (
	CombinatorAnd     Combinator = "AND"
	CombinatorOr      Combinator = "OR"
	CombinatorNAmongM Combinator = "N_AMONG_M"
)

// ComparisonOperator qualifies an N_AMONG_M group. The stored symbols read
// as "threshold <op> matches": '<' is at-least, '>' is at-most, '=' is exactly.
type ComparisonOperator string

const (
	OperatorNone    ComparisonOperator = ""
	OperatorAtLeast ComparisonOperator = "<"
	OperatorAtMost  ComparisonOperator = ">"
	OperatorExactly ComparisonOperator = "="
)

// ResourceKind is the clinical resource a leaf criterion filters on.
type ResourceKind string

const (
	KindPatient                  ResourceKind = "Patient"
	KindEncounter                ResourceKind = "Encounter"
	KindDocument                 ResourceKind = "DocumentReference"
	KindCondition                ResourceKind = "Condition"
	KindProcedure                ResourceKind = "Procedure"
	KindClaim                    ResourceKind = "Claim"
	KindMedicationAdministration ResourceKind = "MedicationAdministration"
	KindMedicationRequest        ResourceKind = "MedicationRequest"
	KindObservation              ResourceKind = "Observation"
	KindImaging                  ResourceKind = "ImagingStudy"
)

// ResourceKinds lists every supported kind in display order.
var ResourceKinds = []ResourceKind{
	KindPatient, KindEncounter, KindDocument, KindCondition, KindProcedure, KindClaim,
	KindMedicationAdministration, KindMedicationRequest, KindObservation, KindImaging,
}

// Valid reports whether k is a supported resource kind.
func (k ResourceKind) Valid() bool {
	for _, known := range ResourceKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Node is implemented by GroupNode and LeafNode. The sign of the id is the
// discriminant: positive ids are leaves, zero and negative ids are groups.
type Node interface {
	NodeID() int
	IsLeaf() bool
}

// IsLeafID reports whether id lives in the leaf namespace.
func IsLeafID(id int) bool { return id > 0 }

// GroupNode is a logical combinator over child criteria and subgroups.
type GroupNode struct {
	ID                 int                `json:"id"`
	Title              string             `json:"title"`
	Combinator         Combinator         `json:"type"`
	ComparisonOperator ComparisonOperator `json:"comparisonOperator,omitempty"`
	Threshold          int                `json:"threshold,omitempty"`
	ChildIDs           []int              `json:"criteriaIds"`
	Inclusive          bool               `json:"isInclusive"`
	IsSubgroup         bool               `json:"isSubGroup"`
}

func (g GroupNode) NodeID() int  { return g.ID }
func (g GroupNode) IsLeaf() bool { return false }

func (g GroupNode) clone() GroupNode {
	g.ChildIDs = append([]int(nil), g.ChildIDs...)
	return g
}

// Occurrence constrains how many matching resources a patient needs.
type Occurrence struct {
	N        int    `json:"n"`
	Operator string `json:"operator"`
}

// LeafNode is a selected criterion on one resource kind. Fields holds the
// kind-specific field bag; when Invalid is set Fields is nil and RawFields
// keeps the persisted payload that no longer matches the current schema.
type LeafNode struct {
	ID         int
	Title      string
	Kind       ResourceKind
	Inclusive  bool
	Occurrence *Occurrence
	Fields     Criterion
	Invalid    bool
	RawFields  json.RawMessage
}

func (l LeafNode) NodeID() int  { return l.ID }
func (l LeafNode) IsLeaf() bool { return true }

// State is the snapshot the host hands to the core. Every mutation returns a
// new State; previous snapshots are never modified.
type State struct {
	Groups         []GroupNode `json:"criteriaGroup"`
	Criteria       []LeafNode  `json:"selectedCriteria"`
	NextCriteriaID int         `json:"nextCriteriaId"`
	NextGroupID    int         `json:"nextGroupId"`
}

// NewState returns the initial tree: a lone inclusive AND root.
func NewState() State {
	return State{
		Groups: []GroupNode{{
			ID:         RootGroupID,
			Title:      "Groupe de critères 1",
			Combinator: CombinatorAnd,
			ChildIDs:   []int{},
			Inclusive:  true,
		}},
		Criteria:       []LeafNode{},
		NextCriteriaID: 1,
		NextGroupID:    -1,
	}
}

// Clone returns a deep copy of the group and criteria slices. Field bags are
// value types and are shared.
func (s State) Clone() State {
	out := State{
		Groups:         make([]GroupNode, len(s.Groups)),
		Criteria:       append([]LeafNode(nil), s.Criteria...),
		NextCriteriaID: s.NextCriteriaID,
		NextGroupID:    s.NextGroupID,
	}
	for i, g := range s.Groups {
		out.Groups[i] = g.clone()
	}
	if out.Criteria == nil {
		out.Criteria = []LeafNode{}
	}
	return out
}

// Group returns the group with id.
func (s State) Group(id int) (GroupNode, bool) {
	if i := s.groupIndex(id); i >= 0 {
		return s.Groups[i], true
	}
	return GroupNode{}, false
}

// Leaf returns the leaf with id.
func (s State) Leaf(id int) (LeafNode, bool) {
	if i := s.leafIndex(id); i >= 0 {
		return s.Criteria[i], true
	}
	return LeafNode{}, false
}

func (s State) groupIndex(id int) int {
	if IsLeafID(id) {
		return -1
	}
	for i := range s.Groups {
		if s.Groups[i].ID == id {
			return i
		}
	}
	return -1
}

func (s State) leafIndex(id int) int {
	if !IsLeafID(id) {
		return -1
	}
	for i := range s.Criteria {
		if s.Criteria[i].ID == id {
			return i
		}
	}
	return -1
}
