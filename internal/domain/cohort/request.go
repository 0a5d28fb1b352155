package cohort

import (
	"encoding/json"
	"fmt"
)

// RequestVersion is the request document format emitted by BuildRequest.
const RequestVersion = "v1.4.0"

// Request document node types.
const (
	nodeAndGroup      = "andGroup"
	nodeOrGroup       = "orGroup"
	nodeNAmongM       = "nAmongM"
	nodeBasicResource = "basicResource"
)

// RequestDocument is the backend's cohort request format.
type RequestDocument struct {
	Version          string            `json:"version"`
	Type             string            `json:"_type"`
	SourcePopulation *SourcePopulation `json:"sourcePopulation,omitempty"`
	Request          *RequestNode      `json:"request,omitempty"`
}

// SourcePopulation restricts the cohort to patients of the listed care sites.
type SourcePopulation struct {
	CaresiteCohortList []string `json:"caresiteCohortList"`
}

// RequestNode is a group or a criterion in the request document.
type RequestNode struct {
	Type           string          `json:"_type"`
	ID             int             `json:"_id"`
	IsInclusive    bool            `json:"isInclusive"`
	Criteria       []RequestNode   `json:"criteria,omitempty"`
	NAmongMOptions *NAmongMOptions `json:"nAmongMOptions,omitempty"`
	ResourceType   ResourceKind    `json:"resourceType,omitempty"`
	FilterFhir     string          `json:"filterFhir,omitempty"`
	Occurrence     *Occurrence     `json:"occurrence,omitempty"`
}

// NAmongMOptions carries the threshold of an nAmongM group.
type NAmongMOptions struct {
	N        int    `json:"n"`
	Operator string `json:"operator"`
}

var wireOperators = map[ComparisonOperator]string{
	OperatorAtLeast: ">=",
	OperatorAtMost:  "<=",
	OperatorExactly: "=",
}

// BuildRequest serializes the tree reachable from the root. Invalid leaves
// and groups left without criteria are omitted and reported, as are
// structural problems met on the way. A tree with no usable criteria has a
// nil Request.
func BuildRequest(s State, sourcePopulation []string) (RequestDocument, []Anomaly) {
	b := &requestBuilder{state: s, visited: map[int]bool{}}
	doc := RequestDocument{Version: RequestVersion, Type: "request"}
	if len(sourcePopulation) > 0 {
		doc.SourcePopulation = &SourcePopulation{
			CaresiteCohortList: append([]string(nil), sourcePopulation...),
		}
	}
	root, ok := s.Group(RootGroupID)
	if !ok {
		return doc, []Anomaly{{Kind: AnomalyMissingRoot, NodeID: RootGroupID, Detail: "no group with id 0"}}
	}
	if node, ok := b.group(root); ok {
		doc.Request = &node
	}
	return doc, b.anomalies
}

type requestBuilder struct {
	state     State
	visited   map[int]bool
	anomalies []Anomaly
}

func (b *requestBuilder) report(kind AnomalyKind, id int, format string, args ...interface{}) {
	b.anomalies = append(b.anomalies, Anomaly{Kind: kind, NodeID: id, Detail: fmt.Sprintf(format, args...)})
}

func (b *requestBuilder) group(g GroupNode) (RequestNode, bool) {
	if b.visited[g.ID] {
		b.report(AnomalyCycle, g.ID, "group reached twice while building the request")
		return RequestNode{}, false
	}
	b.visited[g.ID] = true

	node := RequestNode{ID: g.ID, IsInclusive: g.Inclusive || g.ID == RootGroupID}
	switch g.Combinator {
	case CombinatorOr:
		node.Type = nodeOrGroup
	case CombinatorNAmongM:
		op, ok := wireOperators[g.ComparisonOperator]
		if !ok {
			b.report(AnomalyOperator, g.ID, "unknown comparison operator %q", g.ComparisonOperator)
			return RequestNode{}, false
		}
		node.Type = nodeNAmongM
		node.NAmongMOptions = &NAmongMOptions{N: g.Threshold, Operator: op}
	default:
		node.Type = nodeAndGroup
	}

	for _, childID := range g.ChildIDs {
		if IsLeafID(childID) {
			leaf, ok := b.state.Leaf(childID)
			if !ok {
				b.report(AnomalyDanglingChild, g.ID, "child %d resolves to no criterion", childID)
				continue
			}
			if leaf.Invalid || leaf.Fields == nil {
				b.report(AnomalyInvalidLeaf, leaf.ID, "criterion no longer matches the %s schema", leaf.Kind)
				continue
			}
			node.Criteria = append(node.Criteria, RequestNode{
				Type:         nodeBasicResource,
				ID:           leaf.ID,
				IsInclusive:  leaf.Inclusive,
				ResourceType: leaf.Fields.Kind(),
				FilterFhir:   Compile(leaf).Join(),
				Occurrence:   leaf.Occurrence,
			})
			continue
		}
		child, ok := b.state.Group(childID)
		if !ok {
			b.report(AnomalyDanglingChild, g.ID, "child %d resolves to no group", childID)
			continue
		}
		if sub, ok := b.group(child); ok {
			node.Criteria = append(node.Criteria, sub)
		}
	}

	if node.NAmongMOptions != nil && node.NAmongMOptions.N > len(node.Criteria) {
		b.report(AnomalyThreshold, g.ID, "threshold %d exceeds %d usable criteria", node.NAmongMOptions.N, len(node.Criteria))
	}
	if len(node.Criteria) == 0 {
		return RequestNode{}, false
	}
	return node, true
}

// RequestLeaf is a criterion recovered from a request document.
type RequestLeaf struct {
	ID           int
	Inclusive    bool
	ResourceType ResourceKind
	FilterFhir   string
	Occurrence   *Occurrence
}

// ParseRequestGroups recovers the group skeleton of a request document:
// ids, combinators, thresholds, inclusion and child order, plus the
// compiled criteria. Field bags cannot be recovered from filter text.
func ParseRequestGroups(doc RequestDocument) ([]GroupNode, []RequestLeaf, error) {
	if doc.Request == nil {
		return nil, nil, nil
	}
	var groups []GroupNode
	var leaves []RequestLeaf
	var walk func(n RequestNode, isSub bool) error
	walk = func(n RequestNode, isSub bool) error {
		g := GroupNode{ID: n.ID, Inclusive: n.IsInclusive, IsSubgroup: isSub, ChildIDs: []int{}}
		switch n.Type {
		case nodeAndGroup:
			g.Combinator = CombinatorAnd
		case nodeOrGroup:
			g.Combinator = CombinatorOr
		case nodeNAmongM:
			if n.NAmongMOptions == nil {
				return fmt.Errorf("group %d: nAmongM without options", n.ID)
			}
			op, err := operatorFromWire(n.NAmongMOptions.Operator)
			if err != nil {
				return fmt.Errorf("group %d: %w", n.ID, err)
			}
			g.Combinator = CombinatorNAmongM
			g.ComparisonOperator = op
			g.Threshold = n.NAmongMOptions.N
		default:
			return fmt.Errorf("group %d: unexpected node type %q", n.ID, n.Type)
		}
		for _, c := range n.Criteria {
			g.ChildIDs = append(g.ChildIDs, c.ID)
			if c.Type == nodeBasicResource {
				leaves = append(leaves, RequestLeaf{
					ID:           c.ID,
					Inclusive:    c.IsInclusive,
					ResourceType: c.ResourceType,
					FilterFhir:   c.FilterFhir,
					Occurrence:   c.Occurrence,
				})
				continue
			}
			if err := walk(c, true); err != nil {
				return err
			}
		}
		groups = append(groups, g)
		return nil
	}
	if err := walk(*doc.Request, false); err != nil {
		return nil, nil, err
	}
	return groups, leaves, nil
}

func operatorFromWire(op string) (ComparisonOperator, error) {
	for stored, wire := range wireOperators {
		if wire == op {
			return stored, nil
		}
	}
	return OperatorNone, fmt.Errorf("%w %q", ErrUnknownOperator, op)
}

// EncodeRequest renders the request document as the JSON string the backend
// and the snapshot store expect.
func EncodeRequest(doc RequestDocument) (string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode request document: %w", err)
	}
	return string(raw), nil
}
