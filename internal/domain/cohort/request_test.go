package cohort

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRequest_Shape(t *testing.T) {
	s := sampleState(t)
	doc, anomalies := BuildRequest(s, []string{"118"})
	assert.Empty(t, anomalies)

	assert.Equal(t, RequestVersion, doc.Version)
	assert.Equal(t, "request", doc.Type)
	require.NotNil(t, doc.SourcePopulation)
	assert.Equal(t, []string{"118"}, doc.SourcePopulation.CaresiteCohortList)

	root := doc.Request
	require.NotNil(t, root)
	assert.Equal(t, "andGroup", root.Type)
	assert.True(t, root.IsInclusive)
	require.Len(t, root.Criteria, 2)

	sub := root.Criteria[0]
	assert.Equal(t, "nAmongM", sub.Type)
	assert.Equal(t, -1, sub.ID)
	assert.Equal(t, &NAmongMOptions{N: 1, Operator: ">="}, sub.NAmongMOptions)
	require.Len(t, sub.Criteria, 2)
	assert.Equal(t, "basicResource", sub.Criteria[0].Type)
	assert.Equal(t, KindCondition, sub.Criteria[0].ResourceType)
	assert.Equal(t, "subject.active=true&code=cim10|I10", sub.Criteria[0].FilterFhir)
	assert.Equal(t, &Occurrence{N: 2, Operator: ">="}, sub.Criteria[1].Occurrence)

	patient := root.Criteria[1]
	assert.Equal(t, KindPatient, patient.ResourceType)
	assert.Equal(t, "active=true&gender=f&age-day=ge6574", patient.FilterFhir)
}

func TestBuildRequest_OperatorMapping(t *testing.T) {
	for op, wire := range map[ComparisonOperator]string{
		OperatorAtLeast: ">=",
		OperatorAtMost:  "<=",
		OperatorExactly: "=",
	} {
		s, gid, _ := NewState().AddGroup(RootGroupID, CombinatorNAmongM)
		s, _, _ = s.AddLeaf(gid, patientLeaf())
		op := op
		s, err := s.EditGroup(gid, GroupPatch{ComparisonOperator: &op})
		require.NoError(t, err)

		doc, anomalies := BuildRequest(s, nil)
		assert.Empty(t, anomalies)
		assert.Nil(t, doc.SourcePopulation)
		assert.Equal(t, wire, doc.Request.Criteria[0].NAmongMOptions.Operator)
	}
}

func TestBuildRequest_OmitsInvalidLeavesAndEmptyGroups(t *testing.T) {
	s, gid, _ := NewState().AddGroup(RootGroupID, CombinatorOr)
	s, bad, _ := s.AddLeaf(gid, patientLeaf())
	s, good, _ := s.AddLeaf(RootGroupID, NewLeaf("HTA", ConditionCriteria{Codes: []Code{{Code: "I10"}}}))
	s, _, _ = s.AddGroup(RootGroupID, CombinatorAnd)
	i := s.leafIndex(bad)
	s.Criteria[i].Invalid = true
	s.Criteria[i].Fields = nil

	doc, anomalies := BuildRequest(s, nil)
	require.NotNil(t, doc.Request)
	require.Len(t, doc.Request.Criteria, 1)
	assert.Equal(t, good, doc.Request.Criteria[0].ID)
	assert.Equal(t, []Anomaly{{Kind: AnomalyInvalidLeaf, NodeID: bad, Detail: "criterion no longer matches the Patient schema"}}, anomalies)
}

func TestBuildRequest_EmptyTree(t *testing.T) {
	doc, anomalies := BuildRequest(NewState(), nil)
	assert.Empty(t, anomalies)
	assert.Nil(t, doc.Request)

	raw, err := EncodeRequest(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"v1.4.0","_type":"request"}`, raw)
}

func TestBuildRequest_ReportsStructuralProblems(t *testing.T) {
	s, gid, _ := NewState().AddGroup(RootGroupID, CombinatorNAmongM)
	s, _, _ = s.AddLeaf(gid, patientLeaf())
	s, _, _ = s.AddLeaf(gid, patientLeaf())
	two := 2
	s, _ = s.EditGroup(gid, GroupPatch{Threshold: &two})
	s.Groups[0].ChildIDs = append(s.Groups[0].ChildIDs, 50)
	s.Criteria[1].Invalid = true

	_, anomalies := BuildRequest(s, nil)
	assert.ElementsMatch(t, []AnomalyKind{AnomalyInvalidLeaf, AnomalyThreshold, AnomalyDanglingChild}, kindsOf(anomalies))

	s.Groups[1].ComparisonOperator = "~"
	doc, anomalies := BuildRequest(s, nil)
	assert.Contains(t, kindsOf(anomalies), AnomalyOperator)
	assert.Nil(t, doc.Request)

	missing := State{}
	_, anomalies = BuildRequest(missing, nil)
	assert.Equal(t, []AnomalyKind{AnomalyMissingRoot}, kindsOf(anomalies))
}

func TestParseRequestGroups_RoundTrip(t *testing.T) {
	s := sampleState(t)
	atMost, excluded := OperatorAtMost, false
	s, err := s.EditGroup(-1, GroupPatch{ComparisonOperator: &atMost, Inclusive: &excluded})
	require.NoError(t, err)

	doc, _ := BuildRequest(s, nil)
	raw, err := EncodeRequest(doc)
	require.NoError(t, err)
	var decoded RequestDocument
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))

	groups, leaves, err := ParseRequestGroups(decoded)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	sub, root := groups[0], groups[1]

	orig, _ := s.Group(-1)
	assert.Equal(t, orig.Combinator, sub.Combinator)
	assert.Equal(t, orig.ComparisonOperator, sub.ComparisonOperator)
	assert.Equal(t, orig.Threshold, sub.Threshold)
	assert.Equal(t, orig.ChildIDs, sub.ChildIDs)
	assert.False(t, sub.Inclusive)
	assert.True(t, sub.IsSubgroup)

	assert.Equal(t, RootGroupID, root.ID)
	assert.Equal(t, CombinatorAnd, root.Combinator)
	assert.Equal(t, []int{-1, 1}, root.ChildIDs)

	require.Len(t, leaves, 3)
	for _, l := range leaves {
		orig, ok := s.Leaf(l.ID)
		require.True(t, ok)
		assert.Equal(t, Compile(orig).Join(), l.FilterFhir)
		assert.Equal(t, orig.Kind, l.ResourceType)
	}
}

func TestParseRequestGroups_Errors(t *testing.T) {
	groups, leaves, err := ParseRequestGroups(RequestDocument{})
	assert.NoError(t, err)
	assert.Nil(t, groups)
	assert.Nil(t, leaves)

	_, _, err = ParseRequestGroups(RequestDocument{Request: &RequestNode{Type: "xorGroup"}})
	assert.Error(t, err)

	_, _, err = ParseRequestGroups(RequestDocument{Request: &RequestNode{Type: "nAmongM"}})
	assert.Error(t, err)

	_, _, err = ParseRequestGroups(RequestDocument{Request: &RequestNode{
		Type:           "nAmongM",
		NAmongMOptions: &NAmongMOptions{N: 1, Operator: "!="},
	}})
	assert.ErrorIs(t, err, ErrUnknownOperator)
}
