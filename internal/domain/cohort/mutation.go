package cohort

import (
	"context"
	"errors"
	"fmt"
)

// MutationOp names one tree edit.
type MutationOp string

const (
	OpAddLeaf     MutationOp = "addLeaf"
	OpEditLeaf    MutationOp = "editLeaf"
	OpDeleteLeaf  MutationOp = "deleteLeaf"
	OpAddGroup    MutationOp = "addGroup"
	OpEditGroup   MutationOp = "editGroup"
	OpDeleteGroup MutationOp = "deleteGroup"
	OpSetChoice   MutationOp = "setChoice"
	OpCleanup     MutationOp = "cleanup"
)

// Mutation is one edit sent by a client holding a State. Only the fields
// the op needs are read.
type Mutation struct {
	Op         MutationOp  `json:"op"`
	ID         int         `json:"id,omitempty"`
	ParentID   int         `json:"parentId,omitempty"`
	Criterion  *LeafNode   `json:"criterion,omitempty"`
	Combinator Combinator  `json:"type,omitempty"`
	Patch      *GroupPatch `json:"patch,omitempty"`
	Choice     *Choice     `json:"choice,omitempty"`
}

// MutationResult is the state after an edit. NotFound is set when the edit
// targeted an id that no longer exists and State is the input unchanged.
type MutationResult struct {
	State    State `json:"state"`
	NodeID   int   `json:"nodeId,omitempty"`
	Removed  []int `json:"removed,omitempty"`
	NotFound bool  `json:"notFound,omitempty"`
}

// ErrUnknownMutation is returned for an op the service does not know.
var ErrUnknownMutation = errors.New("unknown mutation")

// Apply runs one edit against state. A stale id is not an error: the
// result carries the input state with NotFound set. ErrRootGroup and
// validation errors are returned as errors.
func (s *Service) Apply(ctx context.Context, state State, m Mutation) (*MutationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := applyMutation(state, m)
	switch {
	case errors.Is(err, ErrNotFound):
		s.metrics.IncrementMutation(string(m.Op), "not-found")
		s.logger.Debug().Str("op", string(m.Op)).Err(err).Msg("mutation on stale id ignored")
		return &MutationResult{State: state, NotFound: true}, nil
	case err != nil:
		s.metrics.IncrementMutation(string(m.Op), "rejected")
		return nil, err
	}
	s.metrics.IncrementMutation(string(m.Op), "ok")
	return res, nil
}

func applyMutation(state State, m Mutation) (*MutationResult, error) {
	res := &MutationResult{}
	var err error
	switch m.Op {
	case OpAddLeaf:
		if m.Criterion == nil {
			return nil, ErrNoFields
		}
		res.State, res.NodeID, err = state.AddLeaf(m.ParentID, *m.Criterion)
	case OpEditLeaf:
		if m.Criterion == nil {
			return nil, ErrNoFields
		}
		res.State, err = state.EditLeaf(m.ID, *m.Criterion)
		res.NodeID = m.ID
	case OpDeleteLeaf:
		res.State, err = state.DeleteLeaf(m.ID)
	case OpAddGroup:
		res.State, res.NodeID, err = state.AddGroup(m.ParentID, m.Combinator)
	case OpEditGroup:
		if m.Patch == nil {
			return nil, fmt.Errorf("%w: editGroup without patch", ErrUnknownMutation)
		}
		res.State, err = state.EditGroup(m.ID, *m.Patch)
		res.NodeID = m.ID
	case OpSetChoice:
		if m.Choice == nil {
			return nil, fmt.Errorf("%w: setChoice without choice", ErrUnknownMutation)
		}
		var patch GroupPatch
		if patch, err = ApplyChoice(*m.Choice); err != nil {
			return nil, err
		}
		res.State, err = state.EditGroup(m.ID, patch)
		res.NodeID = m.ID
	case OpDeleteGroup:
		res.State, err = state.DeleteGroup(m.ID)
	case OpCleanup:
		res.State, res.Removed = state.CleanupEmptyGroups()
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownMutation, m.Op)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}
