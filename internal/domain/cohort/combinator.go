package cohort

import (
	"errors"
	"fmt"
)

// ChoiceKind is the user-facing way of combining a group's children.
type ChoiceKind string

const (
	ChoiceAll     ChoiceKind = "all"
	ChoiceAny     ChoiceKind = "any"
	ChoiceExactly ChoiceKind = "exactly"
	ChoiceAtLeast ChoiceKind = "at-least"
	ChoiceAtMost  ChoiceKind = "at-most"
)

// Choice is a user-facing combinator. K is only meaningful for exactly,
// at-least and at-most.
type Choice struct {
	Kind ChoiceKind `json:"kind"`
	K    int        `json:"k,omitempty"`
}

// StoredCombinator is the persisted two-field representation of a Choice.
type StoredCombinator struct {
	Combinator         Combinator
	ComparisonOperator ComparisonOperator
	Threshold          int
}

var (
	ErrUnknownChoice   = errors.New("unknown combinator choice")
	ErrUnknownOperator = errors.New("unknown comparison operator")
)

var choiceOperators = map[ChoiceKind]ComparisonOperator{
	ChoiceExactly: OperatorExactly,
	ChoiceAtLeast: OperatorAtLeast,
	ChoiceAtMost:  OperatorAtMost,
}

// ToStored maps a user choice onto the stored representation. Counted
// choices with K below one are raised to one.
func ToStored(c Choice) (StoredCombinator, error) {
	switch c.Kind {
	case ChoiceAll:
		return StoredCombinator{Combinator: CombinatorAnd}, nil
	case ChoiceAny:
		return StoredCombinator{Combinator: CombinatorOr}, nil
	}
	op, ok := choiceOperators[c.Kind]
	if !ok {
		return StoredCombinator{}, fmt.Errorf("%w: %q", ErrUnknownChoice, c.Kind)
	}
	return StoredCombinator{
		Combinator:         CombinatorNAmongM,
		ComparisonOperator: op,
		Threshold:          max(c.K, 1),
	}, nil
}

// ChoiceFor maps a stored group back to exactly one user choice. An
// N_AMONG_M group whose operator is not one of '<', '>', '=' is a defect
// and is reported, never coerced.
func ChoiceFor(g GroupNode) (Choice, error) {
	switch g.Combinator {
	case CombinatorAnd:
		return Choice{Kind: ChoiceAll}, nil
	case CombinatorOr:
		return Choice{Kind: ChoiceAny}, nil
	case CombinatorNAmongM:
		for kind, op := range choiceOperators {
			if g.ComparisonOperator == op {
				return Choice{Kind: kind, K: g.Threshold}, nil
			}
		}
		return Choice{}, fmt.Errorf("%w %q on group %d", ErrUnknownOperator, g.ComparisonOperator, g.ID)
	}
	return Choice{}, fmt.Errorf("%w: combinator %q on group %d", ErrUnknownChoice, g.Combinator, g.ID)
}

// ApplyChoice returns a patch that moves a group to the given choice.
func ApplyChoice(c Choice) (GroupPatch, error) {
	stored, err := ToStored(c)
	if err != nil {
		return GroupPatch{}, err
	}
	patch := GroupPatch{Combinator: &stored.Combinator}
	if stored.Combinator == CombinatorNAmongM {
		patch.ComparisonOperator = &stored.ComparisonOperator
		patch.Threshold = &stored.Threshold
	}
	return patch, nil
}
