package feedback

import "strings"

// Label is an operator's judgment on an automated fault response.
type Label string

// The closed label vocabulary. Values are the canonical stored tokens.
const (
	LabelCorrect      Label = "correct"
	LabelInsufficient Label = "insufficient"
	LabelWrong        Label = "wrong"
)

// Labels returns the label set in prompt order.
func Labels() []Label {
	return []Label{LabelCorrect, LabelInsufficient, LabelWrong}
}

// ParseLabel accepts any casing and surrounding whitespace and returns the
// canonical lowercase label.
func ParseLabel(s string) (Label, error) {
	switch l := Label(strings.ToLower(strings.TrimSpace(s))); l {
	case LabelCorrect, LabelInsufficient, LabelWrong:
		return l, nil
	}
	return "", &ValidationError{
		Field:  "label",
		Reason: "must be one of " + labelList(),
		Value:  s,
	}
}

// Valid reports whether l is a member of the closed set.
func (l Label) Valid() bool {
	switch l {
	case LabelCorrect, LabelInsufficient, LabelWrong:
		return true
	}
	return false
}

func (l Label) String() string {
	return string(l)
}

func labelList() string {
	parts := make([]string, 0, 3)
	for _, l := range Labels() {
		parts = append(parts, string(l))
	}
	return strings.Join(parts, ", ")
}
