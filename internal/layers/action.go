package layers

import "fmt"

// Action is a layer management operation.
type Action string

const (
	ActionRename      Action = "rename"
	ActionDelete      Action = "delete"
	ActionUpdateStyle Action = "update_style"
)

// InvalidActionError reports an action name outside the known set.
type InvalidActionError struct {
	Action string
}

func (e *InvalidActionError) Error() string {
	return fmt.Sprintf("layers: invalid action %q", e.Action)
}

// ParseAction maps a wire action name to an Action.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionRename, ActionDelete, ActionUpdateStyle:
		return a, nil
	default:
		return "", &InvalidActionError{Action: s}
	}
}

// ManageParams carries the optional arguments of Manage.
type ManageParams struct {
	NewName string
	Color   string
	Icon    string
}
