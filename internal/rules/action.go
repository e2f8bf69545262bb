package rules

import (
	"fmt"
	"strings"
)

// Action names the desk and/or model a matching rule prefers.
type Action struct {
	DeskID  string `json:"deskId,omitempty"`
	ModelID string `json:"modelId,omitempty"`
}

// PreferDesk routes to a desk.
func PreferDesk(deskID string) Action { return Action{DeskID: deskID} }

// PreferModel routes to any desk bound to a model.
func PreferModel(modelID string) Action { return Action{ModelID: modelID} }

// PreferDeskAndModel routes to a desk and overrides its model.
func PreferDeskAndModel(deskID, modelID string) Action {
	return Action{DeskID: deskID, ModelID: modelID}
}

// Validate requires at least one target.
func (a Action) Validate() error {
	if strings.TrimSpace(a.DeskID) == "" && strings.TrimSpace(a.ModelID) == "" {
		return fmt.Errorf("%w: action needs deskId or modelId", ErrInvalidRule)
	}
	return nil
}

func (a Action) normalized() Action {
	return Action{DeskID: strings.TrimSpace(a.DeskID), ModelID: strings.TrimSpace(a.ModelID)}
}
