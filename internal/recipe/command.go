// Package recipe holds the declarative command sequences executed against
// page bindings, and the executor that interprets them. Commands are data,
// never code: a closed set of typed variants with exhaustive matching at
// every consumption site.
package recipe

import (
	"encoding/json"
	"fmt"
)

// CommandType enumerates the closed command vocabulary.
type CommandType string

const (
	OpenPage          CommandType = "OPEN_PAGE"
	WaitFor           CommandType = "WAIT_FOR"
	ForEachItemInList CommandType = "FOR_EACH_ITEM_IN_LIST"
	ExtractDetails    CommandType = "EXTRACT_DETAILS"
	SaveItem          CommandType = "SAVE"
	MarkDone          CommandType = "MARK_DONE"
	Scroll            CommandType = "SCROLL"
	TypeText          CommandType = "TYPE"
	Submit            CommandType = "SUBMIT"
	End               CommandType = "END"
)

// Command is one step of a recipe. Fields are interpreted per Type;
// selector-valued fields may name a semantic binding key (LIST,
// DETAILS_PANEL, ...) or carry a raw CSS selector.
type Command struct {
	Type CommandType `json:"type"`

	URL       string    `json:"url,omitempty"`       // OPEN_PAGE
	Condition string    `json:"condition,omitempty"` // WAIT_FOR: condition or region key
	Body      []Command `json:"body,omitempty"`      // FOR_EACH_ITEM_IN_LIST
	MaxItems  int       `json:"maxItems,omitempty"`  // FOR_EACH_ITEM_IN_LIST budget override
	Selector  string    `json:"selector,omitempty"`  // TYPE / SUBMIT target
	Text      string    `json:"text,omitempty"`      // TYPE
	Direction string    `json:"direction,omitempty"` // SCROLL
}

// Recipe is an ordered command list bound to a URL pattern at run time.
type Recipe struct {
	Name       string    `json:"name"`
	URLPattern string    `json:"urlPattern"`
	Commands   []Command `json:"commands"`
}

// EntryURL returns the target of the first OPEN_PAGE command, or "" when
// the recipe assumes the driver is already positioned.
func (r *Recipe) EntryURL() string {
	for _, c := range r.Commands {
		if c.Type == OpenPage {
			return c.URL
		}
	}
	return ""
}

// Validate rejects unknown command variants and structurally broken
// commands before anything touches a driver.
func (r *Recipe) Validate() error {
	if r.URLPattern == "" {
		return fmt.Errorf("recipe %q: urlPattern is required", r.Name)
	}
	if len(r.Commands) == 0 {
		return fmt.Errorf("recipe %q: no commands", r.Name)
	}
	return validateCommands(r.Commands, false)
}

func validateCommands(cmds []Command, inBody bool) error {
	for i, c := range cmds {
		switch c.Type {
		case OpenPage:
			if c.URL == "" {
				return fmt.Errorf("command %d: OPEN_PAGE requires url", i)
			}
		case WaitFor:
			if c.Condition == "" {
				return fmt.Errorf("command %d: WAIT_FOR requires condition", i)
			}
		case ForEachItemInList:
			if inBody {
				return fmt.Errorf("command %d: FOR_EACH_ITEM_IN_LIST cannot nest", i)
			}
			if len(c.Body) == 0 {
				return fmt.Errorf("command %d: FOR_EACH_ITEM_IN_LIST requires a body", i)
			}
			if err := validateCommands(c.Body, true); err != nil {
				return err
			}
		case ExtractDetails, SaveItem, MarkDone:
			if !inBody {
				return fmt.Errorf("command %d: %s only valid inside FOR_EACH_ITEM_IN_LIST", i, c.Type)
			}
		case TypeText:
			if c.Selector == "" {
				return fmt.Errorf("command %d: TYPE requires selector", i)
			}
		case Submit:
			if c.Selector == "" {
				return fmt.Errorf("command %d: SUBMIT requires selector", i)
			}
		case Scroll, End:
		default:
			return fmt.Errorf("command %d: unknown command type %q", i, c.Type)
		}
	}
	return nil
}

// ParseRecipe decodes and validates a recipe from JSON.
func ParseRecipe(data []byte) (*Recipe, error) {
	var r Recipe
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode recipe: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}
