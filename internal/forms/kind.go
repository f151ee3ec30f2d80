package forms

import (
	"fmt"
	"slices"
	"strings"
)

// Kind is the declared value kind of a field. The set of kinds is closed:
// TextKind, NumberKind, BooleanKind, DateKind and SelectKind.
type Kind interface {
	Name() string
	sealed()
}

type TextKind struct{}

type NumberKind struct{}

type BooleanKind struct{}

// DateKind values are collected as free text (e.g. "15.03.2025").
type DateKind struct{}

// SelectKind restricts answers to one of Choices.
type SelectKind struct {
	Choices []string
}

func (TextKind) Name() string { return "text" }
func (NumberKind) Name() string { return "number" }
func (BooleanKind) Name() string { return "boolean" }
func (DateKind) Name() string { return "date" }
func (SelectKind) Name() string { return "select" }

func (TextKind) sealed() {}
func (NumberKind) sealed() {}
func (BooleanKind) sealed() {}
func (DateKind) sealed() {}
func (SelectKind) sealed() {}

// Allows reports whether choice is one of the select options (case-insensitive).
func (k SelectKind) Allows(choice string) bool {
	return slices.ContainsFunc(k.Choices, func(c string) bool {
		return strings.EqualFold(c, strings.TrimSpace(choice))
	})
}

// ParseKind builds a Kind from its catalog name. Options are required for
// "select" and rejected for every other kind.
func ParseKind(name string, options []string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name != "select" && len(options) > 0 {
		return nil, fmt.Errorf("kind %q does not take options", name)
	}
	switch name {
	case "text":
		return TextKind{}, nil
	case "number":
		return NumberKind{}, nil
	case "boolean":
		return BooleanKind{}, nil
	case "date":
		return DateKind{}, nil
	case "select":
		if len(options) == 0 {
			return nil, fmt.Errorf("select kind requires options")
		}
		return SelectKind{Choices: slices.Clone(options)}, nil
	default:
		return nil, fmt.Errorf("unknown field kind %q", name)
	}
}

// Choices returns the allowed options of k, or nil when k is not a select.
func Choices(k Kind) []string {
	if s, ok := k.(SelectKind); ok {
		return s.Choices
	}
	return nil
}
