// Package prompt provides the interactive terminal prompts used by the
// offload CLI when a credential or config value is missing.
package prompt

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user aborts a prompt (Ctrl+C).
var ErrAborted = errors.New("aborted")

// IsAborted returns true if the error indicates the user aborted (Ctrl+C).
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrAbort) || errors.Is(err, ErrAborted)
}

// wrapError converts promptui interrupt/abort errors to ErrAborted.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsAborted(err) {
		return ErrAborted
	}
	return err
}

// Input prompts for text input, pre-filled with defaultValue.
func Input(label, defaultValue string) (string, error) {
	p := promptui.Prompt{
		Label:   label,
		Default: defaultValue,
	}

	result, err := p.Run()
	return result, wrapError(err)
}

// InputPositive prompts for an integer greater than zero.
func InputPositive(label string, defaultValue int) (int, error) {
	p := promptui.Prompt{
		Label:    label,
		Default:  strconv.Itoa(defaultValue),
		Validate: validatePositive,
	}

	result, err := p.Run()
	if err != nil {
		return 0, wrapError(err)
	}

	value, _ := strconv.Atoi(result) // Already validated
	return value, nil
}

func validatePositive(input string) error {
	n, err := strconv.Atoi(input)
	if err != nil {
		return fmt.Errorf("must be a valid integer")
	}
	if n < 1 {
		return fmt.Errorf("must be greater than zero")
	}
	return nil
}

// SelectOption represents an item in a selection list.
type SelectOption struct {
	Label       string
	Value       string
	Description string
}

// Select prompts the user to pick one of options and returns its Value.
func Select(label string, options []SelectOption) (string, error) {
	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "> {{ .Label | cyan }}",
		Inactive: "  {{ .Label | white }}",
		Selected: "* {{ .Label | green }}",
		Details: `
{{ "Description:" | faint }}	{{ .Description }}`,
	}

	p := promptui.Select{
		Label:     label,
		Items:     options,
		Templates: templates,
		Size:      len(options),
	}

	i, _, err := p.Run()
	if err != nil {
		return "", wrapError(err)
	}

	return options[i].Value, nil
}
