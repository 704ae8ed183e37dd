// Package prompt wraps promptui for the interactive init flow.
package prompt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user aborts a prompt (Ctrl+C).
var ErrAborted = errors.New("aborted")

// IsAborted reports whether err means the user gave up on a prompt.
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrAbort) || errors.Is(err, ErrAborted)
}

func wrapError(err error) error {
	if err != nil && IsAborted(err) {
		return ErrAborted
	}
	return err
}

// Input prompts for text, returning defaultValue on an empty answer.
func Input(label, defaultValue string) (string, error) {
	p := promptui.Prompt{Label: label, Default: defaultValue}
	result, err := p.Run()
	return strings.TrimSpace(result), wrapError(err)
}

// InputRequired prompts until a non-empty answer is given.
func InputRequired(label, defaultValue string) (string, error) {
	p := promptui.Prompt{
		Label:    label,
		Default:  defaultValue,
		Validate: NotEmpty,
	}
	result, err := p.Run()
	return strings.TrimSpace(result), wrapError(err)
}

// Secret prompts for masked input. An empty answer is allowed.
func Secret(label string) (string, error) {
	p := promptui.Prompt{Label: label, Mask: '*'}
	result, err := p.Run()
	return result, wrapError(err)
}

// Uint prompts for a non-negative integer.
func Uint(label string, defaultValue uint64) (uint64, error) {
	p := promptui.Prompt{
		Label:    label,
		Default:  strconv.FormatUint(defaultValue, 10),
		Validate: ValidUint,
	}
	result, err := p.Run()
	if err != nil {
		return 0, wrapError(err)
	}
	n, _ := strconv.ParseUint(strings.TrimSpace(result), 10, 64)
	return n, nil
}

// Port prompts for a TCP port.
func Port(label string, defaultValue int) (int, error) {
	p := promptui.Prompt{
		Label:    label,
		Default:  strconv.Itoa(defaultValue),
		Validate: ValidPort,
	}
	result, err := p.Run()
	if err != nil {
		return 0, wrapError(err)
	}
	port, _ := strconv.Atoi(strings.TrimSpace(result))
	return port, nil
}

// Select prompts for one of items and returns it.
func Select(label string, items []string) (string, error) {
	p := promptui.Select{
		Label: label,
		Items: items,
		Size:  len(items),
		Templates: &promptui.SelectTemplates{
			Label:    "{{ . }}",
			Active:   "> {{ . | cyan }}",
			Inactive: "  {{ . }}",
			Selected: "* {{ . | green }}",
		},
	}
	_, result, err := p.Run()
	return result, wrapError(err)
}

// Confirm prompts for yes/no. An empty answer returns defaultYes.
func Confirm(label string, defaultYes bool) (bool, error) {
	hint := "y/N"
	if defaultYes {
		hint = "Y/n"
	}
	p := promptui.Prompt{Label: fmt.Sprintf("%s [%s]", label, hint), IsConfirm: true}

	result, err := p.Run()
	switch {
	case err == nil:
		return ParseYes(result, defaultYes), nil
	case errors.Is(err, promptui.ErrInterrupt):
		return false, ErrAborted
	case result == "":
		return defaultYes, nil
	case errors.Is(err, promptui.ErrAbort):
		// promptui reports an explicit "n" as ErrAbort.
		return false, nil
	default:
		return false, err
	}
}

// NotEmpty rejects blank input.
func NotEmpty(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("value is required")
	}
	return nil
}

// ValidUint accepts non-negative integers.
func ValidUint(s string) error {
	if _, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64); err != nil {
		return errors.New("must be a non-negative integer")
	}
	return nil
}

// ValidPort accepts 1..65535.
func ValidPort(s string) error {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return errors.New("must be a valid integer")
	}
	if port < 1 || port > 65535 {
		return errors.New("must be a valid port (1-65535)")
	}
	return nil
}

// ParseYes interprets a confirmation answer.
func ParseYes(s string, defaultYes bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return defaultYes
	case "y", "yes":
		return true
	default:
		return false
	}
}
