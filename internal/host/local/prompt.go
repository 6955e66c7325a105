package local

import (
	"context"

	"github.com/charmbracelet/huh"
)

// Prompter asks the user a yes/no question.
type Prompter interface {
	Confirm(ctx context.Context, title, description string) (bool, error)
}

// HuhPrompter asks on the terminal.
type HuhPrompter struct{}

func (HuhPrompter) Confirm(ctx context.Context, title, description string) (bool, error) {
	var ok bool
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description(description).
				Affirmative("Allow").
				Negative("Block").
				Value(&ok),
		),
	).RunWithContext(ctx)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// StaticPrompter answers every question with Answer, for --yes and tests.
type StaticPrompter struct {
	Answer bool
	Asked  int
}

func (p *StaticPrompter) Confirm(ctx context.Context, title, description string) (bool, error) {
	p.Asked++
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return p.Answer, nil
}
