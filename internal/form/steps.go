package form

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Wizard step names.
const (
	StepDetails           = "details"
	StepRVPersonalDetails = "rv_personal_details"
	StepRVNeighbours      = "rv_neighbours"
	StepBVBasic           = "bv_basic"
	StepWorkDetails       = "work_details"
	StepBVNeighbours      = "bv_neighbours"
	StepCaseStatus        = "case_status"
	StepTakePictures      = "take_pictures"
	StepPreview           = "preview"
	StepRemarkSubmit      = "remark_submit"
)

var (
	residentialSteps = []string{
		StepDetails, StepRVPersonalDetails, StepRVNeighbours, StepCaseStatus,
		StepTakePictures, StepPreview, StepRemarkSubmit,
	}
	businessSteps = []string{
		StepDetails, StepBVBasic, StepWorkDetails, StepBVNeighbours, StepCaseStatus,
		StepTakePictures, StepPreview, StepRemarkSubmit,
	}
)

// ErrRequired is wrapped by validation errors for missing fields.
var ErrRequired = errors.New("form: required field missing")

// ErrUnknownStep is returned for a step name the wizard does not have.
var ErrUnknownStep = errors.New("form: unknown step")

// Steps returns the wizard steps for kind in order. Cases whose kind is not
// known use the business wizard.
func Steps(kind Kind) []string {
	if kind == KindResidential {
		return slices.Clone(residentialSteps)
	}

	return slices.Clone(businessSteps)
}

// HasStep reports whether step belongs to the wizard for kind.
func HasStep(kind Kind, step string) bool {
	return slices.Contains(Steps(kind), step)
}

// IsFinalStep reports whether step is the last step of the wizard, the one
// from which a case is submitted.
func IsFinalStep(kind Kind, step string) bool {
	steps := Steps(kind)
	return step == steps[len(steps)-1]
}

// NextStep returns the step after step, or "" at the end of the wizard.
func NextStep(kind Kind, step string) (string, error) {
	steps := Steps(kind)

	i := slices.Index(steps, step)
	if i < 0 {
		return "", fmt.Errorf("%w: %q", ErrUnknownStep, step)
	}

	if i == len(steps)-1 {
		return "", nil
	}

	return steps[i+1], nil
}

// ValidateStep checks the fields a step requires before the wizard may move
// past it.
func (p *Payload) ValidateStep(step string) error {
	var errs []error

	switch step {
	case StepCaseStatus:
		if blank(p.Common.CaseStatus) {
			errs = append(errs, fmt.Errorf("%w: case_status", ErrRequired))
		}
	case StepPreview, StepRemarkSubmit:
		if blank(p.Common.AdditionalRemark) {
			errs = append(errs, fmt.Errorf("%w: additional_remark", ErrRequired))
		}
	}

	return errors.Join(errs...)
}

// CanEnter checks every step before step, so a case can only be moved
// forward once the earlier steps are complete.
func (p *Payload) CanEnter(step string) error {
	steps := Steps(p.Kind)

	i := slices.Index(steps, step)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownStep, step)
	}

	var errs []error

	for _, s := range steps[:i] {
		if err := p.ValidateStep(s); err != nil {
			errs = append(errs, fmt.Errorf("step %s: %w", s, err))
		}
	}

	return errors.Join(errs...)
}

// Validate checks the payload is complete enough to submit.
func (p *Payload) Validate() error {
	var errs []error

	if blank(p.Common.CaseStatus) {
		errs = append(errs, fmt.Errorf("%w: case_status", ErrRequired))
	}

	if blank(p.Common.AdditionalRemark) {
		errs = append(errs, fmt.Errorf("%w: additional_remark", ErrRequired))
	}

	return errors.Join(errs...)
}

func blank(t Text) bool {
	return strings.TrimSpace(string(t)) == ""
}
