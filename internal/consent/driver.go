package consent

import (
	"context"
	"errors"
	"fmt"

	"github.com/xkilldash9x/consentscope/internal/browser"
)

// errStale marks a candidate that vanished or refused the click. It is a
// per-element failure; the engine moves on to the next candidate.
var errStale = errors.New("consent control not actionable")

// Driver is the page surface the engine needs.
type Driver interface {
	Candidates(ctx context.Context, depth int) ([]Candidate, error)
	Click(ctx context.Context, index int) error
	// SetToggle switches a checkbox or switch and reports whether it changed.
	SetToggle(ctx context.Context, index int, on bool) (bool, error)
	CallAPI(ctx context.Context, calls []APICall) (APIResult, error)
}

// Evaluator runs JavaScript in a page. *browser.Session satisfies it.
type Evaluator interface {
	Evaluate(ctx context.Context, expr string, out any) error
}

var _ Evaluator = (*browser.Session)(nil)

type cdpDriver struct {
	page      Evaluator
	selectors []selectorRef
}

// NewDriver returns a Driver that acts on a live page.
func NewDriver(page Evaluator) Driver {
	return &cdpDriver{page: page, selectors: allSelectors()}
}

func (d *cdpDriver) Candidates(ctx context.Context, depth int) ([]Candidate, error) {
	var out []Candidate
	if err := d.page.Evaluate(ctx, buildTraversal(depth, d.selectors), &out); err != nil {
		return nil, fmt.Errorf("discover consent controls: %w", err)
	}
	return out, nil
}

type actionResult struct {
	OK      bool   `json:"ok"`
	Changed bool   `json:"changed"`
	Reason  string `json:"reason"`
}

func (d *cdpDriver) Click(ctx context.Context, index int) error {
	var res actionResult
	if err := d.page.Evaluate(ctx, buildClick(index), &res); err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("%w: %s", errStale, res.Reason)
	}
	return nil
}

func (d *cdpDriver) SetToggle(ctx context.Context, index int, on bool) (bool, error) {
	var res actionResult
	if err := d.page.Evaluate(ctx, buildSetToggle(index, on), &res); err != nil {
		return false, err
	}
	if !res.OK {
		return false, fmt.Errorf("%w: %s", errStale, res.Reason)
	}
	return res.Changed, nil
}

func (d *cdpDriver) CallAPI(ctx context.Context, calls []APICall) (APIResult, error) {
	var res APIResult
	if len(calls) == 0 {
		return res, nil
	}
	if err := d.page.Evaluate(ctx, buildAPIScript(calls), &res); err != nil {
		return APIResult{}, err
	}
	return res, nil
}
