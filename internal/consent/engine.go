// Package consent drives consent banners: it finds the controls a visitor
// would click, falls back to CMP JavaScript APIs and settings drawers, and runs
// the accept/reject experiment in isolated sessions.
package consent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consentscope/api/schemas"
	"github.com/xkilldash9x/consentscope/internal/browser"
	"github.com/xkilldash9x/consentscope/internal/config"
	"github.com/xkilldash9x/consentscope/internal/observability"
)

var errNoControl = errors.New("no matching consent control")

// Options tunes the click passes.
type Options struct {
	MaxPasses   int
	PassBackoff time.Duration
	DrawerDelay time.Duration
	DOMDepth    int
}

// OptionsFromConfig maps the consent section onto engine options.
func OptionsFromConfig(c config.ConsentConfig) Options {
	return Options{
		MaxPasses:   c.MaxPasses,
		PassBackoff: c.PassBackoff,
		DrawerDelay: c.DrawerDelay,
		DOMDepth:    c.DOMDepth,
	}
}

// Engine performs one consent interaction on a page.
type Engine struct {
	logger *zap.Logger
	opts   Options
}

// NewEngine creates an Engine. Zero options fall back to one pass at depth 5.
func NewEngine(logger *zap.Logger, opts Options) *Engine {
	if opts.MaxPasses < 1 {
		opts.MaxPasses = 1
	}
	if opts.DOMDepth < 1 {
		opts.DOMDepth = 5
	}
	return &Engine{logger: observability.Component(logger, observability.ComponentConsent), opts: opts}
}

// Interact tries to put the page into the consent state of intent: direct
// control search, then the CMP API, then the settings drawer. A page without
// any usable control yields Found=false and a nil error; the error is reserved
// for a lost session or a canceled context.
func (e *Engine) Interact(ctx context.Context, d Driver, intent schemas.ConsentAction) (schemas.ClickOutcome, error) {
	log := e.logger.With(zap.String("intent", string(intent)))
	out := schemas.ClickOutcome{Method: schemas.MethodNone, Action: schemas.ActionNone}
	var failures []string

	hit, passes, err := e.clickFirst(ctx, d, intent)
	out.Passes += passes
	if err != nil {
		return out, err
	}
	if hit != nil {
		log.Info("Consent control clicked.", zap.String("label", hit.Label), zap.String("cmp", hit.CMP), zap.Int("passes", out.Passes))
		return clicked(out, *hit, schemas.MethodDOM, intent), nil
	}

	res, err := d.CallAPI(ctx, APICallsFor(intent))
	switch {
	case err != nil && e.fatal(ctx, err):
		return out, err
	case err != nil:
		failures = append(failures, "cmp api: "+err.Error())
	case res.Executed:
		log.Info("Consent set through CMP API.", zap.String("cmp", res.CMP), zap.String("fn", res.Fn))
		out.Found, out.Clicked = true, true
		out.Method = schemas.MethodCMPAPI
		out.Action = intent
		out.CMP = res.CMP
		out.Label = res.Fn
		return out, nil
	case res.Error != "":
		failures = append(failures, res.CMP+" api: "+res.Error)
	}

	out, err = e.drawer(ctx, d, intent, out)
	if err != nil || out.Succeeded() {
		return out, err
	}
	if out.Failure != "" {
		failures = append(failures, out.Failure)
	}
	if len(failures) == 0 {
		failures = append(failures, errNoControl.Error())
	}
	out.Failure = strings.Join(failures, "; ")
	log.Info("No consent control found.", zap.Int("passes", out.Passes), zap.String("failure", out.Failure))
	return out, nil
}

// drawer opens the settings view and either finds the intent control inside
// it or switches the non-essential toggles and saves.
func (e *Engine) drawer(ctx context.Context, d Driver, intent schemas.ConsentAction, out schemas.ClickOutcome) (schemas.ClickOutcome, error) {
	settings, passes, err := e.clickFirst(ctx, d, schemas.ActionSettings)
	out.Passes += passes
	if err != nil || settings == nil {
		return out, err
	}
	out.CMP = settings.CMP
	if err := browser.Sleep(ctx, e.opts.DrawerDelay); err != nil {
		return out, err
	}

	hit, passes, err := e.clickFirst(ctx, d, intent)
	out.Passes += passes
	if err != nil {
		return out, err
	}
	if hit != nil {
		e.logger.Info("Consent control clicked in settings drawer.", zap.String("intent", string(intent)), zap.String("label", hit.Label))
		return clicked(out, *hit, schemas.MethodSettingsDrawer, intent), nil
	}

	want := intent == schemas.ActionAccept
	cands, err := d.Candidates(ctx, e.opts.DOMDepth)
	if err != nil && e.fatal(ctx, err) {
		return out, err
	}
	toggled := 0
	for _, c := range NonEssentialToggles(cands, want) {
		changed, err := d.SetToggle(ctx, c.Index, want)
		if err != nil {
			if e.fatal(ctx, err) {
				return out, err
			}
			e.logger.Debug("Toggle not switchable.", zap.String("label", c.Label), zap.Error(err))
			continue
		}
		if changed {
			toggled++
		}
	}

	save, passes, err := e.clickFirst(ctx, d, schemas.ActionSave)
	out.Passes += passes
	if err != nil {
		return out, err
	}
	if save == nil {
		out.Failure = "settings opened but no save control"
		return out, nil
	}
	e.logger.Info("Preferences saved in settings drawer.", zap.String("intent", string(intent)), zap.Int("toggled", toggled))
	out = clicked(out, *save, schemas.MethodToggleSave, schemas.ActionSave)
	out.Toggled = toggled
	return out, nil
}

// clickFirst searches for action over up to MaxPasses passes and clicks the
// best candidate that accepts the click. A nil result with nil error means
// nothing was found.
func (e *Engine) clickFirst(ctx context.Context, d Driver, action schemas.ConsentAction) (*Ranked, int, error) {
	var hit *Ranked
	passes := 0
	op := func() error {
		passes++
		cands, err := d.Candidates(ctx, e.opts.DOMDepth)
		if err != nil {
			if e.fatal(ctx, err) {
				return backoff.Permanent(err)
			}
			e.logger.Debug("Control discovery failed.", zap.Int("pass", passes), zap.Error(err))
			return err
		}
		for _, r := range Rank(cands, action) {
			if err := d.Click(ctx, r.Index); err != nil {
				if e.fatal(ctx, err) {
					return backoff.Permanent(err)
				}
				e.logger.Debug("Click failed, trying next candidate.", zap.String("label", r.Label), zap.Error(err))
				continue
			}
			hit = &r
			return nil
		}
		return errNoControl
	}

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(e.opts.PassBackoff), uint64(e.opts.MaxPasses-1))
	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	if hit != nil {
		return hit, passes, nil
	}
	if cerr := ctx.Err(); cerr != nil {
		return nil, passes, cerr
	}
	if err != nil && e.fatal(ctx, err) {
		return nil, passes, err
	}
	return nil, passes, nil
}

func (e *Engine) fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || browser.IsSessionLost(err) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func clicked(out schemas.ClickOutcome, r Ranked, method schemas.ClickMethod, action schemas.ConsentAction) schemas.ClickOutcome {
	out.Found, out.Clicked = true, true
	out.Method = method
	out.Action = action
	out.Label = r.Label
	out.Selector = r.Selector
	if r.CMP != "" {
		out.CMP = r.CMP
	}
	out.Failure = ""
	return out
}
