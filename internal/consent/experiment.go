package consent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/consentscope/api/schemas"
	"github.com/xkilldash9x/consentscope/internal/browser"
	"github.com/xkilldash9x/consentscope/internal/cookies"
	"github.com/xkilldash9x/consentscope/internal/observability"
)

const closeTimeout = 5 * time.Second

// Page is an isolated browser page as the experiment sees it.
type Page interface {
	Driver
	// Load navigates to url and waits for tracking to initialize.
	Load(ctx context.Context, url string) error
	// Reload reloads and waits for tracking to initialize again.
	Reload(ctx context.Context) error
	// Settle waits for the network to calm down after an interaction.
	Settle(ctx context.Context) error
	Cookies(ctx context.Context) (schemas.CookieSet, error)
	Close(ctx context.Context) error
}

// Opener creates a fresh, cookie-clean page per experiment arm.
type Opener interface {
	Open(ctx context.Context) (Page, error)
}

// ExperimentOptions tunes the experiment around the interaction itself.
type ExperimentOptions struct {
	SettleDelay          time.Duration
	RetryOnSessionClosed bool
}

// Experiment runs the accept arm and the reject arm, each in its own page.
type Experiment struct {
	logger *zap.Logger
	engine *Engine
	opener Opener
	opts   ExperimentOptions
}

// NewExperiment wires an experiment.
func NewExperiment(logger *zap.Logger, engine *Engine, opener Opener, opts ExperimentOptions) *Experiment {
	return &Experiment{logger: observability.Component(logger, observability.ComponentExperiment), engine: engine, opener: opener, opts: opts}
}

// Run performs the experiment against url. When a session dies mid-run the
// whole experiment is repeated once; other failures are returned together
// with the partial result.
func (x *Experiment) Run(ctx context.Context, url string) (*schemas.ConsentExperimentResult, error) {
	for attempt := 1; ; attempt++ {
		res, err := x.runOnce(ctx, url)
		res.Attempts = attempt
		if err == nil {
			res.Completed = true
			return res, nil
		}
		if attempt == 1 && x.opts.RetryOnSessionClosed && browser.IsSessionLost(err) && ctx.Err() == nil {
			x.logger.Warn("Browser session lost during consent experiment. Retrying once.", zap.String("url", url), zap.Error(err))
			continue
		}
		res.Error = err.Error()
		return res, err
	}
}

func (x *Experiment) runOnce(ctx context.Context, url string) (*schemas.ConsentExperimentResult, error) {
	res := &schemas.ConsentExperimentResult{}

	accept, err := x.runArm(ctx, url, schemas.ActionAccept)
	res.Accept = accept
	res.Before = accept.Before
	res.AfterAccept = accept.After
	if err != nil {
		return res, fmt.Errorf("accept arm: %w", err)
	}

	reject, err := x.runArm(ctx, url, schemas.ActionReject)
	res.Reject = reject
	res.AfterReject = reject.After
	if err != nil {
		return res, fmt.Errorf("reject arm: %w", err)
	}
	return res, nil
}

func (x *Experiment) runArm(ctx context.Context, url string, intent schemas.ConsentAction) (arm schemas.ConsentArm, err error) {
	arm = schemas.ConsentArm{Intent: intent, EffectiveAction: schemas.ActionNone}
	log := x.logger.With(zap.String("arm", string(intent)), zap.String("url", url))
	defer func() {
		if err != nil {
			arm.Error = err.Error()
		}
	}()

	page, err := x.opener.Open(ctx)
	if err != nil {
		return arm, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(browser.Detach(ctx), closeTimeout)
		defer cancel()
		if cerr := page.Close(closeCtx); cerr != nil {
			log.Debug("Closing experiment page failed.", zap.Error(cerr))
		}
	}()

	if err = page.Load(ctx, url); err != nil {
		return arm, err
	}
	if arm.Before, err = page.Cookies(ctx); err != nil {
		return arm, err
	}

	arm.Outcome, err = x.engine.Interact(ctx, page, intent)
	if err != nil {
		return arm, err
	}

	if arm.Outcome.Succeeded() {
		arm.EffectiveAction = intent
		if err = browser.Sleep(ctx, x.opts.SettleDelay); err != nil {
			return arm, err
		}
		if err = page.Settle(ctx); err != nil {
			return arm, err
		}
		// Many CMPs apply the stored decision only on the next navigation.
		if err = page.Reload(ctx); err != nil {
			return arm, err
		}
	}
	if arm.After, err = page.Cookies(ctx); err != nil {
		return arm, err
	}

	if intent == schemas.ActionAccept {
		arm.After = cookies.Union(arm.Before, arm.After)
	}
	diff := cookies.Compare(arm.Before, arm.After)
	arm.NewCookies = diff.Added
	arm.RemovedCookies = diff.Removed
	arm.NewByCategory = diff.AddedCategory

	if reclassify(arm.Intent, arm.Outcome, diff) {
		arm.Reclassified = true
		arm.EffectiveAction = schemas.ActionAccept
		log.Info("Save action set tracking cookies; counting it as accept.", zap.String("label", arm.Outcome.Label))
	}
	log.Info("Consent arm finished.",
		zap.Bool("found", arm.Outcome.Found),
		zap.String("method", string(arm.Outcome.Method)),
		zap.Int("new_cookies", len(arm.NewCookies)))
	return arm, nil
}

// reclassify implements the save-button heuristic: a reject attempt that ended
// on a save control and still produced analytics or marketing cookies is an
// accept. Sites that set such cookies regardless of consent are misread as
// well; the result is an approximation.
func reclassify(intent schemas.ConsentAction, o schemas.ClickOutcome, d cookies.Diff) bool {
	return intent == schemas.ActionReject && o.Succeeded() && o.Action == schemas.ActionSave && d.AddedTracking()
}
