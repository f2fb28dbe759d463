package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNavigationTimeout means the page never reached the settled state in time.
	ErrNavigationTimeout = errors.New("navigation timeout")
	// ErrSessionClosed means the page or its browser context was destroyed mid-operation.
	ErrSessionClosed = errors.New("browser session closed")
	// ErrSessionUnavailable means no isolated session could be created.
	ErrSessionUnavailable = errors.New("browser session unavailable")
)

// Error strings emitted by chromedp, cdproto and the DevTools protocol when the
// target or its connection disappears.
var sessionClosedSignatures = []string{
	"target closed",
	"session with given id not found",
	"no target with given id",
	"websocket: close",
	"use of closed network connection",
	"invalid context",
	"browser closed",
	"inspected target navigated or closed",
	"execution context was destroyed",
}

// ClassifyError maps a raw chromedp error onto the session error taxonomy.
// sessionCtx is the context of the session the operation ran in; a cancellation
// that originates there means the session went away, not the caller. Errors
// that fit no category are returned unchanged.
func ClassifyError(err error, sessionCtx context.Context) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNavigationTimeout) || errors.Is(err, ErrSessionClosed) || errors.Is(err, ErrSessionUnavailable) {
		return err
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range sessionClosedSignatures {
		if strings.Contains(msg, sig) {
			return fmt.Errorf("%w: %v", ErrSessionClosed, err)
		}
	}
	if errors.Is(err, context.Canceled) && sessionCtx != nil && sessionCtx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrSessionClosed, err)
	}
	return err
}

// IsSessionLost reports whether err means the whole session must be recreated.
func IsSessionLost(err error) bool {
	return errors.Is(err, ErrSessionClosed) || errors.Is(err, ErrSessionUnavailable)
}
