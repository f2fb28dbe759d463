package orchestrator

import (
	"time"

	"github.com/xkilldash9x/consentscope/api/schemas"
)

// auditTrail appends step transitions to the result and forwards them to the
// listener. A run is single-flow, so no locking is needed.
type auditTrail struct {
	result   *schemas.AnalysisResult
	listener StepListener
	now      func() time.Time
}

func (t *auditTrail) record(step string, status schemas.StepStatus, msg string) {
	now := time.Now
	if t.now != nil {
		now = t.now
	}
	s := schemas.AuditStep{Step: step, Status: status, Message: msg, Timestamp: now().UTC()}
	t.result.Steps = append(t.result.Steps, s)
	if t.listener != nil {
		t.listener(s)
	}
}

func (t *auditTrail) start(step, msg string) { t.record(step, schemas.StepRunning, msg) }
func (t *auditTrail) done(step, msg string)  { t.record(step, schemas.StepCompleted, msg) }
func (t *auditTrail) fail(step string, err error) {
	t.record(step, schemas.StepError, err.Error())
}
