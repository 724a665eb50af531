package call

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dialtone-ai/dialtone/pkg/metrics"
)

// Denial codes returned by the admission policy
const (
	DenyCallAlreadyEnded    = "call_already_ended"
	DenyActionInProgress    = "action_in_progress"
	DenyGlobalCooldown      = "global_cooldown"
	DenyDuplicateDigits     = "duplicate_digits"
	DenyDTMFBudgetExceeded  = "dtmf_attempt_budget_exceeded"
	DenyIVRBudgetExhausted  = "ivr_budget_exhausted"
	DenyExecutionError      = "execution_error"
)

// Action kinds tracked by the policy
const (
	actionDTMF     = "dtmf"
	actionHangup   = "hangup"
	actionTransfer = "transfer"
)

const maxDenialHistory = 10

// Decision is the outcome of an authorization check. Denials are
// values, not errors: they carry a machine-readable code plus enough
// detail for the operator to see why and when to retry.
type Decision struct {
	Allowed bool                   `json:"allowed"`
	Code    string                 `json:"code,omitempty"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func approved() Decision {
	return Decision{Allowed: true}
}

func denied(code, message string, details map[string]interface{}) Decision {
	return Decision{Allowed: false, Code: code, Message: message, Details: details}
}

// DenialRecord is one remembered denial, kept in a bounded ring
type DenialRecord struct {
	Code      string    `json:"code"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// GuardConfig holds the policy tunables
type GuardConfig struct {
	ActionCooldown  time.Duration
	DuplicateWindow time.Duration
	MaxDTMFSends    int
	IVRBudget       time.Duration
	PendingTimeout  time.Duration
}

type pendingAction struct {
	Kind      string
	Payload   string
	StartedAt time.Time
}

type taskState struct {
	createdAt       time.Time
	updatedAt       time.Time
	ivrStartedAt    time.Time
	lastActionAt    time.Time
	lastDigits      string
	lastDigitsAt    time.Time
	pending         *pendingAction
	ended           bool
	endedReason     string
	dtmfRequested   int
	dtmfSent        int
	dtmfRejected    int
	hangupRequested int
	hangupDone      int
	hangupRejected  int
	errorCount      int
	denials         []DenialRecord
	lastDecision    *Decision
}

// Guard is the per-task call admission policy. Every operator control
// action (keypad digits, transfer, hangup) passes through an authorize
// call before the side effect runs, and reports back through
// RecordActionSuccess/RecordActionFailure afterwards.
type Guard struct {
	mu     sync.Mutex
	tasks  map[string]*taskState
	cfg    GuardConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewGuard(cfg GuardConfig, logger *zap.Logger) *Guard {
	return &Guard{
		tasks:  make(map[string]*taskState),
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// EnsureTask creates the policy record for a task at call start
func (g *Guard) EnsureTask(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureLocked(taskID)
}

// AuthorizeDTMF decides whether a keypad digit send may run now
func (g *Guard) AuthorizeDTMF(taskID, taskStatus, digits string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.ensureLocked(taskID)
	st.dtmfRequested++

	if d, ok := g.commonChecks(st, taskStatus, actionDTMF); !ok {
		st.dtmfRejected++
		return g.finish(taskID, st, d)
	}

	now := g.now()
	if digits == st.lastDigits && !st.lastDigitsAt.IsZero() && now.Sub(st.lastDigitsAt) < g.cfg.DuplicateWindow {
		st.dtmfRejected++
		return g.finish(taskID, st, g.deny(st, actionDTMF, DenyDuplicateDigits,
			"same digits were sent moments ago", map[string]interface{}{
				"digits":              digits,
				"retry_after_seconds": int((g.cfg.DuplicateWindow - now.Sub(st.lastDigitsAt)).Seconds()) + 1,
			}))
	}

	if st.dtmfSent >= g.cfg.MaxDTMFSends {
		st.dtmfRejected++
		return g.finish(taskID, st, g.deny(st, actionDTMF, DenyDTMFBudgetExceeded,
			"keypad attempt budget for this call is used up", map[string]interface{}{
				"sent": st.dtmfSent,
				"max":  g.cfg.MaxDTMFSends,
			}))
	}

	if elapsed := now.Sub(st.ivrStartedAt); elapsed > g.cfg.IVRBudget {
		st.dtmfRejected++
		return g.finish(taskID, st, g.deny(st, actionDTMF, DenyIVRBudgetExhausted,
			"IVR navigation time budget is exhausted", map[string]interface{}{
				"elapsed_seconds": int(elapsed.Seconds()),
				"budget_seconds":  int(g.cfg.IVRBudget.Seconds()),
			}))
	}

	st.pending = &pendingAction{Kind: actionDTMF, Payload: digits, StartedAt: now}
	st.updatedAt = now
	return g.finish(taskID, st, approved())
}

// AuthorizeHangup decides whether a hangup may run now
func (g *Guard) AuthorizeHangup(taskID, taskStatus string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.ensureLocked(taskID)
	st.hangupRequested++

	if d, ok := g.commonChecks(st, taskStatus, actionHangup); !ok {
		st.hangupRejected++
		return g.finish(taskID, st, d)
	}

	st.pending = &pendingAction{Kind: actionHangup, StartedAt: g.now()}
	st.updatedAt = g.now()
	return g.finish(taskID, st, approved())
}

// AuthorizeTransfer decides whether a transfer may run now. Transfers
// share the generic checks (terminal state, single-flight, cooldown)
// but none of the DTMF-specific budgets.
func (g *Guard) AuthorizeTransfer(taskID, taskStatus, toNumber string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.ensureLocked(taskID)

	if d, ok := g.commonChecks(st, taskStatus, actionTransfer); !ok {
		return g.finish(taskID, st, d)
	}

	st.pending = &pendingAction{Kind: actionTransfer, Payload: toNumber, StartedAt: g.now()}
	st.updatedAt = g.now()
	return g.finish(taskID, st, approved())
}

// commonChecks runs the shared denial sequence: stale-pending clear,
// terminal state, single-flight, cooldown. Returns ok=false with the
// denial when the action must not proceed.
func (g *Guard) commonChecks(st *taskState, taskStatus, action string) (Decision, bool) {
	now := g.now()

	// stale pending actions are cleared before any decision is made,
	// so a crashed side effect cannot wedge the task forever
	if st.pending != nil && now.Sub(st.pending.StartedAt) > g.cfg.PendingTimeout {
		g.logger.Warn("clearing stale pending action",
			zap.String("kind", st.pending.Kind),
			zap.Duration("age", now.Sub(st.pending.StartedAt)),
		)
		st.pending = nil
		st.errorCount++
	}

	if st.ended || terminalStatus(taskStatus) {
		return g.deny(st, action, DenyCallAlreadyEnded,
			"the call has already ended", map[string]interface{}{
				"reason": st.endedReason,
			}), false
	}

	if st.pending != nil {
		return g.deny(st, action, DenyActionInProgress,
			"another action is currently in progress", map[string]interface{}{
				"pending_kind":        st.pending.Kind,
				"pending_age_seconds": int(now.Sub(st.pending.StartedAt).Seconds()),
			}), false
	}

	if !st.lastActionAt.IsZero() && now.Sub(st.lastActionAt) < g.cfg.ActionCooldown {
		remaining := g.cfg.ActionCooldown - now.Sub(st.lastActionAt)
		return g.deny(st, action, DenyGlobalCooldown,
			"too soon after the previous action", map[string]interface{}{
				"retry_after_seconds": int(remaining.Seconds()) + 1,
			}), false
	}

	return approved(), true
}

// RecordActionSuccess reports that the approved side effect executed.
// It clears the pending slot, stamps the last-action time, and applies
// kind-specific bookkeeping (digit history, ended flag for hangups).
func (g *Guard) RecordActionSuccess(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.tasks[taskID]
	if !ok || st.pending == nil {
		return
	}

	now := g.now()
	pending := st.pending
	st.pending = nil
	st.lastActionAt = now
	st.updatedAt = now

	switch pending.Kind {
	case actionDTMF:
		st.lastDigits = pending.Payload
		st.lastDigitsAt = now
		st.dtmfSent++
	case actionHangup:
		st.hangupDone++
		st.ended = true
		st.endedReason = "hangup"
	}
}

// RecordActionFailure reports that the approved side effect failed.
// The pending slot is cleared and an execution_error decision recorded.
func (g *Guard) RecordActionFailure(taskID string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.tasks[taskID]
	if !ok {
		return
	}

	kind := ""
	if st.pending != nil {
		kind = st.pending.Kind
	}
	st.pending = nil
	st.errorCount++
	st.updatedAt = g.now()

	d := g.deny(st, kind, DenyExecutionError, "the action failed to execute", map[string]interface{}{
		"error": err.Error(),
	})
	st.lastDecision = &d
	metrics.RecordPolicyDecision(false, DenyExecutionError)
}

// MarkEnded records that the call is over so every later request is
// denied with call_already_ended.
func (g *Guard) MarkEnded(taskID, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.ensureLocked(taskID)
	st.ended = true
	st.endedReason = reason
	st.updatedAt = g.now()
}

// ExportState produces a read-only snapshot of the policy record for
// observability. When create is false and no record exists, nil is
// returned.
func (g *Guard) ExportState(taskID string, create bool) map[string]interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.tasks[taskID]
	if !ok {
		if !create {
			return nil
		}
		st = g.ensureLocked(taskID)
	}

	now := g.now()
	elapsed := now.Sub(st.ivrStartedAt)
	remaining := g.cfg.IVRBudget - elapsed
	if remaining < 0 {
		remaining = 0
	}

	out := map[string]interface{}{
		"ended":                 st.ended,
		"ended_reason":          st.endedReason,
		"ivr_elapsed_seconds":   int(elapsed.Seconds()),
		"ivr_remaining_seconds": int(remaining.Seconds()),
		"dtmf_requested":        st.dtmfRequested,
		"dtmf_sent":             st.dtmfSent,
		"dtmf_rejected":         st.dtmfRejected,
		"hangup_requested":      st.hangupRequested,
		"hangup_done":           st.hangupDone,
		"hangup_rejected":       st.hangupRejected,
		"error_count":           st.errorCount,
		"recent_denials":        append([]DenialRecord(nil), st.denials...),
	}
	if st.pending != nil {
		out["pending_action"] = st.pending.Kind
		out["pending_age_seconds"] = int(now.Sub(st.pending.StartedAt).Seconds())
	}
	if st.lastDecision != nil {
		out["last_decision"] = *st.lastDecision
	}
	return out
}

// CleanupTask removes all policy state for a task
func (g *Guard) CleanupTask(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.tasks, taskID)
}

func (g *Guard) ensureLocked(taskID string) *taskState {
	st, ok := g.tasks[taskID]
	if !ok {
		now := g.now()
		st = &taskState{
			createdAt:    now,
			updatedAt:    now,
			ivrStartedAt: now,
		}
		g.tasks[taskID] = st
	}
	return st
}

func (g *Guard) deny(st *taskState, action, code, message string, details map[string]interface{}) Decision {
	st.denials = append(st.denials, DenialRecord{
		Code:      code,
		Action:    action,
		Timestamp: g.now().UTC(),
	})
	if len(st.denials) > maxDenialHistory {
		st.denials = st.denials[len(st.denials)-maxDenialHistory:]
	}
	return denied(code, message, details)
}

func (g *Guard) finish(taskID string, st *taskState, d Decision) Decision {
	st.lastDecision = &d
	metrics.RecordPolicyDecision(d.Allowed, d.Code)
	if !d.Allowed {
		g.logger.Info("action denied",
			zap.String("task_id", taskID),
			zap.String("code", d.Code),
		)
	}
	return d
}

func terminalStatus(status string) bool {
	return status == string(StatusEnded) || status == string(StatusFailed) || status == "completed"
}
