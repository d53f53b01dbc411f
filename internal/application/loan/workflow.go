package loan

import (
	"context"
	"errors"
	gosync "sync"
	"time"

	"github.com/equiptrack/station/internal/domain/equipment"
	"github.com/equiptrack/station/internal/domain/loan"
	"github.com/equiptrack/station/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Mode selects what the counter is doing.
type Mode string

const (
	ModeIssue  Mode = "issue"
	ModeReturn Mode = "return"
)

// State is the position inside the scan dialog.
type State string

const (
	// StateAwaitOperator waits for an operator badge in issue mode.
	StateAwaitOperator State = "await_operator"
	// StateAwaitDevice waits for a device scan to issue to the captured
	// operator.
	StateAwaitDevice State = "await_device"
	// StateReturnAwaitDevice is the steady state of return mode: every
	// accepted device scan books a return and waits for the next one.
	StateReturnAwaitDevice State = "return_await_device"
)

// EventType classifies workflow events pushed to the UI.
type EventType string

const (
	EventStateChanged EventType = "state_changed"
	EventIssued       EventType = "issued"
	EventReturned     EventType = "returned"
	EventRejected     EventType = "rejected"
)

// Event is one workflow notification. OK tells the UI which feedback tone
// to play.
type Event struct {
	Type       EventType `json:"type"`
	Mode       Mode      `json:"mode"`
	State      State     `json:"state"`
	OperatorID string    `json:"operator_id,omitempty"`
	Serial     string    `json:"serial,omitempty"`
	Message    string    `json:"message,omitempty"`
	OK         bool      `json:"ok"`
}

// Status is the externally visible workflow state.
type Status struct {
	Mode       Mode   `json:"mode"`
	State      State  `json:"state"`
	OperatorID string `json:"operator_id,omitempty"`
	AutoIssue  bool   `json:"auto_issue"`
}

// Workflow drives the scan dialog at the counter. Issue mode walks
// operator badge then device; return mode loops on device scans. One scan
// is processed at a time; a token arriving while a remote call is in
// flight is dropped with ErrBusy rather than queued, because the operator
// is standing there and will simply scan again.
type Workflow struct {
	service *Service
	logger  *zap.Logger
	now     func() time.Time

	idleReset    time.Duration
	scanCooldown time.Duration
	repeatWindow time.Duration
	defaultCat   equipment.Category

	mu         gosync.Mutex
	mode       Mode
	state      State
	operatorID string
	autoIssue  bool
	busy       bool
	lastToken  string
	lastSameAt time.Time
	lastAnyAt  time.Time
	idleTimer  *time.Timer

	subMu  gosync.Mutex
	nextID int
	subs   map[int]chan Event
}

// WorkflowOption is a functional option for configuring the workflow
type WorkflowOption func(*Workflow)

// WithWorkflowLogger sets the logger for the workflow
func WithWorkflowLogger(logger *zap.Logger) WorkflowOption {
	return func(w *Workflow) { w.logger = logger }
}

// WithClock overrides the workflow clock, for tests.
func WithClock(now func() time.Time) WorkflowOption {
	return func(w *Workflow) { w.now = now }
}

// NewWorkflow creates the scan workflow in issue mode, waiting for an
// operator badge.
func NewWorkflow(service *Service, cfg *config.WorkflowConfig, opts ...WorkflowOption) *Workflow {
	w := &Workflow{
		service:      service,
		logger:       zap.NewNop(),
		now:          time.Now,
		idleReset:    cfg.IdleReset,
		scanCooldown: cfg.ScanCooldown,
		repeatWindow: cfg.RepeatWindow,
		mode:         ModeIssue,
		state:        StateAwaitOperator,
		autoIssue:    cfg.AutoIssue,
		subs:         map[int]chan Event{},
	}
	if w.idleReset <= 0 {
		w.idleReset = 25 * time.Second
	}
	if w.scanCooldown <= 0 {
		w.scanCooldown = 300 * time.Millisecond
	}
	if w.repeatWindow <= 0 {
		w.repeatWindow = 1500 * time.Millisecond
	}
	if cat, err := equipment.ParseCategory(cfg.DefaultCategory); err == nil && cat.Loanable() {
		w.defaultCat = cat
	} else {
		w.defaultCat = equipment.CategoryTerminal
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Status returns the current workflow position.
func (w *Workflow) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{Mode: w.mode, State: w.state, OperatorID: w.operatorID, AutoIssue: w.autoIssue}
}

// Subscribe returns a channel of workflow events and a cancel function.
// Slow subscribers lose events instead of blocking the workflow.
func (w *Workflow) Subscribe() (<-chan Event, func()) {
	w.subMu.Lock()
	defer w.subMu.Unlock()
	id := w.nextID
	w.nextID++
	ch := make(chan Event, 16)
	w.subs[id] = ch
	return ch, func() {
		w.subMu.Lock()
		defer w.subMu.Unlock()
		if c, ok := w.subs[id]; ok {
			delete(w.subs, id)
			close(c)
		}
	}
}

func (w *Workflow) publish(ev Event) {
	w.subMu.Lock()
	defer w.subMu.Unlock()
	for _, ch := range w.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SetMode switches between issue and return and resets the dialog.
func (w *Workflow) SetMode(mode Mode) {
	w.mu.Lock()
	w.mode = mode
	w.operatorID = ""
	w.lastToken = ""
	if mode == ModeReturn {
		w.state = StateReturnAwaitDevice
	} else {
		w.state = StateAwaitOperator
	}
	w.stopIdleTimerLocked()
	ev := w.stateEventLocked()
	w.mu.Unlock()
	w.publish(ev)
}

// SetAutoIssue flips the hands-free toggle. Off means the dialog holds the
// captured operator indefinitely instead of resetting after the idle
// window.
func (w *Workflow) SetAutoIssue(on bool) {
	w.mu.Lock()
	w.autoIssue = on
	if !on {
		w.stopIdleTimerLocked()
	} else if w.state == StateAwaitDevice {
		w.armIdleTimerLocked()
	}
	ev := w.stateEventLocked()
	w.mu.Unlock()
	w.publish(ev)
}

// Reset abandons the dialog in progress, e.g. on Escape.
func (w *Workflow) Reset() {
	w.mu.Lock()
	w.resetLocked()
	ev := w.stateEventLocked()
	w.mu.Unlock()
	w.publish(ev)
}

func (w *Workflow) resetLocked() {
	w.operatorID = ""
	w.lastToken = ""
	if w.mode == ModeReturn {
		w.state = StateReturnAwaitDevice
	} else {
		w.state = StateAwaitOperator
	}
	w.stopIdleTimerLocked()
}

func (w *Workflow) stateEventLocked() Event {
	return Event{Type: EventStateChanged, Mode: w.mode, State: w.state, OperatorID: w.operatorID, OK: true}
}

// HandleToken processes one decoded scan token and returns the event that
// was also pushed to subscribers.
func (w *Workflow) HandleToken(ctx context.Context, token string) (Event, error) {
	w.mu.Lock()

	now := w.now()
	if w.busy {
		w.mu.Unlock()
		return Event{}, equipment.ErrBusy
	}
	if !w.lastAnyAt.IsZero() && now.Sub(w.lastAnyAt) < w.scanCooldown {
		w.mu.Unlock()
		return Event{}, equipment.ErrBusy
	}
	if token == w.lastToken && !w.lastSameAt.IsZero() && now.Sub(w.lastSameAt) < w.repeatWindow {
		// The scanner fired twice on the same label; not an error, just
		// nothing to do.
		w.mu.Unlock()
		return Event{}, equipment.ErrBusy
	}
	w.lastAnyAt = now
	w.lastToken = token
	w.lastSameAt = now

	mode, state, operatorID := w.mode, w.state, w.operatorID

	// Operator capture needs no remote call; handle it under the lock.
	if mode == ModeIssue && state == StateAwaitOperator {
		ev := w.captureOperatorLocked(token)
		w.mu.Unlock()
		w.publish(ev)
		return ev, nil
	}

	w.busy = true
	w.mu.Unlock()

	var ev Event
	switch {
	case mode == ModeReturn:
		ev = w.returnDevice(ctx, token)
	default:
		ev = w.issueDevice(ctx, operatorID, token)
	}

	w.mu.Lock()
	w.busy = false
	w.mu.Unlock()
	w.publish(ev)
	return ev, nil
}

func (w *Workflow) captureOperatorLocked(token string) Event {
	if !loan.ValidOperatorID(token) {
		w.logger.Debug("Rejected operator token", zap.Int("length", len(token)))
		return Event{
			Type: EventRejected, Mode: w.mode, State: w.state,
			Message: "expected an operator badge",
		}
	}
	w.operatorID = token
	w.state = StateAwaitDevice
	if w.autoIssue {
		w.armIdleTimerLocked()
	}
	return Event{
		Type: EventStateChanged, Mode: w.mode, State: w.state,
		OperatorID: w.operatorID, OK: true,
	}
}

func (w *Workflow) issueDevice(ctx context.Context, operatorID, serial string) Event {
	item, err := w.service.FindAvailableBySerial(ctx, w.defaultCat, serial)
	if err != nil {
		return w.rejected(serial, err)
	}
	if err := w.service.Issue(ctx, operatorID, item.Category, item.ID, ""); err != nil {
		return w.rejected(serial, err)
	}

	w.mu.Lock()
	w.operatorID = ""
	w.state = StateAwaitOperator
	w.stopIdleTimerLocked()
	mode := w.mode
	w.mu.Unlock()

	w.logger.Info("Issued device",
		zap.String("operator_id", operatorID),
		zap.String("category", string(item.Category)),
		zap.Int64("item_id", item.ID))
	return Event{
		Type: EventIssued, Mode: mode, State: StateAwaitOperator,
		OperatorID: operatorID, Serial: item.SerialNumber, OK: true,
	}
}

func (w *Workflow) returnDevice(ctx context.Context, serial string) Event {
	active, err := w.service.FindActiveBySerial(ctx, serial)
	if err != nil {
		return w.rejected(serial, err)
	}
	if err := w.service.ReturnOne(ctx, active.OperatorID, active.Category, active.ItemID); err != nil {
		return w.rejected(serial, err)
	}

	w.logger.Info("Returned device",
		zap.String("operator_id", active.OperatorID),
		zap.String("category", string(active.Category)),
		zap.Int64("item_id", active.ItemID))
	return Event{
		Type: EventReturned, Mode: ModeReturn, State: StateReturnAwaitDevice,
		OperatorID: active.OperatorID, Serial: serial, OK: true,
	}
}

// rejected reports a failed device scan. In issue mode the captured badge
// is abandoned, so the next scan starts a fresh cycle instead of binding
// the device to a stale operator.
func (w *Workflow) rejected(serial string, err error) Event {
	w.mu.Lock()
	if w.mode == ModeIssue {
		w.resetLocked()
	}
	ev := Event{
		Type: EventRejected, Mode: w.mode, State: w.state,
		Serial: serial, Message: reason(err),
	}
	w.mu.Unlock()
	return ev
}

// RejectScan publishes a rejection for input that never made it past the
// decoder, so the UI plays the failure tone even though no token reached
// the workflow. The dialog position does not change.
func (w *Workflow) RejectScan(message string) Event {
	w.mu.Lock()
	ev := Event{
		Type: EventRejected, Mode: w.mode, State: w.state,
		OperatorID: w.operatorID, Message: message,
	}
	w.mu.Unlock()
	w.publish(ev)
	return ev
}

func reason(err error) string {
	var de *equipment.DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}

// ManualIssue issues a specific item picked in the UI, with an optional
// note, bypassing the scan dialog.
func (w *Workflow) ManualIssue(ctx context.Context, operatorID string, cat equipment.Category, itemID int64, note string) error {
	if err := w.service.Issue(ctx, operatorID, cat, itemID, note); err != nil {
		return err
	}
	w.mu.Lock()
	ev := Event{
		Type: EventIssued, Mode: w.mode, State: w.state,
		OperatorID: operatorID, OK: true,
	}
	w.mu.Unlock()
	w.publish(ev)
	return nil
}

// armIdleTimerLocked starts the hands-free reset: an operator badge that
// is not followed by a device scan within the window is forgotten, so the
// next person at the counter does not issue onto a stranger's badge.
func (w *Workflow) armIdleTimerLocked() {
	w.stopIdleTimerLocked()
	w.idleTimer = time.AfterFunc(w.idleReset, func() {
		w.mu.Lock()
		if w.state != StateAwaitDevice {
			w.mu.Unlock()
			return
		}
		w.logger.Info("Operator badge expired unanswered",
			zap.String("operator_id", w.operatorID))
		w.resetLocked()
		ev := w.stateEventLocked()
		w.mu.Unlock()
		w.publish(ev)
	})
}

func (w *Workflow) stopIdleTimerLocked() {
	if w.idleTimer != nil {
		w.idleTimer.Stop()
		w.idleTimer = nil
	}
}
