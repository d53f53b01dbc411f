package loan

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/equiptrack/station/internal/domain/equipment"
	"github.com/equiptrack/station/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests step through debounce windows without sleeping.
type fakeClock struct {
	mu  gosync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func workflowConfig() *config.WorkflowConfig {
	return &config.WorkflowConfig{
		AutoIssue:       true,
		IdleReset:       25 * time.Second,
		ScanCooldown:    300 * time.Millisecond,
		RepeatWindow:    1500 * time.Millisecond,
		DefaultCategory: "terminal",
	}
}

func newTestWorkflow(t *testing.T, cfg *config.WorkflowConfig) (*Workflow, *fakeLoans, *fakeClock) {
	t.Helper()
	svc, remote, items := newLoanService(t)
	seedItems(t, items, equipment.CategoryTerminal,
		equipment.Item{ID: 1, InternalID: "1", SerialNumber: "TSD-001", Status: equipment.StatusOnStock},
		equipment.Item{ID: 2, InternalID: "2", SerialNumber: "TSD-002", Status: equipment.StatusOnStock},
	)
	seedItems(t, items, equipment.CategoryFingerScanner,
		equipment.Item{ID: 1, InternalID: "1", SerialNumber: "FS-001", Status: equipment.StatusOnStock},
	)

	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	w := NewWorkflow(svc, cfg, WithClock(clock.Now))
	return w, remote, clock
}

// scan feeds a token with enough simulated time in front to clear the
// debounce windows.
func scan(t *testing.T, w *Workflow, clock *fakeClock, token string) Event {
	t.Helper()
	clock.Advance(2 * time.Second)
	ev, err := w.HandleToken(context.Background(), token)
	require.NoError(t, err)
	return ev
}

func TestWorkflow_IssueDialog(t *testing.T) {
	w, remote, clock := newTestWorkflow(t, workflowConfig())

	st := w.Status()
	assert.Equal(t, ModeIssue, st.Mode)
	assert.Equal(t, StateAwaitOperator, st.State)

	ev := scan(t, w, clock, "12345")
	assert.Equal(t, EventStateChanged, ev.Type)
	assert.Equal(t, StateAwaitDevice, ev.State)
	assert.Equal(t, "12345", ev.OperatorID)

	ev = scan(t, w, clock, "TSD-001")
	assert.Equal(t, EventIssued, ev.Type)
	assert.True(t, ev.OK)
	assert.Equal(t, StateAwaitOperator, ev.State, "the dialog returns to badge capture")
	assert.Equal(t, 1, remote.issues)
}

func TestWorkflow_RejectsNonBadgeTokenWhileAwaitingOperator(t *testing.T) {
	w, _, clock := newTestWorkflow(t, workflowConfig())

	ev := scan(t, w, clock, "TSD-001")
	assert.Equal(t, EventRejected, ev.Type)
	assert.False(t, ev.OK)
	assert.Equal(t, StateAwaitOperator, w.Status().State)
}

func TestWorkflow_CrossCategoryIssue(t *testing.T) {
	w, remote, clock := newTestWorkflow(t, workflowConfig())

	scan(t, w, clock, "12345")
	ev := scan(t, w, clock, "FS-001")
	assert.Equal(t, EventIssued, ev.Type, "a finger scanner serial resolves through the category fallback")
	assert.Equal(t, 1, remote.issues)

	remote.mu.Lock()
	issuedCat := remote.active[0].Category
	remote.mu.Unlock()
	assert.Equal(t, equipment.CategoryFingerScanner, issuedCat)
}

func TestWorkflow_SecondDeviceSameCategoryRejected(t *testing.T) {
	w, _, clock := newTestWorkflow(t, workflowConfig())

	scan(t, w, clock, "12345")
	scan(t, w, clock, "TSD-001")

	scan(t, w, clock, "12345")
	ev := scan(t, w, clock, "TSD-002")
	assert.Equal(t, EventRejected, ev.Type)
	assert.Contains(t, ev.Message, "already holds")
	assert.Equal(t, StateAwaitOperator, w.Status().State,
		"a rejected issue abandons the badge")
}

func TestWorkflow_FailedDeviceScanResetsToBadgeCapture(t *testing.T) {
	w, remote, clock := newTestWorkflow(t, workflowConfig())

	scan(t, w, clock, "12345")
	require.Equal(t, StateAwaitDevice, w.Status().State)

	ev := scan(t, w, clock, "NOPE-999")
	assert.Equal(t, EventRejected, ev.Type)
	assert.Equal(t, StateAwaitOperator, ev.State)

	st := w.Status()
	assert.Equal(t, StateAwaitOperator, st.State)
	assert.Empty(t, st.OperatorID, "a failed device scan must not leave a stale badge captured")

	// The next badge starts a clean cycle.
	scan(t, w, clock, "54321")
	issued := scan(t, w, clock, "TSD-001")
	assert.Equal(t, EventIssued, issued.Type)
	assert.Equal(t, "54321", issued.OperatorID)
	assert.Equal(t, 1, remote.issues)
}

func TestWorkflow_RemoteFailureAlsoResetsIssueDialog(t *testing.T) {
	w, remote, clock := newTestWorkflow(t, workflowConfig())

	remote.mu.Lock()
	remote.issueErr = errors.New("procedure raised an exception")
	remote.mu.Unlock()

	scan(t, w, clock, "12345")
	ev := scan(t, w, clock, "TSD-001")
	assert.Equal(t, EventRejected, ev.Type)

	st := w.Status()
	assert.Equal(t, StateAwaitOperator, st.State)
	assert.Empty(t, st.OperatorID)
}

func TestWorkflow_ReturnRejectionKeepsReturnLoop(t *testing.T) {
	w, _, clock := newTestWorkflow(t, workflowConfig())
	w.SetMode(ModeReturn)

	ev := scan(t, w, clock, "TSD-001")
	assert.Equal(t, EventRejected, ev.Type, "nothing is out on loan")
	assert.Equal(t, StateReturnAwaitDevice, w.Status().State)
}

func TestWorkflow_ReturnLoop(t *testing.T) {
	w, remote, clock := newTestWorkflow(t, workflowConfig())

	scan(t, w, clock, "12345")
	scan(t, w, clock, "TSD-001")

	w.SetMode(ModeReturn)
	assert.Equal(t, StateReturnAwaitDevice, w.Status().State)

	ev := scan(t, w, clock, "TSD-001")
	assert.Equal(t, EventReturned, ev.Type)
	assert.Equal(t, "12345", ev.OperatorID)
	assert.Equal(t, 1, remote.returns)
	assert.Equal(t, StateReturnAwaitDevice, w.Status().State, "return mode keeps waiting for the next device")

	ev = scan(t, w, clock, "TSD-001")
	assert.Equal(t, EventRejected, ev.Type, "the device is no longer out on loan")
}

func TestWorkflow_DebounceIdenticalToken(t *testing.T) {
	w, _, clock := newTestWorkflow(t, workflowConfig())

	clock.Advance(2 * time.Second)
	_, err := w.HandleToken(context.Background(), "12345")
	require.NoError(t, err)

	// The scanner double-fires within the repeat window.
	clock.Advance(time.Second)
	_, err = w.HandleToken(context.Background(), "12345")
	assert.ErrorIs(t, err, equipment.ErrBusy)
}

func TestWorkflow_ScanCooldownAppliesToAnyToken(t *testing.T) {
	w, _, clock := newTestWorkflow(t, workflowConfig())

	clock.Advance(2 * time.Second)
	_, err := w.HandleToken(context.Background(), "12345")
	require.NoError(t, err)

	clock.Advance(100 * time.Millisecond)
	_, err = w.HandleToken(context.Background(), "TSD-001")
	assert.ErrorIs(t, err, equipment.ErrBusy)

	clock.Advance(400 * time.Millisecond)
	ev, err := w.HandleToken(context.Background(), "TSD-001")
	require.NoError(t, err)
	assert.Equal(t, EventIssued, ev.Type)
}

func TestWorkflow_ResetAbandonsCapturedOperator(t *testing.T) {
	w, _, clock := newTestWorkflow(t, workflowConfig())

	scan(t, w, clock, "12345")
	require.Equal(t, StateAwaitDevice, w.Status().State)

	w.Reset()
	st := w.Status()
	assert.Equal(t, StateAwaitOperator, st.State)
	assert.Empty(t, st.OperatorID)
}

func TestWorkflow_IdleResetForgetsOperator(t *testing.T) {
	cfg := workflowConfig()
	cfg.IdleReset = 30 * time.Millisecond
	w, _, clock := newTestWorkflow(t, cfg)

	scan(t, w, clock, "12345")
	require.Equal(t, StateAwaitDevice, w.Status().State)

	assert.Eventually(t, func() bool {
		st := w.Status()
		return st.State == StateAwaitOperator && st.OperatorID == ""
	}, time.Second, 5*time.Millisecond)
}

func TestWorkflow_NoIdleResetWhenAutoIssueOff(t *testing.T) {
	cfg := workflowConfig()
	cfg.IdleReset = 20 * time.Millisecond
	cfg.AutoIssue = false
	w, _, clock := newTestWorkflow(t, cfg)

	scan(t, w, clock, "12345")
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, StateAwaitDevice, w.Status().State,
		"with hands-free off the badge is held until a device or an explicit reset")
}

func TestWorkflow_SubscribeReceivesEvents(t *testing.T) {
	w, _, clock := newTestWorkflow(t, workflowConfig())

	events, cancel := w.Subscribe()
	defer cancel()

	scan(t, w, clock, "12345")

	select {
	case ev := <-events:
		assert.Equal(t, EventStateChanged, ev.Type)
		assert.Equal(t, "12345", ev.OperatorID)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestWorkflow_ManualIssue(t *testing.T) {
	w, remote, _ := newTestWorkflow(t, workflowConfig())

	require.NoError(t, w.ManualIssue(context.Background(), "54321", equipment.CategoryTerminal, 2, "spare for night shift"))
	assert.Equal(t, 1, remote.issues)

	remote.mu.Lock()
	defer remote.mu.Unlock()
	require.Len(t, remote.active, 1)
	assert.Equal(t, "54321", remote.active[0].OperatorID)
}
