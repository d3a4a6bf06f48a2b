package main

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	sent []string
	fail bool
}

func (d *fakeDispatcher) Send(bind string) error {
	if d.fail {
		return fmt.Errorf("dispatch refused")
	}
	d.sent = append(d.sent, bind)
	return nil
}

type fakeWindow struct{ active bool }

func (w *fakeWindow) IsActive(string) bool { return w.active }

func testSender() (*KeySender, *fakeDispatcher, *fakeWindow, *time.Time) {
	dispatcher := &fakeDispatcher{}
	window := &fakeWindow{active: true}
	ks := NewKeySender(dispatcher, window, NewActivationRuleRegistry())
	now := time.Unix(1700000000, 0)
	ks.now = func() time.Time { return now }
	ks.sleep = func(time.Duration) {}
	return ks, dispatcher, window, &now
}

func readySnaps(indices ...int) []SlotSnapshot {
	snaps := make([]SlotSnapshot, len(indices))
	for i, idx := range indices {
		snaps[i] = SlotSnapshot{Index: idx, State: SlotReady}
	}
	return snaps
}

func slotItems(indices ...int) []PriorityItem {
	items := make([]PriorityItem, len(indices))
	for i, idx := range indices {
		items[i] = PriorityItem{Type: ItemTypeSlot, SlotIndex: idx}
	}
	return items
}

var tenBinds = []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "0"}

func baseInput() EvaluateInput {
	return EvaluateInput{
		Keybinds:      tenBinds,
		Armed:         true,
		MinIntervalMs: 150,
		GcdMs:         1500,
	}
}

func TestNotArmedDoesNothing(t *testing.T) {
	ks, dispatcher, _, _ := testSender()
	in := baseInput()
	in.Armed = false
	in.Snapshots = readySnaps(0)
	in.Items = slotItems(0)

	assert.Nil(t, ks.EvaluateAndSend(in))
	assert.Empty(t, dispatcher.sent)
}

func TestFirstEligibleItemWins(t *testing.T) {
	ks, dispatcher, _, _ := testSender()
	in := baseInput()
	in.Snapshots = readySnaps(0, 1)
	in.Items = slotItems(1, 0)

	outcome := ks.EvaluateAndSend(in)
	require.NotNil(t, outcome)
	assert.Equal(t, ActionSent, outcome.Action)
	assert.Equal(t, "2", outcome.Keybind)
	assert.Equal(t, []string{"2"}, dispatcher.sent)
}

func TestNotReadyFallsThroughToNext(t *testing.T) {
	ks, dispatcher, _, _ := testSender()
	in := baseInput()
	in.Snapshots = []SlotSnapshot{
		{Index: 0, State: SlotOnCooldown},
		{Index: 1, State: SlotReady},
	}
	in.Items = slotItems(0, 1)

	outcome := ks.EvaluateAndSend(in)
	require.NotNil(t, outcome)
	assert.Equal(t, "2", outcome.Keybind)
	assert.Equal(t, []string{"2"}, dispatcher.sent)
}

func TestMinIntervalThrottles(t *testing.T) {
	ks, dispatcher, _, now := testSender()
	in := baseInput()
	in.Snapshots = readySnaps(0)
	in.Items = slotItems(0)

	require.NotNil(t, ks.EvaluateAndSend(in))
	assert.Nil(t, ks.EvaluateAndSend(in))
	assert.Len(t, dispatcher.sent, 1)

	*now = now.Add(200 * time.Millisecond)
	assert.NotNil(t, ks.EvaluateAndSend(in))
	assert.Len(t, dispatcher.sent, 2)
}

func TestCastingBlocksCycle(t *testing.T) {
	ks, dispatcher, _, _ := testSender()
	in := baseInput()
	in.Snapshots = []SlotSnapshot{
		{Index: 0, State: SlotReady},
		{Index: 3, State: SlotCasting},
	}
	in.Items = slotItems(0)

	outcome := ks.EvaluateAndSend(in)
	require.NotNil(t, outcome)
	assert.Equal(t, ActionBlocked, outcome.Action)
	assert.Equal(t, ReasonCasting, outcome.Reason)
	require.NotNil(t, outcome.SlotIndex)
	assert.Equal(t, 3, *outcome.SlotIndex)
	assert.Empty(t, dispatcher.sent)
}

func TestCastWhileCastingAllowed(t *testing.T) {
	ks, dispatcher, _, _ := testSender()
	in := baseInput()
	in.AllowCastWhileCasting = true
	in.Snapshots = []SlotSnapshot{
		{Index: 0, State: SlotReady},
		{Index: 3, State: SlotChanneling},
	}
	in.Items = slotItems(0)

	outcome := ks.EvaluateAndSend(in)
	require.NotNil(t, outcome)
	assert.Equal(t, ActionSent, outcome.Action)
	assert.Equal(t, []string{"1"}, dispatcher.sent)
}

func TestWindowLossBlocksBestCandidate(t *testing.T) {
	ks, dispatcher, window, _ := testSender()
	window.active = false
	in := baseInput()
	in.Snapshots = readySnaps(0, 1)
	in.Items = slotItems(0, 1)

	outcome := ks.EvaluateAndSend(in)
	require.NotNil(t, outcome)
	assert.Equal(t, ActionBlocked, outcome.Action)
	assert.Equal(t, ReasonWindow, outcome.Reason)
	// The block names the item that would have fired, not a fallback.
	assert.Equal(t, "1", outcome.Keybind)
	assert.Empty(t, dispatcher.sent)
}

func TestDispatchFailureAdvancesNothing(t *testing.T) {
	ks, dispatcher, _, _ := testSender()
	dispatcher.fail = true
	in := baseInput()
	in.Snapshots = readySnaps(0)
	in.Items = slotItems(0)

	assert.Nil(t, ks.EvaluateAndSend(in))

	// Same clock instant: the failed send did not stamp the throttle.
	dispatcher.fail = false
	outcome := ks.EvaluateAndSend(in)
	require.NotNil(t, outcome)
	assert.Equal(t, ActionSent, outcome.Action)
}

func TestSingleFireBypassesArmedAndClearsOnce(t *testing.T) {
	ks, dispatcher, _, now := testSender()
	in := baseInput()
	in.Armed = false
	in.Snapshots = readySnaps(0)
	in.Items = slotItems(0)

	ks.RequestSingleFire("list-a")
	require.True(t, ks.SingleFirePending())

	outcome := ks.EvaluateAndSend(in)
	require.NotNil(t, outcome)
	assert.Equal(t, ActionSent, outcome.Action)
	assert.False(t, ks.SingleFirePending())

	*now = now.Add(time.Second)
	assert.Nil(t, ks.EvaluateAndSend(in))
	assert.Len(t, dispatcher.sent, 1)
}

func TestSingleFirePersistsUntilSomethingFires(t *testing.T) {
	ks, _, _, _ := testSender()
	in := baseInput()
	in.Armed = false
	in.Snapshots = []SlotSnapshot{{Index: 0, State: SlotOnCooldown}}
	in.Items = slotItems(0)

	ks.RequestSingleFire("list-a")
	assert.Nil(t, ks.EvaluateAndSend(in))
	assert.True(t, ks.SingleFirePending())
}

func TestQueuedWhitelistFiresAndSuppresses(t *testing.T) {
	ks, dispatcher, _, now := testSender()
	cleared := false
	in := baseInput()
	in.Snapshots = readySnaps(0)
	in.Items = slotItems(0)
	in.QueueFireDelayMs = 100
	in.Queued = &QueuedOverride{Key: "f5", Source: OverrideWhitelist}
	in.OnQueuedSent = func() { cleared = true }

	outcome := ks.EvaluateAndSend(in)
	require.NotNil(t, outcome)
	assert.Equal(t, ActionSent, outcome.Action)
	assert.True(t, outcome.Queued)
	assert.Equal(t, []string{"f5"}, dispatcher.sent)
	assert.True(t, cleared)

	// Priority evaluation stays suppressed for the GCD window.
	in.Queued = nil
	*now = now.Add(500 * time.Millisecond)
	assert.Nil(t, ks.EvaluateAndSend(in))

	*now = now.Add(1200 * time.Millisecond)
	outcome = ks.EvaluateAndSend(in)
	require.NotNil(t, outcome)
	assert.Equal(t, "1", outcome.Keybind)
}

func TestQueuedNeedsPriorityReady(t *testing.T) {
	ks, dispatcher, _, _ := testSender()
	cleared := false
	in := baseInput()
	in.Snapshots = []SlotSnapshot{{Index: 0, State: SlotOnCooldown}}
	in.Items = slotItems(0)
	in.Queued = &QueuedOverride{Key: "f5", Source: OverrideWhitelist}
	in.OnQueuedSent = func() { cleared = true }

	// No priority slot is ready, so the override waits.
	assert.Nil(t, ks.EvaluateAndSend(in))
	assert.Empty(t, dispatcher.sent)
	assert.False(t, cleared)
}

func TestQueuedTrackedNeedsOwnSlotReady(t *testing.T) {
	ks, dispatcher, _, _ := testSender()
	in := baseInput()
	in.Snapshots = []SlotSnapshot{
		{Index: 0, State: SlotReady},
		{Index: 5, State: SlotOnCooldown},
	}
	in.Items = slotItems(0)
	in.Queued = &QueuedOverride{Key: "6", Source: OverrideTracked, SlotIndex: 5}

	assert.Nil(t, ks.EvaluateAndSend(in))
	assert.Empty(t, dispatcher.sent)

	in.Snapshots[1].State = SlotReady
	outcome := ks.EvaluateAndSend(in)
	require.NotNil(t, outcome)
	assert.Equal(t, "6", outcome.Keybind)
	require.NotNil(t, outcome.SlotIndex)
	assert.Equal(t, 5, *outcome.SlotIndex)
}

func TestManualActionFires(t *testing.T) {
	ks, dispatcher, _, _ := testSender()
	in := baseInput()
	in.Snapshots = []SlotSnapshot{{Index: 0, State: SlotOnCooldown}}
	in.Items = []PriorityItem{
		{Type: ItemTypeSlot, SlotIndex: 0},
		{Type: ItemTypeManual, ActionID: "pot"},
	}
	in.ManualActions = []ManualAction{{ID: "pot", Name: "Health Potion", Keybind: "f1"}}

	outcome := ks.EvaluateAndSend(in)
	require.NotNil(t, outcome)
	assert.Equal(t, ActionSent, outcome.Action)
	assert.Equal(t, "f1", outcome.Keybind)
	assert.Equal(t, "Health Potion", outcome.DisplayName)
	assert.Equal(t, ItemTypeManual, outcome.ItemType)
	assert.Empty(t, outcome.SlotIndex)
	assert.Equal(t, []string{"f1"}, dispatcher.sent)
}

func TestActivationRuleGatesSlotItem(t *testing.T) {
	ks, dispatcher, _, _ := testSender()
	in := baseInput()
	in.Snapshots = readySnaps(0, 1)
	in.Items = []PriorityItem{
		{Type: ItemTypeSlot, SlotIndex: 0, ActivationRule: RuleRequireGlow},
		{Type: ItemTypeSlot, SlotIndex: 1},
	}

	// Slot 0 is ready but its glow rule fails, so slot 1 fires.
	outcome := ks.EvaluateAndSend(in)
	require.NotNil(t, outcome)
	assert.Equal(t, "2", outcome.Keybind)
	assert.Equal(t, []string{"2"}, dispatcher.sent)
}

func TestBuffRuleConsultsBuffStates(t *testing.T) {
	ks, _, _, _ := testSender()
	in := baseInput()
	in.Snapshots = readySnaps(0)
	in.Items = []PriorityItem{
		{Type: ItemTypeSlot, SlotIndex: 0, ActivationRule: RuleBuffMissing, BuffROIID: "haste"},
	}
	in.Buffs = BuffStates{"haste": {Calibrated: true, Present: true}}

	assert.Nil(t, ks.EvaluateAndSend(in))

	in.Buffs = BuffStates{"haste": {Calibrated: true, Present: false}}
	outcome := ks.EvaluateAndSend(in)
	require.NotNil(t, outcome)
	assert.Equal(t, "1", outcome.Keybind)
}
