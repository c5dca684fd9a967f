package checkin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chris/shadow/internal/category"
	"github.com/chris/shadow/internal/db"
	"github.com/chris/shadow/internal/localtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var ny = localtime.MustLoad("America/New_York")

// --- fakes ---

type fakeStore struct {
	mu      sync.Mutex
	entries []db.Entry
	err     error
}

func (s *fakeStore) AppendEntry(_ context.Context, cat category.Category, text string, at time.Time) (db.Entry, error) {
	return s.append(cat, text, at, false)
}

func (s *fakeStore) AppendAutoEntry(_ context.Context, cat category.Category, text string, at time.Time) (db.Entry, error) {
	return s.append(cat, text, at, true)
}

func (s *fakeStore) append(cat category.Category, text string, at time.Time, auto bool) (db.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return db.Entry{}, s.err
	}
	e := db.Entry{ID: string(rune('a' + len(s.entries))), Category: cat, Text: text, Timestamp: at.UTC(), Auto: auto}
	s.entries = append(s.entries, e)
	return e, nil
}

func (s *fakeStore) all() []db.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]db.Entry(nil), s.entries...)
}

type fakeClassifier struct {
	cat    category.Category
	advice string
	calls  []string
}

func (c *fakeClassifier) Classify(_ context.Context, text string) (category.Category, string) {
	c.calls = append(c.calls, text)
	return c.cat, c.advice
}

type fakeTransport struct {
	mu         sync.Mutex
	prompts    []string
	messages   []string
	promptErr  error
	lastOption []string
}

func (t *fakeTransport) DeliverPrompt(_ context.Context, chatID, text string, options []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.promptErr != nil {
		return t.promptErr
	}
	t.prompts = append(t.prompts, text)
	t.lastOption = options
	return nil
}

func (t *fakeTransport) DeliverMessage(_ context.Context, chatID, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, text)
	return nil
}

func (t *fakeTransport) sent() ([]string, []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.prompts...), append([]string(nil), t.messages...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// fakeTimer fires only when the test says so. Fire runs the callback even
// after Stop to reproduce a timeout that began firing before it was cancelled.
type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *fakeTimer) Fire() { t.f() }

type timers struct {
	mu  sync.Mutex
	all []*fakeTimer
}

func (ts *timers) AfterFunc(d time.Duration, f func()) Timer {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	ts.all = append(ts.all, t)
	return t
}

func (ts *timers) armed() []*fakeTimer {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]*fakeTimer(nil), ts.all...)
}

type harness struct {
	m          *Manager
	store      *fakeStore
	classifier *fakeClassifier
	transport  *fakeTransport
	clock      *fakeClock
	timers     *timers
}

func newHarness(t *testing.T, start time.Time) *harness {
	t.Helper()
	h := &harness{
		store:      &fakeStore{},
		classifier: &fakeClassifier{cat: category.Misc, advice: "Keep pushing forward."},
		transport:  &fakeTransport{},
		clock:      &fakeClock{now: start},
		timers:     &timers{},
	}
	h.m = New(h.store, h.classifier, h.transport, ny,
		WithClock(h.clock.Now),
		WithAfterFunc(h.timers.AfterFunc),
	)
	t.Cleanup(h.m.Close)
	return h
}

// sync waits until everything queued for the chat so far has run.
func (h *harness) sync(t *testing.T, chatID string) State {
	t.Helper()
	s, err := h.m.Snapshot(context.Background(), chatID)
	require.NoError(t, err)
	return s
}

func local(h, min int) time.Time {
	return time.Date(2026, 10, 21, h, min, 0, 0, ny.Location())
}

// --- tests ---

func TestTickPromptsAndArmsTimeout(t *testing.T) {
	h := newHarness(t, local(14, 0))

	h.m.Tick("c1")
	s := h.sync(t, "c1")

	assert.Equal(t, Prompted, s.Phase)
	assert.True(t, local(14, 0).Equal(s.LastPromptAt))
	assert.True(t, local(14, 15).Equal(s.ExpiresAt))

	prompts, _ := h.transport.sent()
	require.Len(t, prompts, 1)
	assert.Equal(t, "It's 02:00 PM. Check-in:", prompts[0])
	assert.Equal(t, category.Names(), h.transport.lastOption)

	armed := h.timers.armed()
	require.Len(t, armed, 1)
	assert.Equal(t, DefaultTimeout, armed[0].d)
}

func TestTickWhilePromptedDoesNotDoubleArm(t *testing.T) {
	h := newHarness(t, local(14, 0))

	h.m.Tick("c1")
	h.sync(t, "c1")
	h.clock.Set(local(14, 5))
	h.m.Tick("c1")
	h.sync(t, "c1")

	prompts, _ := h.transport.sent()
	assert.Len(t, prompts, 1)
	assert.Len(t, h.timers.armed(), 1)
}

func TestPromptDeliveryFailureArmsNothing(t *testing.T) {
	h := newHarness(t, local(14, 0))
	h.transport.promptErr = errors.New("discord down")

	h.m.Tick("c1")
	s := h.sync(t, "c1")

	assert.Equal(t, Idle, s.Phase)
	assert.Empty(t, h.timers.armed())
}

func TestManualResponseBeforeTimeoutCancelsAutoEntry(t *testing.T) {
	h := newHarness(t, local(1, 0))
	h.classifier.cat = category.Work
	h.classifier.advice = "Good."

	h.m.Tick("c1")
	h.sync(t, "c1")

	h.clock.Set(local(1, 0).Add(500 * time.Second))
	out, err := h.m.HandleMessage(context.Background(), "c1", "fixing prod at 1am")
	require.NoError(t, err)
	assert.Equal(t, category.Work, out.Category)

	timer := h.timers.armed()[0]
	assert.True(t, timer.stopped)

	// the timer had already started firing when it was cancelled
	h.clock.Set(local(1, 15))
	timer.Fire()
	h.sync(t, "c1")

	entries := h.store.all()
	require.Len(t, entries, 1)
	assert.Equal(t, category.Work, entries[0].Category)
	assert.Equal(t, "fixing prod at 1am", entries[0].Text)
	assert.True(t, local(0, 0).Add(500*time.Second).Equal(entries[0].Timestamp))
}

func TestUnansweredPromptAtNightLogsSleep(t *testing.T) {
	h := newHarness(t, local(1, 0))

	h.m.Tick("c1")
	h.sync(t, "c1")

	h.clock.Set(local(1, 15))
	h.timers.armed()[0].Fire()
	s := h.sync(t, "c1")

	assert.Equal(t, Idle, s.Phase)
	entries := h.store.all()
	require.Len(t, entries, 1)
	assert.Equal(t, category.Sleep, entries[0].Category)
	assert.Equal(t, db.AutoSleepText, entries[0].Text)
	assert.True(t, entries[0].Auto)
	assert.True(t, local(0, 15).Equal(entries[0].Timestamp))

	_, messages := h.transport.sent()
	assert.Equal(t, []string{"No reply. Logged 'Sleep' for last hour."}, messages)
}

func TestUnansweredPromptInDaytimeLogsNothing(t *testing.T) {
	h := newHarness(t, local(14, 0))

	h.m.Tick("c1")
	h.sync(t, "c1")

	h.clock.Set(local(14, 15))
	h.timers.armed()[0].Fire()
	s := h.sync(t, "c1")

	assert.Equal(t, Idle, s.Phase)
	assert.Empty(t, h.store.all())
	_, messages := h.transport.sent()
	assert.Empty(t, messages)
}

func TestTimeoutFiresOnlyOnce(t *testing.T) {
	h := newHarness(t, local(2, 0))

	h.m.Tick("c1")
	h.sync(t, "c1")
	timer := h.timers.armed()[0]
	timer.Fire()
	timer.Fire()
	h.sync(t, "c1")

	assert.Len(t, h.store.all(), 1)
}

func TestStaleTimeoutDoesNotResolveNewPrompt(t *testing.T) {
	h := newHarness(t, local(1, 0))

	h.m.Tick("c1")
	h.sync(t, "c1")
	first := h.timers.armed()[0]

	_, err := h.m.HandleMessage(context.Background(), "c1", "Sleep")
	require.NoError(t, err)

	h.clock.Set(local(2, 0))
	h.m.Tick("c1")
	h.sync(t, "c1")

	// the first prompt's timer fires late, during the second prompt
	first.Fire()
	s := h.sync(t, "c1")

	assert.Equal(t, Prompted, s.Phase)
	assert.Len(t, h.store.all(), 1)
}

func TestDirectCategoryMatchSkipsClassifier(t *testing.T) {
	h := newHarness(t, local(10, 0))

	out, err := h.m.HandleMessage(context.Background(), "c1", "Exercise")
	require.NoError(t, err)

	assert.True(t, out.Quick)
	assert.Equal(t, category.Exercise, out.Category)
	assert.Empty(t, h.classifier.calls)

	entries := h.store.all()
	require.Len(t, entries, 1)
	assert.Equal(t, db.QuickCheckInText, entries[0].Text)
	assert.True(t, local(9, 0).Equal(entries[0].Timestamp))

	_, messages := h.transport.sent()
	assert.Equal(t, []string{"✅ Saved: **Exercise**"}, messages)
}

// slowTransport holds the first prompt delivery until released.
type slowTransport struct {
	fakeTransport
	entered chan struct{}
	release chan struct{}
}

func (t *slowTransport) DeliverPrompt(ctx context.Context, chatID, text string, options []string) error {
	t.entered <- struct{}{}
	<-t.release
	return t.fakeTransport.DeliverPrompt(ctx, chatID, text, options)
}

func TestEntryStampedAtArrivalNotWhenWorkerRuns(t *testing.T) {
	clock := &fakeClock{now: local(10, 59)}
	reads := make(chan struct{}, 16)
	now := func() time.Time {
		select {
		case reads <- struct{}{}:
		default:
		}
		return clock.Now()
	}
	transport := &slowTransport{entered: make(chan struct{}), release: make(chan struct{})}
	store := &fakeStore{}
	m := New(store, &fakeClassifier{cat: category.Misc}, transport, ny,
		WithClock(now),
		WithAfterFunc((&timers{}).AfterFunc),
	)
	t.Cleanup(m.Close)

	// the worker is stuck delivering a prompt when the answer comes in
	m.Tick("c1")
	<-transport.entered
	for len(reads) > 0 {
		<-reads
	}

	done := make(chan error, 1)
	go func() {
		_, err := m.HandleMessage(context.Background(), "c1", "Work")
		done <- err
	}()
	<-reads

	clock.Set(local(11, 20))
	close(transport.release)
	require.NoError(t, <-done)

	entries := store.all()
	require.Len(t, entries, 1)
	assert.True(t, local(9, 59).Equal(entries[0].Timestamp), "got %s", entries[0].Timestamp)
}

func TestDirectMatchIsCaseSensitive(t *testing.T) {
	h := newHarness(t, local(10, 0))

	_, err := h.m.HandleMessage(context.Background(), "c1", "exercise")
	require.NoError(t, err)
	assert.Equal(t, []string{"exercise"}, h.classifier.calls)
}

func TestFreeTextUsesClassifier(t *testing.T) {
	h := newHarness(t, local(10, 0))
	h.classifier.cat = category.Leisure
	h.classifier.advice = "Passive scrolling is not rest."

	out, err := h.m.HandleMessage(context.Background(), "c1", "watched reels")
	require.NoError(t, err)
	assert.False(t, out.Quick)
	assert.Equal(t, category.Leisure, out.Category)
	assert.Equal(t, "Passive scrolling is not rest.", out.Advice)

	_, messages := h.transport.sent()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "Logged under: **Leisure**")
	assert.Contains(t, messages[0], "Passive scrolling is not rest.")
}

func TestUnknownClassifierCategoryBecomesMisc(t *testing.T) {
	h := newHarness(t, local(10, 0))
	h.classifier.cat = "Gardening"

	out, err := h.m.HandleMessage(context.Background(), "c1", "weeding")
	require.NoError(t, err)
	assert.Equal(t, category.Misc, out.Category)
	assert.Equal(t, category.Misc, h.store.all()[0].Category)
}

func TestStorageFaultStillAcknowledges(t *testing.T) {
	h := newHarness(t, local(1, 0))
	h.store.err = errors.New("disk full")

	h.m.Tick("c1")
	h.sync(t, "c1")

	_, err := h.m.HandleMessage(context.Background(), "c1", "Work")
	require.Error(t, err)

	_, messages := h.transport.sent()
	assert.Equal(t, []string{"✅ Saved: **Work**"}, messages)

	s := h.sync(t, "c1")
	assert.Equal(t, Idle, s.Phase, "a storage fault must not leave the chat prompted")
}

func TestChatsAreIndependent(t *testing.T) {
	h := newHarness(t, local(1, 0))

	h.m.Tick("c1")
	h.m.Tick("c2")
	h.sync(t, "c1")
	h.sync(t, "c2")
	require.Len(t, h.timers.armed(), 2)

	_, err := h.m.HandleMessage(context.Background(), "c1", "Sleep")
	require.NoError(t, err)

	s1 := h.sync(t, "c1")
	s2 := h.sync(t, "c2")
	assert.Equal(t, Idle, s1.Phase)
	assert.Equal(t, Prompted, s2.Phase)
}

func TestResetCancelsPending(t *testing.T) {
	h := newHarness(t, local(1, 0))

	h.m.Tick("c1")
	h.sync(t, "c1")
	require.NoError(t, h.m.Reset(context.Background(), "c1"))

	h.timers.armed()[0].Fire()
	s := h.sync(t, "c1")
	assert.Equal(t, Idle, s.Phase)
	assert.Empty(t, h.store.all())
}

func TestSnapshotUnknownChatIsIdle(t *testing.T) {
	h := newHarness(t, local(1, 0))
	s, err := h.m.Snapshot(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, Idle, s.Phase)
	assert.Equal(t, "nobody", s.ChatID)
}

func TestHandlerPanicIsIsolated(t *testing.T) {
	h := newHarness(t, local(10, 0))
	h.m.classifier = panicClassifier{}

	_, err := h.m.HandleMessage(context.Background(), "c1", "boom")
	require.NoError(t, err)

	// the worker survived and still serves the chat
	out, err := h.m.HandleMessage(context.Background(), "c1", "Work")
	require.NoError(t, err)
	assert.Equal(t, category.Work, out.Category)
}

type panicClassifier struct{}

func (panicClassifier) Classify(context.Context, string) (category.Category, string) {
	panic("classifier exploded")
}

func TestClosedManagerRejectsWork(t *testing.T) {
	h := newHarness(t, local(10, 0))
	h.m.Tick("c1")
	h.sync(t, "c1")
	h.m.Close()

	_, err := h.m.HandleMessage(context.Background(), "c1", "Work")
	assert.ErrorIs(t, err, ErrClosed)
	h.m.Tick("c1")
}

func TestRealTimerExpires(t *testing.T) {
	clock := &fakeClock{now: local(3, 0)}
	store := &fakeStore{}
	m := New(store, &fakeClassifier{}, &fakeTransport{}, ny,
		WithClock(clock.Now),
		WithTimeout(20*time.Millisecond),
	)
	defer m.Close()

	m.Tick("c1")
	assert.Eventually(t, func() bool { return len(store.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, category.Sleep, store.all()[0].Category)
}
