package checkin

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/chris/shadow/internal/category"
	"github.com/chris/shadow/internal/db"
	"github.com/chris/shadow/internal/localtime"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("check-in manager closed")

const inboxSize = 16

// Store is the write side of the entry log.
type Store interface {
	AppendEntry(ctx context.Context, cat category.Category, text string, at time.Time) (db.Entry, error)
	AppendAutoEntry(ctx context.Context, cat category.Category, text string, at time.Time) (db.Entry, error)
}

// Classifier maps free text onto a category plus a short piece of advice.
// It must not fail: any problem resolves to Misc and fallback advice.
type Classifier interface {
	Classify(ctx context.Context, text string) (category.Category, string)
}

// Transport delivers outbound chat messages.
type Transport interface {
	DeliverPrompt(ctx context.Context, chatID, text string, options []string) error
	DeliverMessage(ctx context.Context, chatID, text string) error
}

// Timer is the handle of an armed timeout. *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

type AfterFunc func(d time.Duration, f func()) Timer

type Option func(*Manager)

func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithAfterFunc(f AfterFunc) Option {
	return func(m *Manager) { m.afterFunc = f }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager is the registry of per-chat cycles.
type Manager struct {
	store      Store
	classifier Classifier
	transport  Transport
	zone       localtime.Zone

	timeout   time.Duration
	now       func() time.Time
	afterFunc AfterFunc
	logger    *zap.Logger

	mu     sync.Mutex
	chats  map[string]*chat
	closed bool
	wg     sync.WaitGroup
}

// chat is owned by its worker goroutine; only id, inbox and quit may be
// touched from elsewhere.
type chat struct {
	id    string
	inbox chan func(context.Context)
	quit  chan struct{}

	gen          uint64
	pending      *pending
	lastPromptAt time.Time
}

func New(store Store, classifier Classifier, transport Transport, zone localtime.Zone, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		classifier: classifier,
		transport:  transport,
		zone:       zone,
		timeout:    DefaultTimeout,
		now:        time.Now,
		afterFunc:  func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) },
		logger:     zap.NewNop(),
		chats:      make(map[string]*chat),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Tick starts a check-in for the chat. It never blocks: when the chat's
// worker is backed up the tick is dropped, which is what the next hourly
// anchor would do anyway.
func (m *Manager) Tick(chatID string) {
	c, err := m.chat(chatID, true)
	if err != nil {
		return
	}
	select {
	case c.inbox <- func(ctx context.Context) { m.prompt(ctx, c) }:
	default:
		m.logger.Warn("chat worker busy, dropping check-in tick", zap.String("chat_id", chatID))
	}
}

// HandleMessage cancels any pending timeout for the chat and records the
// message as an entry. It waits for the chat's worker to finish. A storage
// fault is returned after the user has already been acknowledged. The entry
// is stamped from the moment the message arrived, not when the worker got to
// it.
func (m *Manager) HandleMessage(ctx context.Context, chatID, text string) (Outcome, error) {
	arrived := m.now()
	var out Outcome
	var respErr error
	err := m.do(ctx, chatID, func(ctx context.Context, c *chat) {
		out, respErr = m.respond(ctx, c, text, arrived)
	})
	if err != nil {
		return Outcome{}, err
	}
	return out, respErr
}

// Reset cancels a pending timeout without recording anything.
func (m *Manager) Reset(ctx context.Context, chatID string) error {
	if c, _ := m.chat(chatID, false); c == nil {
		return nil
	}
	return m.do(ctx, chatID, func(_ context.Context, c *chat) { c.cancel() })
}

// Snapshot returns the current state of a chat's cycle.
func (m *Manager) Snapshot(ctx context.Context, chatID string) (State, error) {
	if c, _ := m.chat(chatID, false); c == nil {
		return State{ChatID: chatID, Phase: Idle}, nil
	}
	var s State
	err := m.do(ctx, chatID, func(_ context.Context, c *chat) { s = m.snapshot(c) })
	return s, err
}

// Close stops every worker and its pending timer.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, c := range m.chats {
		close(c.quit)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// do runs fn on the chat's worker and waits for it to finish.
func (m *Manager) do(ctx context.Context, chatID string, fn func(context.Context, *chat)) error {
	c, err := m.chat(chatID, true)
	if err != nil {
		return err
	}
	done := make(chan struct{})
	job := func(ctx context.Context) {
		defer close(done)
		fn(ctx, c)
	}
	select {
	case c.inbox <- job:
	case <-c.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-c.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// timeoutFired runs on the timer's goroutine and hands the expiry to the
// chat's worker, blocking until there is room so an expiry is never lost.
func (m *Manager) timeoutFired(c *chat, gen uint64) {
	select {
	case c.inbox <- func(ctx context.Context) { m.expire(ctx, c, gen) }:
	case <-c.quit:
	}
}

func (m *Manager) chat(chatID string, create bool) (*chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if c, ok := m.chats[chatID]; ok {
		return c, nil
	}
	if !create {
		return nil, nil
	}
	c := &chat{
		id:    chatID,
		inbox: make(chan func(context.Context), inboxSize),
		quit:  make(chan struct{}),
	}
	m.chats[chatID] = c
	m.wg.Add(1)
	go m.run(c)
	return c, nil
}

func (m *Manager) run(c *chat) {
	defer m.wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c.quit
		cancel()
	}()

	for {
		select {
		case job := <-c.inbox:
			m.safely(ctx, c, job)
		case <-c.quit:
			c.cancel()
			return
		}
	}
}

// safely keeps one chat's panic from taking down the others.
func (m *Manager) safely(ctx context.Context, c *chat, job func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("check-in handler panicked",
				zap.String("chat_id", c.id),
				zap.String("panic", fmt.Sprint(r)),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	job(ctx)
}
