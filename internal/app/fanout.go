package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"session_broadcaster_bot/internal/domain/dispatch"
	"session_broadcaster_bot/internal/domain/telegram"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultSendDelay   = 5 * time.Second
	DefaultJoinDelay   = 3 * time.Second
	DefaultCallTimeout = 60 * time.Second
)

// Action names a fan-out operation, as reported to observers.
type Action string

const (
	ActionGroupBroadcast Action = "group-broadcast"
	ActionUserBroadcast  Action = "user-broadcast"
	ActionJoin           Action = "join"
	ActionLeave          Action = "leave"
)

// Outcome is the result of one external call inside a fan-out.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeFailure     Outcome = "failure"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeSkipped     Outcome = "skipped"
)

// FanoutObserver receives one event per counted outcome.
type FanoutObserver interface {
	ObserveOutcome(action Action, outcome Outcome)
}

// FanoutConfig holds the throttling policy. Zero values fall back to defaults.
type FanoutConfig struct {
	SendDelay   time.Duration // after each successful send and each leave attempt
	JoinDelay   time.Duration // after each join attempt
	CallTimeout time.Duration // bound for a single external call
}

func (c FanoutConfig) withDefaults() FanoutConfig {
	if c.SendDelay <= 0 {
		c.SendDelay = DefaultSendDelay
	}
	if c.JoinDelay <= 0 {
		c.JoinDelay = DefaultJoinDelay
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	return c
}

// Result aggregates the counters of one fan-out run.
// Attempted is always Succeeded + Failed + RateLimited.
type Result struct {
	RunID            string
	Sessions         int
	Attempted        int
	Succeeded        int
	Failed           int
	RateLimited      int
	Skipped          int
	AlreadyProcessed bool
}

// StatusLine is one row of a status listing.
type StatusLine struct {
	Index    int
	Identity telegram.Identity
	Err      error
}

// FanoutEngine applies one administrator action across the whole pool,
// sequentially, with fixed delays between calls. Only one run executes at a
// time; further calls wait for it.
type FanoutEngine struct {
	pool     *SessionPool
	log      dispatch.Log
	cfg      FanoutConfig
	observer FanoutObserver
	logger   *logrus.Entry

	sleep    func(ctx context.Context, d time.Duration) error
	newRunID func() string

	mu sync.Mutex
}

func NewFanoutEngine(pool *SessionPool, log dispatch.Log, cfg FanoutConfig, observer FanoutObserver, logger *logrus.Entry) *FanoutEngine {
	return &FanoutEngine{
		pool:     pool,
		log:      log,
		cfg:      cfg.withDefaults(),
		observer: observer,
		logger:   logger.WithField("component", "fanout"),
		sleep:    sleepContext,
		newRunID: uuid.NewString,
	}
}

// Broadcast sends message to every group (KindGroupBroadcast) or private
// chat (KindUserBroadcast) of every session. Chats that already received a
// broadcast from the same session are skipped.
func (e *FanoutEngine) Broadcast(ctx context.Context, kind dispatch.Kind, message string) (Result, error) {
	var action Action
	switch kind {
	case dispatch.KindGroupBroadcast:
		action = ActionGroupBroadcast
	case dispatch.KindUserBroadcast:
		action = ActionUserBroadcast
	default:
		return Result{}, fmt.Errorf("unknown broadcast kind %q", kind)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	res := Result{RunID: e.newRunID()}
	runLog := e.logger.WithFields(logrus.Fields{"run_id": res.RunID, "action": action})
	runLog.Info("Broadcast started")

	for _, s := range e.pool.Sessions() {
		res.Sessions++
		sessLog := runLog.WithField("session_idx", s.Index)
		var abort error

		err := s.Account.Dialogs(ctx, func(d telegram.Dialog) error {
			if !kindMatches(kind, d.Kind) {
				return nil
			}
			abort = e.broadcastOne(ctx, s, d, kind, action, message, &res, sessLog)
			return abort
		})
		if abort != nil {
			runLog.WithError(abort).Error("Broadcast aborted")
			return res, abort
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		if err != nil {
			sessLog.WithError(err).Error("Failed to list dialogs")
			e.count(&res, action, OutcomeFailure)
		}
	}

	runLog.WithFields(resultFields(res)).Info("Broadcast finished")
	return res, nil
}

// broadcastOne handles a single target. A non-nil return aborts the run.
func (e *FanoutEngine) broadcastOne(ctx context.Context, s *Session, d telegram.Dialog, kind dispatch.Kind, action Action, message string, res *Result, logCtx *logrus.Entry) error {
	logCtx = logCtx.WithField("chat_id", d.ID)

	done, err := e.log.WasDispatched(ctx, s.Index, d.ID)
	if err != nil {
		return persistenceError(err)
	}
	if done {
		e.count(res, action, OutcomeSkipped)
		return nil
	}

	err = e.call(ctx, func(ctx context.Context) error {
		return s.Account.SendMessage(ctx, d.ID, message)
	})
	if err == nil {
		e.count(res, action, OutcomeSuccess)
		if err := e.log.RecordDispatched(ctx, s.Index, d.ID, kind); err != nil {
			return persistenceError(err)
		}
		return e.sleep(ctx, e.cfg.SendDelay)
	}
	if wait, ok := telegram.AsFloodWait(err); ok {
		logCtx.WithField("wait", wait).Warn("Send rate limited")
		e.count(res, action, OutcomeRateLimited)
		return e.sleep(ctx, wait)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	logCtx.WithError(err).Warn("Send failed")
	e.count(res, action, OutcomeFailure)
	return nil
}

// Join makes every session join link. A link is processed at most once for
// the whole pool; the record is written after the pass even when every
// session failed.
func (e *FanoutEngine) Join(ctx context.Context, link string) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res := Result{RunID: e.newRunID()}
	runLog := e.logger.WithFields(logrus.Fields{"run_id": res.RunID, "action": ActionJoin, "link": link})

	joined, err := e.log.WasJoined(ctx, link)
	if err != nil {
		return res, persistenceError(err)
	}
	if joined {
		runLog.Info("Link already processed, skipping join")
		res.AlreadyProcessed = true
		return res, nil
	}

	runLog.Info("Join started")
	for _, s := range e.pool.Sessions() {
		res.Sessions++
		sessLog := runLog.WithField("session_idx", s.Index)

		err := e.call(ctx, func(ctx context.Context) error {
			return s.Account.JoinLink(ctx, link)
		})
		if stop := e.settle(ctx, err, &res, ActionJoin, sessLog); stop != nil {
			return res, stop
		}
		if err := e.sleep(ctx, e.cfg.JoinDelay); err != nil {
			return res, err
		}
	}

	if err := e.log.RecordJoined(ctx, link); err != nil {
		return res, persistenceError(err)
	}
	runLog.WithFields(resultFields(res)).Info("Join finished")
	return res, nil
}

// Leave makes every session leave link. There is no idempotency gate.
func (e *FanoutEngine) Leave(ctx context.Context, link string) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res := Result{RunID: e.newRunID()}
	runLog := e.logger.WithFields(logrus.Fields{"run_id": res.RunID, "action": ActionLeave, "link": link})
	runLog.Info("Leave started")

	for _, s := range e.pool.Sessions() {
		res.Sessions++
		sessLog := runLog.WithField("session_idx", s.Index)

		err := e.call(ctx, func(ctx context.Context) error {
			return s.Account.LeaveLink(ctx, link)
		})
		if stop := e.settle(ctx, err, &res, ActionLeave, sessLog); stop != nil {
			return res, stop
		}
		if err := e.sleep(ctx, e.cfg.SendDelay); err != nil {
			return res, err
		}
	}

	runLog.WithFields(resultFields(res)).Info("Leave finished")
	return res, nil
}

// Status fetches the identity of every session. A failed fetch yields a line
// with Err set; the listing itself never fails.
func (e *FanoutEngine) Status(ctx context.Context) []StatusLine {
	e.mu.Lock()
	defer e.mu.Unlock()

	sessions := e.pool.Sessions()
	lines := make([]StatusLine, 0, len(sessions))
	for _, s := range sessions {
		var id telegram.Identity
		err := e.call(ctx, func(ctx context.Context) error {
			var err error
			id, err = e.pool.Describe(ctx, s)
			return err
		})
		if err != nil {
			e.logger.WithField("session_idx", s.Index).WithError(err).Warn("Status fetch failed")
		}
		lines = append(lines, StatusLine{Index: s.Index, Identity: id, Err: err})
	}
	return lines
}

// settle counts the outcome of a join or leave call. Rate limits are honored
// by sleeping for the requested duration; the attempt is not retried.
func (e *FanoutEngine) settle(ctx context.Context, err error, res *Result, action Action, logCtx *logrus.Entry) error {
	if err == nil {
		e.count(res, action, OutcomeSuccess)
		return nil
	}
	if wait, ok := telegram.AsFloodWait(err); ok {
		logCtx.WithField("wait", wait).Warn("Rate limited, waiting before next session")
		e.count(res, action, OutcomeRateLimited)
		return e.sleep(ctx, wait)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	logCtx.WithError(err).Warn("Action failed")
	e.count(res, action, OutcomeFailure)
	return nil
}

func (e *FanoutEngine) call(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	return fn(callCtx)
}

func (e *FanoutEngine) count(res *Result, action Action, outcome Outcome) {
	switch outcome {
	case OutcomeSuccess:
		res.Attempted++
		res.Succeeded++
	case OutcomeFailure:
		res.Attempted++
		res.Failed++
	case OutcomeRateLimited:
		res.Attempted++
		res.RateLimited++
	case OutcomeSkipped:
		res.Skipped++
	}
	if e.observer != nil {
		e.observer.ObserveOutcome(action, outcome)
	}
}

func kindMatches(kind dispatch.Kind, chat telegram.ChatKind) bool {
	switch kind {
	case dispatch.KindGroupBroadcast:
		return chat == telegram.ChatGroup || chat == telegram.ChatSupergroup
	case dispatch.KindUserBroadcast:
		return chat == telegram.ChatPrivate
	}
	return false
}

func persistenceError(err error) error {
	if errors.Is(err, dispatch.ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %v", dispatch.ErrPersistence, err)
}

func resultFields(res Result) logrus.Fields {
	return logrus.Fields{
		"sessions":     res.Sessions,
		"attempted":    res.Attempted,
		"succeeded":    res.Succeeded,
		"failed":       res.Failed,
		"rate_limited": res.RateLimited,
		"skipped":      res.Skipped,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
