package matching

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/tori/voicematch/internal/metrics"
	"github.com/tori/voicematch/internal/wallet"
)

// Outcome is the result of one pairing scan.
type Outcome int

const (
	// OutcomeError denotes an infrastructure failure; the accompanying
	// error carries the cause.
	OutcomeError Outcome = iota
	// OutcomeMatchingInProgress means another process holds the global
	// lock; the caller should retry after a short backoff.
	OutcomeMatchingInProgress
	// OutcomeNoSetting means the initiator has no saved preferences.
	OutcomeNoSetting
	// OutcomeAlreadyMatched means the initiator is committed to a match.
	OutcomeAlreadyMatched
	// OutcomeNoMatch means no compatible partner is waiting.
	OutcomeNoMatch
	// OutcomeNotEnoughGems means the initiator cannot afford the pairing.
	OutcomeNotEnoughGems
	// OutcomeMatchCreated means a match record now exists for the pair.
	OutcomeMatchCreated
)

// String returns the wire-facing name of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeMatchingInProgress:
		return "matching_in_progress"
	case OutcomeNoSetting:
		return "no_setting"
	case OutcomeAlreadyMatched:
		return "already_matched"
	case OutcomeNoMatch:
		return "no_match"
	case OutcomeNotEnoughGems:
		return "not_enough_gems"
	case OutcomeMatchCreated:
		return "match_created"
	default:
		return "error"
	}
}

// Engine runs the pairing scan: under the global lock it walks the wait
// queue oldest-first, selects the first mutually compatible partner, debits
// the initiator's wallet and creates the match record plus both
// active-match pointers.
type Engine struct {
	queue    *Queue
	registry *Registry
	lock     *GlobalLock
	liveness Liveness
	settings SettingSource
	persons  PersonSource
	wallet   Wallet
	prices   PriceTable
	now      func() time.Time
}

// NewEngine wires a pairing engine from its collaborators.
func NewEngine(queue *Queue, registry *Registry, lock *GlobalLock, liveness Liveness,
	settings SettingSource, persons PersonSource, w Wallet, prices PriceTable) *Engine {
	return &Engine{
		queue:    queue,
		registry: registry,
		lock:     lock,
		liveness: liveness,
		settings: settings,
		persons:  persons,
		wallet:   w,
		prices:   prices,
		now:      time.Now,
	}
}

// FindAndMatch scans the queue on behalf of initiator. On
// OutcomeMatchCreated the returned Person is the selected partner; for all
// other outcomes it is nil. Infrastructure failures return OutcomeError
// with a non-nil error.
func (e *Engine) FindAndMatch(ctx context.Context, initiator int64) (Outcome, *Person, error) {
	holder := strconv.FormatInt(initiator, 10)
	acquired, err := e.lock.TryAcquire(ctx, holder)
	if err != nil {
		return OutcomeError, nil, err
	}
	if !acquired {
		return OutcomeMatchingInProgress, nil, nil
	}
	defer func() {
		if err := e.lock.Release(context.WithoutCancel(ctx), holder); err != nil {
			log.Printf("[engine] release lock held by %d: %v", initiator, err)
		}
	}()

	return e.scan(ctx, initiator)
}

// scan is the body of the pairing critical section.
func (e *Engine) scan(ctx context.Context, initiator int64) (Outcome, *Person, error) {
	mySetting, err := e.settings.Setting(ctx, initiator)
	if err != nil {
		return OutcomeError, nil, err
	}
	if mySetting == nil {
		return OutcomeNoSetting, nil, nil
	}

	active, err := e.registry.GetActive(ctx, initiator)
	if err != nil {
		return OutcomeError, nil, err
	}
	if active != "" {
		return OutcomeAlreadyMatched, nil, nil
	}

	me, err := e.persons.Person(ctx, initiator)
	if err != nil {
		return OutcomeError, nil, err
	}
	if me == nil {
		return OutcomeNoSetting, nil, nil
	}

	partner, err := e.selectPartner(ctx, initiator, mySetting, me)
	if err != nil {
		return OutcomeError, nil, err
	}
	if partner == nil {
		return OutcomeNoMatch, nil, nil
	}

	// Debit only now that a partner exists; queued users with nobody
	// compatible present are never charged.
	price := e.prices.Price(mySetting.PreferredGender)
	note := fmt.Sprintf("Matched with %s", partner.Username)
	if err := e.wallet.Debit(ctx, initiator, price, note); err != nil {
		if errors.Is(err, wallet.ErrInsufficientGems) {
			return OutcomeNotEnoughGems, nil, nil
		}
		return OutcomeError, nil, err
	}

	// The partner's enqueue time feeds the wait-duration histogram; read it
	// before the dequeue below erases the score.
	partnerSince, err := e.queue.EnqueuedAt(ctx, partner.ID)
	if err != nil {
		partnerSince = time.Time{}
	}

	rec := NewRecord(initiator, partner.ID, e.now())
	if err := e.registry.PutRecord(ctx, rec); err != nil {
		return OutcomeError, nil, err
	}
	if err := e.registry.SetActive(ctx, initiator, rec.ID()); err != nil {
		return OutcomeError, nil, err
	}
	if err := e.registry.SetActive(ctx, partner.ID, rec.ID()); err != nil {
		return OutcomeError, nil, err
	}
	if err := e.queue.Dequeue(ctx, initiator); err != nil {
		return OutcomeError, nil, err
	}
	if err := e.queue.Dequeue(ctx, partner.ID); err != nil {
		return OutcomeError, nil, err
	}

	metrics.GemsDebited.Add(float64(price))
	if !partnerSince.IsZero() {
		metrics.MatchDuration.Observe(e.now().Sub(partnerSince).Seconds())
	}

	log.Printf("[engine] match %s created by %d (price=%d)", rec.ID(), initiator, price)
	return OutcomeMatchCreated, partner, nil
}

// selectPartner walks the queue in score order and returns the first
// candidate whose preferences and the initiator's mutually hold. Offline
// candidates are dequeued inline; candidates already committed to a match
// or without saved preferences are skipped.
func (e *Engine) selectPartner(ctx context.Context, initiator int64, mySetting *Setting, me *Person) (*Person, error) {
	waiting, err := e.queue.Waiting(ctx)
	if err != nil {
		return nil, err
	}

	for _, candidate := range waiting {
		if candidate == initiator {
			continue
		}

		online, err := e.liveness.IsOnline(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if !online {
			// Stale queue entry: presence expired without a clean leave.
			if err := e.queue.Dequeue(ctx, candidate); err != nil {
				log.Printf("[engine] dequeue stale %d: %v", candidate, err)
			}
			continue
		}

		active, err := e.registry.GetActive(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if active != "" {
			continue
		}

		theirSetting, err := e.settings.Setting(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if theirSetting == nil {
			continue
		}

		them, err := e.persons.Person(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if them == nil {
			continue
		}

		if Compatible(mySetting, me, theirSetting, them) {
			return them, nil
		}
	}
	return nil, nil
}
