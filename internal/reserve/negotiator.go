// Package reserve drives the interactive reservation negotiation against the scheduling service.
package reserve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/qcs/internal/prompt"
	"github.com/MarkoPoloResearchLab/qcs/pkg/qcs"
)

const (
	insufficientCreditAlert = "\nAlert! This reservation's price is more than your current available balance. Booking it would result in a usage bill. If you believe this is in error, please contact support@rigetti.com."
	bookingMessage          = "Booking reservation(s)..."
	confirmedMessage        = "Reservation(s) confirmed, run 'qcs reservations' to see the latest schedule."
	farewellMessage         = "exiting."
)

// Scheduler is the subset of the resource layer the negotiation needs.
type Scheduler interface {
	Credits(ctx context.Context) (qcs.Credits, error)
	NextAvailable(ctx context.Context, request qcs.AvailabilityRequest) ([]qcs.Availability, error)
	Reserve(ctx context.Context, request qcs.ReservationRequest) ([]qcs.Reservation, error)
}

// Chooser asks the user what to do with a set of candidates.
type Chooser interface {
	ChooseAvailability(count int) (prompt.Decision, error)
}

// Presenter shows negotiation progress to the user.
type Presenter interface {
	Credits(credits qcs.Credits) error
	Availabilities(availabilities []qcs.Availability) error
	Message(format string, args ...any)
	Alert(format string, args ...any)
}

// Mode selects how far a negotiation goes.
type Mode int

const (
	// ModeInteractive presents candidates and asks the user each round.
	ModeInteractive Mode = iota
	// ModeListOnly queries and presents one round without booking.
	ModeListOnly
	// ModeDirectConfirm books the earliest candidate for a named lattice without asking.
	ModeDirectConfirm
)

// AbortReason explains why a negotiation ended without a booking.
type AbortReason string

const (
	AbortNone               AbortReason = ""
	AbortNothingFound       AbortReason = "nothing_found"
	AbortUserQuit           AbortReason = "user_quit"
	AbortInsufficientCredit AbortReason = "insufficient_credit"
	AbortListOnly           AbortReason = "list_only"
)

// Request describes the compute block the user is looking for.
type Request struct {
	LatticeName     string
	StartTime       time.Time
	DurationSeconds int64
	Notes           string
	Mode            Mode
}

// Outcome summarizes a finished negotiation. An abort is not an error.
type Outcome struct {
	Booked       bool
	Reason       AbortReason
	Reservations []qcs.Reservation
	Rounds       int
	// Query is the last availability query sent.
	Query qcs.AvailabilityRequest
}

// Negotiator runs the query, present, decide loop.
type Negotiator struct {
	scheduler Scheduler
	chooser   Chooser
	presenter Presenter
	logger    qcs.OperationLogger
}

// Option customizes a Negotiator.
type Option func(*Negotiator)

// WithOperationLogger records every state transition.
func WithOperationLogger(logger qcs.OperationLogger) Option {
	return func(negotiator *Negotiator) {
		if logger != nil {
			negotiator.logger = logger
		}
	}
}

type noopOperationLogger struct{}

func (noopOperationLogger) LogOperation(context.Context, qcs.OperationLog) {}

// NewNegotiator wires a Negotiator. The chooser may be nil when only non-interactive modes are used.
func NewNegotiator(scheduler Scheduler, chooser Chooser, presenter Presenter, options ...Option) (*Negotiator, error) {
	if scheduler == nil {
		return nil, fmt.Errorf("%w: scheduler dependency is nil", qcs.ErrInvalidServiceConfig)
	}
	if presenter == nil {
		return nil, fmt.Errorf("%w: presenter dependency is nil", qcs.ErrInvalidServiceConfig)
	}
	negotiator := &Negotiator{
		scheduler: scheduler,
		chooser:   chooser,
		presenter: presenter,
		logger:    noopOperationLogger{},
	}
	for _, option := range options {
		if option != nil {
			option(negotiator)
		}
	}
	return negotiator, nil
}

// Run negotiates until a booking, an abort, or an error.
func (negotiator *Negotiator) Run(ctx context.Context, request Request) (Outcome, error) {
	if request.Mode == ModeDirectConfirm && request.LatticeName == "" {
		return Outcome{}, qcs.ErrLatticeRequired
	}
	if request.Mode == ModeInteractive && negotiator.chooser == nil {
		return Outcome{}, fmt.Errorf("%w: chooser dependency is nil", qcs.ErrInvalidServiceConfig)
	}
	query := qcs.AvailabilityRequest{
		LatticeName:     request.LatticeName,
		StartTime:       request.StartTime,
		DurationSeconds: request.DurationSeconds,
	}
	if err := query.Validate(); err != nil {
		return Outcome{}, err
	}

	outcome := Outcome{}
	for {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}
		outcome.Rounds++
		outcome.Query = query
		round := outcome.Rounds

		credits, err := negotiator.scheduler.Credits(ctx)
		negotiator.log(ctx, qcs.OperationLog{Operation: qcs.OperationQueryCredits, Round: round, Price: credits.AvailableCredit, Error: err})
		if err != nil {
			return outcome, err
		}
		if err := negotiator.presenter.Credits(credits); err != nil {
			return outcome, err
		}

		candidates, err := negotiator.scheduler.NextAvailable(ctx, query)
		negotiator.log(ctx, qcs.OperationLog{Operation: qcs.OperationQueryAvailability, Round: round, LatticeName: query.LatticeName, StartTime: query.StartTime, Candidates: len(candidates), Error: err})
		if err != nil {
			return outcome, err
		}

		if request.Mode != ModeDirectConfirm {
			if err := negotiator.presenter.Availabilities(candidates); err != nil {
				return outcome, err
			}
			negotiator.log(ctx, qcs.OperationLog{Operation: qcs.OperationPresent, Round: round, Candidates: len(candidates)})
		}
		if len(candidates) == 0 {
			return negotiator.abort(ctx, outcome, AbortNothingFound), nil
		}
		if request.Mode == ModeListOnly {
			return negotiator.abort(ctx, outcome, AbortListOnly), nil
		}

		decision := prompt.Decision{Action: prompt.ActionAccept, Index: earliestIndex(candidates)}
		if request.Mode == ModeInteractive {
			decision, err = negotiator.chooser.ChooseAvailability(len(candidates))
			if err != nil {
				negotiator.log(ctx, qcs.OperationLog{Operation: qcs.OperationSelect, Round: round, Error: err})
				return outcome, err
			}
		}

		switch decision.Action {
		case prompt.ActionReject:
			query.StartTime = Advance(query.StartTime, candidates, query.Duration())
			negotiator.log(ctx, qcs.OperationLog{Operation: qcs.OperationAdvance, Round: round, StartTime: query.StartTime})
			continue
		case prompt.ActionQuit:
			negotiator.presenter.Message(farewellMessage)
			return negotiator.abort(ctx, outcome, AbortUserQuit), nil
		}

		if decision.Index < 0 || decision.Index >= len(candidates) {
			return outcome, fmt.Errorf("%w: index %d outside %d candidates", qcs.ErrInvalidSelection, decision.Index, len(candidates))
		}
		chosen := candidates[decision.Index]
		negotiator.log(ctx, qcs.OperationLog{Operation: qcs.OperationSelect, Round: round, LatticeName: chosen.LatticeName, StartTime: chosen.StartTime, Price: chosen.ExpectedPrice})
		if !credits.CanAfford(chosen.ExpectedPrice) {
			negotiator.presenter.Alert(insufficientCreditAlert)
			return negotiator.abort(ctx, outcome, AbortInsufficientCredit), nil
		}
		return negotiator.book(ctx, outcome, BookingRequest(chosen, query.Duration(), request.Notes))
	}
}

func (negotiator *Negotiator) book(ctx context.Context, outcome Outcome, booking qcs.ReservationRequest) (Outcome, error) {
	negotiator.presenter.Message(bookingMessage)
	reservations, err := negotiator.scheduler.Reserve(ctx, booking)
	if err == nil && len(reservations) == 0 {
		err = qcs.WrapError(qcs.OperationBook, "schedule", "empty_confirmation", qcs.ErrNoConfirmedReservations)
	}
	negotiator.log(ctx, qcs.OperationLog{Operation: qcs.OperationBook, Round: outcome.Rounds, LatticeName: booking.LatticeName, StartTime: booking.StartTime, Error: err})
	if err != nil {
		return outcome, err
	}
	negotiator.presenter.Message(confirmedMessage)
	outcome.Booked = true
	outcome.Reservations = reservations
	return outcome, nil
}

func (negotiator *Negotiator) abort(ctx context.Context, outcome Outcome, reason AbortReason) Outcome {
	outcome.Reason = reason
	negotiator.log(ctx, qcs.OperationLog{Operation: qcs.OperationAbort, Round: outcome.Rounds, Status: string(reason)})
	return outcome
}

func (negotiator *Negotiator) log(ctx context.Context, entry qcs.OperationLog) {
	negotiator.logger.LogOperation(ctx, entry)
}

// BookingRequest builds the reservation for a chosen candidate.
func BookingRequest(chosen qcs.Availability, duration time.Duration, notes string) qcs.ReservationRequest {
	return qcs.ReservationRequest{
		LatticeName: chosen.LatticeName,
		StartTime:   chosen.StartTime,
		EndTime:     chosen.StartTime.Add(duration),
		Notes:       notes,
	}
}

// MinimumStartTime returns the earliest candidate start, independent of order.
func MinimumStartTime(candidates []qcs.Availability) (time.Time, error) {
	if len(candidates) == 0 {
		return time.Time{}, errors.New("no candidates")
	}
	return candidates[earliestIndex(candidates)].StartTime, nil
}

// Advance returns the start time of the next query after every candidate was rejected.
// Only the earliest candidate is skipped; the result never precedes current.
func Advance(current time.Time, candidates []qcs.Availability, duration time.Duration) time.Time {
	next := current.Add(duration)
	if earliest, err := MinimumStartTime(candidates); err == nil {
		next = earliest.Add(duration)
	}
	if next.Before(current) {
		next = current.Add(duration)
	}
	return next
}

func earliestIndex(candidates []qcs.Availability) int {
	earliest := 0
	for index := 1; index < len(candidates); index++ {
		if candidates[index].StartTime.Before(candidates[earliest].StartTime) {
			earliest = index
		}
	}
	return earliest
}
