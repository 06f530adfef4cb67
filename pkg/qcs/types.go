package qcs

import (
	"fmt"
	"strings"
	"time"
)

// AmountCents is an integer currency in minor units as returned by the service.
type AmountCents int64

// Int64 returns the raw cent value.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// Dollars converts to major units. Only presentation code should call it.
func (amount AmountCents) Dollars() float64 {
	return float64(amount) / 100
}

// Credits is a point-in-time balance snapshot.
type Credits struct {
	CurrentBalance  AmountCents `json:"current_balance" yaml:"current_balance"`
	SubmittedUsage  AmountCents `json:"submitted_usage" yaml:"submitted_usage"`
	PendingBalance  AmountCents `json:"pending_balance" yaml:"pending_balance"`
	UpcomingUsage   AmountCents `json:"upcoming_usage" yaml:"upcoming_usage"`
	AvailableCredit AmountCents `json:"available_credit" yaml:"available_credit"`
}

// CanAfford reports whether booking price leaves a non-negative available credit.
func (credits Credits) CanAfford(price AmountCents) bool {
	return credits.AvailableCredit.Int64()-price.Int64() >= 0
}

// Availability is a candidate reservation slot proposed by the service.
type Availability struct {
	LatticeName   string      `json:"lattice_name" yaml:"lattice_name"`
	StartTime     time.Time   `json:"start_time" yaml:"start_time"`
	EndTime       time.Time   `json:"end_time" yaml:"end_time"`
	ExpectedPrice AmountCents `json:"expected_price" yaml:"expected_price"`
}

// AvailabilityRequest asks the service for the next available slots.
type AvailabilityRequest struct {
	LatticeName     string    `json:"lattice_name,omitempty" yaml:"lattice_name,omitempty"`
	StartTime       time.Time `json:"start_time" yaml:"start_time"`
	DurationSeconds int64     `json:"duration" yaml:"duration"`
}

// Duration returns the requested block length.
func (request AvailabilityRequest) Duration() time.Duration {
	return time.Duration(request.DurationSeconds) * time.Second
}

// Validate ensures the request can be sent.
func (request AvailabilityRequest) Validate() error {
	if request.DurationSeconds <= 0 {
		return fmt.Errorf("%w: duration must be greater than zero", ErrInvalidAvailabilityQuery)
	}
	if request.StartTime.IsZero() {
		return fmt.Errorf("%w: start time is required", ErrInvalidAvailabilityQuery)
	}
	return nil
}

// Reservation is a committed compute block.
type Reservation struct {
	ID          int64       `json:"id" yaml:"id"`
	LatticeName string      `json:"lattice_name" yaml:"lattice_name"`
	StartTime   time.Time   `json:"start_time" yaml:"start_time"`
	EndTime     time.Time   `json:"end_time" yaml:"end_time"`
	Notes       string      `json:"notes,omitempty" yaml:"notes,omitempty"`
	PriceBooked AmountCents `json:"price_booked" yaml:"price_booked"`
	Status      string      `json:"status,omitempty" yaml:"status,omitempty"`
	UserEmail   string      `json:"user_email,omitempty" yaml:"user_email,omitempty"`
}

// IsActive reports whether the reservation can still be cancelled.
func (reservation Reservation) IsActive() bool {
	return reservation.Status == ReservationStatusActive
}

// ReservationRequest is the booking payload posted to the schedule.
type ReservationRequest struct {
	LatticeName string    `json:"lattice_name" yaml:"lattice_name"`
	StartTime   time.Time `json:"start_time" yaml:"start_time"`
	EndTime     time.Time `json:"end_time" yaml:"end_time"`
	Notes       string    `json:"notes" yaml:"notes"`
}

// ReservationFilter narrows a schedule query. Zero fields are omitted.
type ReservationFilter struct {
	IDs        []int64
	UserEmails []string
	StartTime  time.Time
	EndTime    time.Time
}

// NormalizedUserEmails lowercases and trims every email.
func (filter ReservationFilter) NormalizedUserEmails() []string {
	if len(filter.UserEmails) == 0 {
		return nil
	}
	normalized := make([]string, 0, len(filter.UserEmails))
	for _, email := range filter.UserEmails {
		trimmed := strings.ToLower(strings.TrimSpace(email))
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}

// Lattice is a reservable subset of a device's qubits.
type Lattice struct {
	LatticeName    string         `json:"lattice_name" yaml:"lattice_name"`
	DeviceName     string         `json:"device_name" yaml:"device_name"`
	Qubits         map[string]int `json:"qubits" yaml:"qubits"`
	PricePerMinute AmountCents    `json:"price_per_minute" yaml:"price_per_minute"`
}

// LatticeFilter narrows a lattice query. Zero fields are omitted.
type LatticeFilter struct {
	DeviceName string
	NumQubits  int
}

// Device is a quantum processor known to the service.
type Device struct {
	DeviceName       string `json:"device_name" yaml:"device_name"`
	NumQubits        int    `json:"num_qubits" yaml:"num_qubits"`
	Category         string `json:"category,omitempty" yaml:"category,omitempty"`
	GoogleCalendarID string `json:"google_calendar_id,omitempty" yaml:"google_calendar_id,omitempty"`
	QPUEndpoint      string `json:"qpu_endpoint,omitempty" yaml:"qpu_endpoint,omitempty"`
}

// QMI is a managed virtual machine instance.
type QMI struct {
	ID              int64            `json:"id" yaml:"id"`
	Status          string           `json:"status" yaml:"status"`
	OpenstackStatus *OpenstackStatus `json:"openstack_status,omitempty" yaml:"openstack_status,omitempty"`
}

// OpenstackStatus carries the network details of a QMI.
type OpenstackStatus struct {
	IP string `json:"ip" yaml:"ip"`
}

// IP returns the QMI address or an empty string when it is not yet assigned.
func (qmi QMI) IP() string {
	if qmi.OpenstackStatus == nil {
		return ""
	}
	return qmi.OpenstackStatus.IP
}

// QMIRequest creates a QMI.
type QMIRequest struct {
	PublicKey string `json:"public_key"`
	Timezone  string `json:"timezone,omitempty"`
}

// QMIAction powers a QMI on or off.
type QMIAction string

const (
	QMIActionStart QMIAction = "start"
	QMIActionStop  QMIAction = "stop"
)

// Outcome distinguishes a found value from a cataloged benign empty result.
type Outcome int

const (
	OutcomeFound Outcome = iota
	OutcomeEmpty
)

// String returns the outcome label.
func (outcome Outcome) String() string {
	switch outcome {
	case OutcomeFound:
		return "found"
	case OutcomeEmpty:
		return "empty"
	default:
		return fmt.Sprintf("outcome(%d)", int(outcome))
	}
}

// Result is returned by operations whose server may answer with a benign "not found".
type Result[T any] struct {
	Value   T
	Outcome Outcome
	// Reason holds the server error_type that produced an empty result.
	Reason string
}

// Found wraps a located value.
func Found[T any](value T) Result[T] {
	return Result[T]{Value: value, Outcome: OutcomeFound}
}

// Empty records a benign empty result and the error_type that caused it.
func Empty[T any](reason string) Result[T] {
	return Result[T]{Outcome: OutcomeEmpty, Reason: reason}
}

// IsEmpty reports whether the result carries no value.
func (result Result[T]) IsEmpty() bool {
	return result.Outcome == OutcomeEmpty
}
