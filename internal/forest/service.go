// Package forest exposes the scheduling service resources as typed operations.
package forest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/qcs/internal/transport"
	"github.com/MarkoPoloResearchLab/qcs/pkg/qcs"
	"go.uber.org/zap"
)

const (
	pathSchedule      = "/schedule"
	pathNextAvailable = "/schedule/next_available"
	pathCredits       = "/users/credits"
	pathLattices      = "/lattices"
	pathDevices       = "/devices"
	pathQMIs          = "/qmis"

	// TimeLayout is the ISO-8601 form the service accepts for timestamps.
	TimeLayout = "2006-01-02T15:04:05.000Z07:00"

	codeRequestFailed   = "request_failed"
	codeServerError     = "server_error"
	codeMissingProperty = "missing_property"
	codeUnexpectedShape = "unexpected_payload"
)

// Requester sends one request. *transport.Client satisfies it.
type Requester interface {
	Do(ctx context.Context, request transport.Request) (transport.Payload, error)
}

// Service maps typed operations onto service endpoints.
type Service struct {
	requester Requester
	logger    *zap.Logger
}

// ServiceOption customizes Service construction.
type ServiceOption func(*Service)

// WithLogger sets the logger used for request tracing.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(service *Service) {
		if logger != nil {
			service.logger = logger
		}
	}
}

// NewService wires a Service.
func NewService(requester Requester, options ...ServiceOption) (*Service, error) {
	if requester == nil {
		return nil, fmt.Errorf("%w: requester dependency is nil", qcs.ErrInvalidServiceConfig)
	}
	service := &Service{requester: requester, logger: zap.NewNop()}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Reservations lists scheduled reservations. A reservation_not_found answer is an empty result.
func (service *Service) Reservations(ctx context.Context, filter qcs.ReservationFilter) (qcs.Result[[]qcs.Reservation], error) {
	const operation, subject = "reservations", "schedule"
	query := url.Values{}
	for _, id := range filter.IDs {
		query.Add("ids", strconv.FormatInt(id, 10))
	}
	for _, email := range filter.NormalizedUserEmails() {
		query.Add("user_emails", email)
	}
	setTime(query, "start_time", filter.StartTime)
	setTime(query, "end_time", filter.EndTime)

	payload, err := service.call(ctx, operation, subject, transport.Request{Method: http.MethodGet, Path: pathSchedule, Query: query})
	if err != nil {
		return qcs.Result[[]qcs.Reservation]{}, err
	}
	if payload.Variant == transport.VariantError {
		if payload.Err.ErrorType == qcs.ErrorTypeReservationNotFound {
			return qcs.Empty[[]qcs.Reservation](payload.Err.ErrorType), nil
		}
		return qcs.Result[[]qcs.Reservation]{}, serverError(operation, subject, payload)
	}
	var reservations []qcs.Reservation
	if err := requiredField(operation, subject, payload, "reservations", &reservations); err != nil {
		return qcs.Result[[]qcs.Reservation]{}, err
	}
	return qcs.Found(reservations), nil
}

// NextAvailable asks for candidate slots starting at or after request.StartTime.
func (service *Service) NextAvailable(ctx context.Context, request qcs.AvailabilityRequest) ([]qcs.Availability, error) {
	const operation, subject = "next_available", "schedule"
	if err := request.Validate(); err != nil {
		return nil, qcs.WrapError(operation, subject, "invalid_request", err)
	}
	query := url.Values{}
	if request.LatticeName != "" {
		query.Set("lattice_name", request.LatticeName)
	}
	setTime(query, "start_time", request.StartTime)
	query.Set("duration", strconv.FormatInt(request.DurationSeconds, 10))

	payload, err := service.call(ctx, operation, subject, transport.Request{Method: http.MethodGet, Path: pathNextAvailable, Query: query})
	if err != nil {
		return nil, err
	}
	if payload.Variant == transport.VariantError {
		return nil, serverError(operation, subject, payload)
	}
	var availability []qcs.Availability
	if err := requiredField(operation, subject, payload, "availability", &availability); err != nil {
		return nil, err
	}
	return availability, nil
}

// Credits fetches the current balance snapshot.
func (service *Service) Credits(ctx context.Context) (qcs.Credits, error) {
	const operation, subject = "credits", "users"
	payload, err := service.call(ctx, operation, subject, transport.Request{Method: http.MethodGet, Path: pathCredits})
	if err != nil {
		return qcs.Credits{}, err
	}
	if payload.Variant == transport.VariantError {
		return qcs.Credits{}, serverError(operation, subject, payload)
	}
	if payload.Variant != transport.VariantSuccess {
		return qcs.Credits{}, unexpectedShape(operation, subject, payload)
	}
	if !payload.Has("available_credit") {
		return qcs.Credits{}, qcs.WrapError(operation, subject, codeMissingProperty, qcs.MissingPropertyError("available_credit"))
	}
	var credits qcs.Credits
	if err := payload.Decode(&credits); err != nil {
		return qcs.Credits{}, qcs.WrapError(operation, subject, codeUnexpectedShape, err)
	}
	return credits, nil
}

// Lattices lists lattices sorted by name. A lattices_not_found answer is an empty result.
func (service *Service) Lattices(ctx context.Context, filter qcs.LatticeFilter) (qcs.Result[[]qcs.Lattice], error) {
	const operation, subject = "lattices", "lattices"
	query := url.Values{}
	if filter.DeviceName != "" {
		query.Set("device_name", filter.DeviceName)
	}
	if filter.NumQubits > 0 {
		query.Set("num_qubits", strconv.Itoa(filter.NumQubits))
	}
	payload, err := service.call(ctx, operation, subject, transport.Request{Method: http.MethodGet, Path: pathLattices, Query: query})
	if err != nil {
		return qcs.Result[[]qcs.Lattice]{}, err
	}
	if payload.Variant == transport.VariantError {
		if payload.Err.ErrorType == qcs.ErrorTypeLatticesNotFound {
			return qcs.Empty[[]qcs.Lattice](payload.Err.ErrorType), nil
		}
		return qcs.Result[[]qcs.Lattice]{}, serverError(operation, subject, payload)
	}
	byName := map[string]qcs.Lattice{}
	if err := requiredField(operation, subject, payload, "lattices", &byName); err != nil {
		return qcs.Result[[]qcs.Lattice]{}, err
	}
	lattices := make([]qcs.Lattice, 0, len(byName))
	for _, name := range sortedKeys(byName) {
		lattice := byName[name]
		if lattice.LatticeName == "" {
			lattice.LatticeName = name
		}
		lattices = append(lattices, lattice)
	}
	return qcs.Found(lattices), nil
}

// Devices lists devices sorted by name, optionally filtered by name.
func (service *Service) Devices(ctx context.Context, deviceName string) ([]qcs.Device, error) {
	const operation, subject = "devices", "devices"
	query := url.Values{}
	if deviceName != "" {
		query.Set("device_name", deviceName)
	}
	payload, err := service.call(ctx, operation, subject, transport.Request{Method: http.MethodGet, Path: pathDevices, Query: query})
	if err != nil {
		return nil, err
	}
	if payload.Variant == transport.VariantError {
		return nil, serverError(operation, subject, payload)
	}
	byName := map[string]qcs.Device{}
	if err := requiredField(operation, subject, payload, "devices", &byName); err != nil {
		return nil, err
	}
	devices := make([]qcs.Device, 0, len(byName))
	for _, name := range sortedKeys(byName) {
		device := byName[name]
		if device.DeviceName == "" {
			device.DeviceName = name
		}
		devices = append(devices, device)
	}
	return devices, nil
}

// Reserve posts a booking request and returns the reservations the service confirmed.
// An empty list is returned as-is; callers decide whether that is a failure.
func (service *Service) Reserve(ctx context.Context, request qcs.ReservationRequest) ([]qcs.Reservation, error) {
	const operation, subject = "reserve", "schedule"
	payload, err := service.call(ctx, operation, subject, transport.Request{Method: http.MethodPost, Path: pathSchedule, Body: reservationBody(request)})
	if err != nil {
		return nil, err
	}
	if payload.Variant == transport.VariantError {
		return nil, serverError(operation, subject, payload)
	}
	var reservations []qcs.Reservation
	if err := requiredField(operation, subject, payload, "reservations", &reservations); err != nil {
		return nil, err
	}
	return reservations, nil
}

// CancelReservations deletes the reservations with ids.
func (service *Service) CancelReservations(ctx context.Context, ids []int64) error {
	body := map[string][]int64{"reservation_ids": ids}
	return service.mutate(ctx, "cancel_reservations", "schedule", transport.Request{Method: http.MethodDelete, Path: pathSchedule, Body: body})
}

// reservationBody formats timestamps the way the service expects them.
func reservationBody(request qcs.ReservationRequest) map[string]string {
	return map[string]string{
		"lattice_name": request.LatticeName,
		"start_time":   FormatTime(request.StartTime),
		"end_time":     FormatTime(request.EndTime),
		"notes":        request.Notes,
	}
}

func (service *Service) call(ctx context.Context, operation string, subject string, request transport.Request) (transport.Payload, error) {
	payload, err := service.requester.Do(ctx, request)
	if err != nil {
		service.logger.Debug("request failed", zap.String("operation", operation), zap.String("path", request.Path), zap.Error(err))
		return transport.Payload{}, qcs.WrapError(operation, subject, codeRequestFailed, err)
	}
	if payload.Variant == transport.VariantError && payload.Err == nil {
		return transport.Payload{}, unexpectedShape(operation, subject, payload)
	}
	return payload, nil
}

func requiredField(operation string, subject string, payload transport.Payload, name string, target any) error {
	if payload.Variant != transport.VariantSuccess {
		return qcs.WrapError(operation, subject, codeMissingProperty, qcs.MissingPropertyError(name))
	}
	if err := payload.Field(name, target); err != nil {
		if errors.Is(err, qcs.ErrMissingProperty) {
			return qcs.WrapError(operation, subject, codeMissingProperty, err)
		}
		return qcs.WrapError(operation, subject, codeUnexpectedShape, err)
	}
	return nil
}

func serverError(operation string, subject string, payload transport.Payload) error {
	return qcs.WrapError(operation, subject, codeServerError, qcs.ServerResponseError(payload.Err.Status))
}

func unexpectedShape(operation string, subject string, payload transport.Payload) error {
	return qcs.WrapError(operation, subject, codeUnexpectedShape, fmt.Errorf("unexpected %s payload (status %d)", payload.Variant, payload.StatusCode))
}

func setTime(query url.Values, key string, value time.Time) {
	if !value.IsZero() {
		query.Set(key, FormatTime(value))
	}
}

// FormatTime renders t in UTC with millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func sortedKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
