package forest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/qcs/internal/credentials"
	"github.com/MarkoPoloResearchLab/qcs/internal/forestfake"
	"github.com/MarkoPoloResearchLab/qcs/internal/transport"
	"github.com/MarkoPoloResearchLab/qcs/pkg/qcs"
)

var testStart = time.Date(2019, time.January, 15, 14, 30, 0, 0, time.UTC)

type staticTokens struct{}

func (staticTokens) Active() (credentials.Active, bool) {
	return credentials.Active{Kind: credentials.KindUser, Token: credentials.Token{AccessToken: "access", RefreshToken: "refresh"}}, true
}

func (staticTokens) Save(credentials.Kind, credentials.Token) error {
	return nil
}

func newFakeService(test *testing.T, options ...forestfake.Option) (*Service, *forestfake.Server) {
	test.Helper()
	fake := forestfake.New(options...)
	httpServer := httptest.NewServer(fake.Handler())
	test.Cleanup(httpServer.Close)
	client, err := transport.NewClient(transport.Config{BaseURL: httpServer.URL, HTTPClient: httpServer.Client()}, staticTokens{})
	if err != nil {
		test.Fatalf("new client: %v", err)
	}
	service, err := NewService(client)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service, fake
}

func TestNewServiceRequiresRequester(test *testing.T) {
	test.Parallel()
	if _, err := NewService(nil); !errors.Is(err, qcs.ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig, got %v", err)
	}
}

func TestReservationsNotFoundIsEmpty(test *testing.T) {
	test.Parallel()
	service, _ := newFakeService(test)
	result, err := service.Reservations(context.Background(), qcs.ReservationFilter{})
	if err != nil {
		test.Fatalf("reservations: %v", err)
	}
	if !result.IsEmpty() || result.Reason != qcs.ErrorTypeReservationNotFound || len(result.Value) != 0 {
		test.Fatalf("expected empty result, got %+v", result)
	}
}

func TestReservationsSendsFilterQuery(test *testing.T) {
	test.Parallel()
	fixture := forestfake.DefaultFixture()
	fixture.Reservations = []qcs.Reservation{
		{ID: 1, LatticeName: "test-lattice", StartTime: testStart, EndTime: testStart.Add(time.Hour), Status: qcs.ReservationStatusActive, UserEmail: "ada@example.com"},
		{ID: 2, LatticeName: "test-lattice", StartTime: testStart, EndTime: testStart.Add(time.Hour), Status: qcs.ReservationStatusActive},
	}
	service, fake := newFakeService(test, forestfake.WithFixture(fixture))
	result, err := service.Reservations(context.Background(), qcs.ReservationFilter{
		IDs:        []int64{1, 2},
		UserEmails: []string{"Ada@Example.com"},
		StartTime:  testStart,
	})
	if err != nil {
		test.Fatalf("reservations: %v", err)
	}
	if result.IsEmpty() || len(result.Value) != 1 || result.Value[0].ID != 1 {
		test.Fatalf("unexpected result %+v", result)
	}
	calls := fake.CallsTo(http.MethodGet, "/schedule")
	if len(calls) != 1 {
		test.Fatalf("expected one call, got %d", len(calls))
	}
	query := calls[0].Query
	if len(query["ids"]) != 2 || query.Get("user_emails") != "ada@example.com" || query.Get("start_time") != "2019-01-15T14:30:00.000Z" {
		test.Fatalf("unexpected query %v", query)
	}
	if query.Has("end_time") {
		test.Fatalf("expected zero end time to be omitted, got %v", query)
	}
}

func TestReservationsServerErrorCarriesStatus(test *testing.T) {
	test.Parallel()
	service, fake := newFakeService(test)
	fake.Stub(http.MethodGet, "/schedule", forestfake.Response{Status: http.StatusBadRequest, Body: map[string]string{"error_type": "invalid_window", "status": "start_time after end_time"}})
	_, err := service.Reservations(context.Background(), qcs.ReservationFilter{})
	if !errors.Is(err, qcs.ErrServerResponse) {
		test.Fatalf("expected ErrServerResponse, got %v", err)
	}
	var operationError qcs.OperationError
	if !errors.As(err, &operationError) || operationError.Code() != codeServerError {
		test.Fatalf("expected server_error operation error, got %v", err)
	}
	if err.Error() != `reservations.schedule.server_error: server response: "start_time after end_time"` {
		test.Fatalf("unexpected message %q", err.Error())
	}
}

func TestNextAvailable(test *testing.T) {
	test.Parallel()
	service, fake := newFakeService(test)
	availability, err := service.NextAvailable(context.Background(), qcs.AvailabilityRequest{LatticeName: "test-lattice", StartTime: testStart, DurationSeconds: 1800})
	if err != nil {
		test.Fatalf("next available: %v", err)
	}
	if len(availability) != 1 || !availability[0].StartTime.Equal(testStart) || availability[0].ExpectedPrice != 300 {
		test.Fatalf("unexpected availability %+v", availability)
	}
	query := fake.CallsTo(http.MethodGet, "/schedule/next_available")[0].Query
	if query.Get("duration") != "1800" || query.Get("lattice_name") != "test-lattice" {
		test.Fatalf("unexpected query %v", query)
	}
}

func TestNextAvailableRejectsInvalidRequest(test *testing.T) {
	test.Parallel()
	service, fake := newFakeService(test)
	_, err := service.NextAvailable(context.Background(), qcs.AvailabilityRequest{StartTime: testStart})
	if !errors.Is(err, qcs.ErrInvalidAvailabilityQuery) {
		test.Fatalf("expected ErrInvalidAvailabilityQuery, got %v", err)
	}
	if len(fake.Calls()) != 0 {
		test.Fatalf("expected no request")
	}
}

func TestCredits(test *testing.T) {
	test.Parallel()
	service, _ := newFakeService(test)
	credits, err := service.Credits(context.Background())
	if err != nil {
		test.Fatalf("credits: %v", err)
	}
	if credits != forestfake.DefaultFixture().Credits {
		test.Fatalf("unexpected credits %+v", credits)
	}
}

func TestCreditsWithoutAvailableCreditFails(test *testing.T) {
	test.Parallel()
	service, fake := newFakeService(test)
	fake.Stub(http.MethodGet, "/users/credits", forestfake.Response{Status: http.StatusOK, Body: map[string]int{}})
	_, err := service.Credits(context.Background())
	if !errors.Is(err, qcs.ErrMissingProperty) {
		test.Fatalf("expected ErrMissingProperty, got %v", err)
	}
	var operationError qcs.OperationError
	if !errors.As(err, &operationError) || operationError.Code() != codeMissingProperty {
		test.Fatalf("expected missing_property code, got %v", err)
	}
}

func TestLatticesNotFoundIsEmpty(test *testing.T) {
	test.Parallel()
	service, fake := newFakeService(test)
	result, err := service.Lattices(context.Background(), qcs.LatticeFilter{DeviceName: "missing", NumQubits: 4})
	if err != nil {
		test.Fatalf("lattices: %v", err)
	}
	if !result.IsEmpty() || result.Reason != qcs.ErrorTypeLatticesNotFound {
		test.Fatalf("expected empty result, got %+v", result)
	}
	query := fake.CallsTo(http.MethodGet, "/lattices")[0].Query
	if query.Get("device_name") != "missing" || query.Get("num_qubits") != "4" {
		test.Fatalf("unexpected query %v", query)
	}
}

func TestLatticesAndDevicesSortedByName(test *testing.T) {
	test.Parallel()
	fixture := forestfake.DefaultFixture()
	fixture.Lattices = append(fixture.Lattices, qcs.Lattice{LatticeName: "a-lattice", DeviceName: "test-device"})
	fixture.Devices = append(fixture.Devices, qcs.Device{DeviceName: "a-device", NumQubits: 8})
	service, _ := newFakeService(test, forestfake.WithFixture(fixture))
	lattices, err := service.Lattices(context.Background(), qcs.LatticeFilter{})
	if err != nil {
		test.Fatalf("lattices: %v", err)
	}
	if len(lattices.Value) != 2 || lattices.Value[0].LatticeName != "a-lattice" {
		test.Fatalf("unexpected lattices %+v", lattices.Value)
	}
	devices, err := service.Devices(context.Background(), "")
	if err != nil {
		test.Fatalf("devices: %v", err)
	}
	if len(devices) != 2 || devices[0].DeviceName != "a-device" || devices[1].NumQubits != 16 {
		test.Fatalf("unexpected devices %+v", devices)
	}
}

func TestReservePostsRequest(test *testing.T) {
	test.Parallel()
	service, fake := newFakeService(test)
	request := qcs.ReservationRequest{LatticeName: "test-lattice", StartTime: testStart, EndTime: testStart.Add(30 * time.Minute), Notes: "test"}
	reservations, err := service.Reserve(context.Background(), request)
	if err != nil {
		test.Fatalf("reserve: %v", err)
	}
	if len(reservations) != 1 || reservations[0].Notes != "test" || reservations[0].PriceBooked != 300 {
		test.Fatalf("unexpected reservations %+v", reservations)
	}
	var body map[string]string
	if err := json.Unmarshal(fake.CallsTo(http.MethodPost, "/schedule")[0].Body, &body); err != nil {
		test.Fatalf("decode body: %v", err)
	}
	if body["start_time"] != "2019-01-15T14:30:00.000Z" || body["end_time"] != "2019-01-15T15:00:00.000Z" || body["lattice_name"] != "test-lattice" {
		test.Fatalf("unexpected body %v", body)
	}
}

func TestReserveMissingReservationsProperty(test *testing.T) {
	test.Parallel()
	service, fake := newFakeService(test)
	fake.Stub(http.MethodPost, "/schedule", forestfake.Response{Status: http.StatusOK, Body: map[string]string{"status": "ok"}})
	_, err := service.Reserve(context.Background(), qcs.ReservationRequest{LatticeName: "test-lattice", StartTime: testStart, EndTime: testStart.Add(time.Minute)})
	if !errors.Is(err, qcs.ErrMissingProperty) {
		test.Fatalf("expected ErrMissingProperty, got %v", err)
	}
}

func TestCancelReservations(test *testing.T) {
	test.Parallel()
	fixture := forestfake.DefaultFixture()
	fixture.Reservations = []qcs.Reservation{{ID: 5, LatticeName: "test-lattice", StartTime: testStart, EndTime: testStart.Add(time.Hour), Status: qcs.ReservationStatusActive}}
	service, fake := newFakeService(test, forestfake.WithFixture(fixture))
	if err := service.CancelReservations(context.Background(), []int64{5}); err != nil {
		test.Fatalf("cancel: %v", err)
	}
	if fake.Reservations()[0].Status == qcs.ReservationStatusActive {
		test.Fatalf("expected reservation cancelled")
	}
	err := service.CancelReservations(context.Background(), []int64{99})
	if !errors.Is(err, qcs.ErrServerResponse) {
		test.Fatalf("expected ErrServerResponse, got %v", err)
	}
}

func TestQMILifecycle(test *testing.T) {
	test.Parallel()
	service, _ := newFakeService(test)
	ctx := context.Background()
	if err := service.CreateQMI(ctx, qcs.QMIRequest{PublicKey: "ssh-ed25519 AAAA", Timezone: "UTC"}); err != nil {
		test.Fatalf("create: %v", err)
	}
	qmis, err := service.QMIs(ctx)
	if err != nil || len(qmis) != 1 {
		test.Fatalf("list: %+v %v", qmis, err)
	}
	id := qmis[0].ID
	if err := service.StartQMI(ctx, id); err != nil {
		test.Fatalf("start: %v", err)
	}
	qmi, err := service.QMI(ctx, id)
	if err != nil || qmi.Status != "RUNNING" || qmi.IP() == "" {
		test.Fatalf("unexpected qmi %+v %v", qmi, err)
	}
	if err := service.StopQMI(ctx, id); err != nil {
		test.Fatalf("stop: %v", err)
	}
	if err := service.DeleteQMI(ctx, id); err != nil {
		test.Fatalf("delete: %v", err)
	}
	if _, err := service.QMI(ctx, id); !errors.Is(err, qcs.ErrServerResponse) {
		test.Fatalf("expected not found server error, got %v", err)
	}
}

func TestCreateQMIRequiresKey(test *testing.T) {
	test.Parallel()
	service, fake := newFakeService(test)
	if err := service.CreateQMI(context.Background(), qcs.QMIRequest{}); err == nil {
		test.Fatalf("expected error")
	}
	if len(fake.Calls()) != 0 {
		test.Fatalf("expected no request")
	}
}

func TestTransportFailureIsWrapped(test *testing.T) {
	test.Parallel()
	httpServer := httptest.NewServer(http.NotFoundHandler())
	client, err := transport.NewClient(transport.Config{BaseURL: httpServer.URL}, staticTokens{})
	if err != nil {
		test.Fatalf("new client: %v", err)
	}
	httpServer.Close()
	service, err := NewService(client)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	_, err = service.Credits(context.Background())
	if !transport.IsTransportFailure(err) {
		test.Fatalf("expected transport failure, got %v", err)
	}
	var operationError qcs.OperationError
	if !errors.As(err, &operationError) || operationError.Code() != codeRequestFailed {
		test.Fatalf("expected request_failed code, got %v", err)
	}
}
