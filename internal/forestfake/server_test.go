package forestfake

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/qcs/pkg/qcs"
)

func serve(test *testing.T, request *http.Request, server *Server) *httptest.ResponseRecorder {
	test.Helper()
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, request)
	return recorder
}

func TestNextAvailableSpacesSlots(test *testing.T) {
	test.Parallel()
	fixture := DefaultFixture()
	fixture.Lattices = append(fixture.Lattices, qcs.Lattice{LatticeName: "other-lattice", DeviceName: "test-device", PricePerMinute: 20})
	server := New(WithFixture(fixture))
	query := url.Values{"start_time": {"2019-01-15T14:30:00.000Z"}, "duration": {"1800"}}
	recorder := serve(test, httptest.NewRequest(http.MethodGet, "/schedule/next_available?"+query.Encode(), nil), server)
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d", recorder.Code)
	}
	var body struct {
		Availability []qcs.Availability `json:"availability"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		test.Fatalf("decode: %v", err)
	}
	if len(body.Availability) != 2 {
		test.Fatalf("expected two slots, got %+v", body.Availability)
	}
	if !body.Availability[1].StartTime.Equal(body.Availability[0].StartTime.Add(time.Hour)) {
		test.Fatalf("expected spaced slots, got %+v", body.Availability)
	}
	if body.Availability[0].ExpectedPrice != 300 || body.Availability[1].ExpectedPrice != 600 {
		test.Fatalf("unexpected prices %+v", body.Availability)
	}
}

func TestListReservationsNotFound(test *testing.T) {
	test.Parallel()
	recorder := serve(test, httptest.NewRequest(http.MethodGet, "/schedule", nil), New())
	if recorder.Code != http.StatusNotFound || !strings.Contains(recorder.Body.String(), qcs.ErrorTypeReservationNotFound) {
		test.Fatalf("unexpected response %d %s", recorder.Code, recorder.Body.String())
	}
}

func TestStubOverridesRoute(test *testing.T) {
	test.Parallel()
	server := New()
	server.Stub(http.MethodGet, "/users/credits", Response{Status: http.StatusInternalServerError})
	recorder := serve(test, httptest.NewRequest(http.MethodGet, "/users/credits", nil), server)
	if recorder.Code != http.StatusInternalServerError {
		test.Fatalf("expected stubbed 500, got %d", recorder.Code)
	}
	if len(server.CallsTo(http.MethodGet, "/users/credits")) != 1 {
		test.Fatalf("expected recorded call")
	}
}

func TestCredentialsRequiredAndRefreshed(test *testing.T) {
	test.Parallel()
	server := New(WithCredentials(TokenPair{AccessToken: "access", RefreshToken: "refresh"}))
	unauthenticated := serve(test, httptest.NewRequest(http.MethodGet, "/users/credits", nil), server)
	if unauthenticated.Code != http.StatusUnauthorized {
		test.Fatalf("expected 401, got %d", unauthenticated.Code)
	}
	form := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {"refresh"}}
	request := httptest.NewRequest(http.MethodPost, "/auth/idp/oauth2/v1/token", strings.NewReader(form.Encode()))
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	refreshed := serve(test, request, server)
	if refreshed.Code != http.StatusOK {
		test.Fatalf("expected refresh to succeed, got %d", refreshed.Code)
	}
	var pair TokenPair
	if err := json.Unmarshal(refreshed.Body.Bytes(), &pair); err != nil || pair.AccessToken == "" {
		test.Fatalf("unexpected pair %+v (%v)", pair, err)
	}
	authenticated := httptest.NewRequest(http.MethodGet, "/users/credits", nil)
	authenticated.Header.Set(headerMachineToken, pair.AccessToken)
	if recorder := serve(test, authenticated, server); recorder.Code != http.StatusOK {
		test.Fatalf("expected 200 with refreshed token, got %d", recorder.Code)
	}
}
