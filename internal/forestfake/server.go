// Package forestfake serves an in-memory scheduling service for tests and local development.
package forestfake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/qcs/pkg/qcs"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	reservationStatusCancelled = "CANCELLED"
	qmiStatusRunning           = "RUNNING"
	qmiStatusStopped           = "STOPPED"
	qmiStatusCreating          = "CREATING"

	headerMachineToken = "X-QMI-AUTH-TOKEN"
)

// Call is one recorded request.
type Call struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Response is a canned reply registered with Stub.
type Response struct {
	Status int
	Body   any
}

// TokenPair is an access/refresh pair issued by the fake.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Server is the fake scheduling service. It is safe for concurrent use.
type Server struct {
	logger *zap.Logger

	mu            sync.Mutex
	fixture       Fixture
	reservations  map[int64]qcs.Reservation
	qmis          map[int64]qcs.QMI
	nextID        int64
	calls         []Call
	stubs         map[string][]Response
	requireAuth   bool
	accessTokens  map[string]bool
	refreshTokens map[string]bool
	failRefreshes int
}

// Option customizes New.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *zap.Logger) Option {
	return func(server *Server) {
		if logger != nil {
			server.logger = logger
		}
	}
}

// WithFixture replaces the seeded state.
func WithFixture(fixture Fixture) Option {
	return func(server *Server) {
		server.fixture = fixture
	}
}

// WithCredentials requires every resource request to carry one of the issued access tokens.
func WithCredentials(pair TokenPair) Option {
	return func(server *Server) {
		server.requireAuth = true
		server.accessTokens[pair.AccessToken] = true
		server.refreshTokens[pair.RefreshToken] = true
	}
}

// New builds a fake service.
func New(options ...Option) *Server {
	server := &Server{
		logger:        zap.NewNop(),
		fixture:       DefaultFixture(),
		reservations:  map[int64]qcs.Reservation{},
		qmis:          map[int64]qcs.QMI{},
		stubs:         map[string][]Response{},
		accessTokens:  map[string]bool{},
		refreshTokens: map[string]bool{},
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	for _, reservation := range server.fixture.Reservations {
		server.reservations[reservation.ID] = reservation
		server.nextID = max(server.nextID, reservation.ID)
	}
	for _, qmi := range server.fixture.QMIs {
		server.qmis[qmi.ID] = qmi
		server.nextID = max(server.nextID, qmi.ID)
	}
	return server
}

// Stub queues canned responses for method and path. The last one repeats once the queue is drained.
func (server *Server) Stub(method string, path string, responses ...Response) {
	server.mu.Lock()
	defer server.mu.Unlock()
	server.stubs[stubKey(method, path)] = append(server.stubs[stubKey(method, path)], responses...)
}

// FailRefreshes makes the next n refresh calls fail with 401.
func (server *Server) FailRefreshes(n int) {
	server.mu.Lock()
	defer server.mu.Unlock()
	server.failRefreshes = n
}

// RevokeAccessTokens invalidates every issued access token.
func (server *Server) RevokeAccessTokens() {
	server.mu.Lock()
	defer server.mu.Unlock()
	server.accessTokens = map[string]bool{}
}

// Calls returns the recorded requests in arrival order.
func (server *Server) Calls() []Call {
	server.mu.Lock()
	defer server.mu.Unlock()
	return append([]Call(nil), server.calls...)
}

// CallsTo returns the recorded requests for method and path.
func (server *Server) CallsTo(method string, path string) []Call {
	matching := []Call{}
	for _, call := range server.Calls() {
		if call.Method == method && call.Path == path {
			matching = append(matching, call)
		}
	}
	return matching
}

// Reservations returns the stored reservations ordered by id.
func (server *Server) Reservations() []qcs.Reservation {
	server.mu.Lock()
	defer server.mu.Unlock()
	return server.sortedReservations()
}

var releaseMode sync.Once

// Handler returns the gin router.
func (server *Server) Handler() http.Handler {
	releaseMode.Do(func() { gin.SetMode(gin.ReleaseMode) })
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(server.record)

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST("/auth/idp/oauth2/v1/token", server.handleUserRefresh)
	router.POST("/auth/qmi/refresh", server.handleMachineRefresh)

	api := router.Group("/")
	api.Use(server.stubbed, server.authenticate)
	api.GET("/schedule", server.handleListReservations)
	api.POST("/schedule", server.handleReserve)
	api.DELETE("/schedule", server.handleCancel)
	api.GET("/schedule/next_available", server.handleNextAvailable)
	api.GET("/users/credits", server.handleCredits)
	api.GET("/lattices", server.handleLattices)
	api.GET("/devices", server.handleDevices)
	api.GET("/qmis", server.handleListQMIs)
	api.POST("/qmis", server.handleCreateQMI)
	api.GET("/qmis/:id", server.handleGetQMI)
	api.DELETE("/qmis/:id", server.handleDeleteQMI)
	api.POST("/qmis/:id/:action", server.handlePowerQMI)
	return router
}

// Run serves the fake on addr until ctx is cancelled.
func Run(ctx context.Context, addr string, server *Server) error {
	httpServer := &http.Server{Addr: addr, Handler: server.Handler()}
	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("fake scheduling service listening", zap.String("addr", addr))
		errCh <- httpServer.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (server *Server) record(ctx *gin.Context) {
	var body []byte
	if ctx.Request.Body != nil {
		body, _ = io.ReadAll(ctx.Request.Body)
		ctx.Request.Body = io.NopCloser(bytes.NewReader(body))
	}
	server.mu.Lock()
	server.calls = append(server.calls, Call{
		Method: ctx.Request.Method,
		Path:   ctx.Request.URL.Path,
		Query:  ctx.Request.URL.Query(),
		Header: ctx.Request.Header.Clone(),
		Body:   body,
	})
	server.mu.Unlock()
	ctx.Next()
	server.logger.Debug("handled request",
		zap.String("method", ctx.Request.Method),
		zap.String("path", ctx.Request.URL.Path),
		zap.Int("status", ctx.Writer.Status()),
	)
}

func (server *Server) stubbed(ctx *gin.Context) {
	server.mu.Lock()
	key := stubKey(ctx.Request.Method, ctx.FullPath())
	queue := server.stubs[key]
	if len(queue) == 0 {
		server.mu.Unlock()
		ctx.Next()
		return
	}
	response := queue[0]
	if len(queue) > 1 {
		server.stubs[key] = queue[1:]
	}
	server.mu.Unlock()
	if response.Body == nil {
		ctx.AbortWithStatus(response.Status)
		return
	}
	ctx.AbortWithStatusJSON(response.Status, response.Body)
}

func (server *Server) authenticate(ctx *gin.Context) {
	if !server.requireAuth {
		ctx.Next()
		return
	}
	token := strings.TrimPrefix(ctx.GetHeader("Authorization"), "Bearer ")
	if token == "" {
		token = ctx.GetHeader(headerMachineToken)
	}
	server.mu.Lock()
	valid := server.accessTokens[token]
	server.mu.Unlock()
	if !valid {
		ctx.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	ctx.Next()
}

func (server *Server) handleUserRefresh(ctx *gin.Context) {
	if ctx.PostForm("grant_type") != "refresh_token" {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_grant", "grant_type must be refresh_token"))
		return
	}
	server.issue(ctx, ctx.PostForm("refresh_token"))
}

func (server *Server) handleMachineRefresh(ctx *gin.Context) {
	var pair TokenPair
	if err := ctx.ShouldBindJSON(&pair); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON token pair"))
		return
	}
	server.issue(ctx, pair.RefreshToken)
}

func (server *Server) issue(ctx *gin.Context, refreshToken string) {
	server.mu.Lock()
	defer server.mu.Unlock()
	if server.failRefreshes > 0 {
		server.failRefreshes--
		ctx.Status(http.StatusUnauthorized)
		return
	}
	if server.requireAuth && !server.refreshTokens[refreshToken] {
		ctx.Status(http.StatusUnauthorized)
		return
	}
	pair := TokenPair{AccessToken: uuid.NewString(), RefreshToken: uuid.NewString()}
	server.accessTokens[pair.AccessToken] = true
	server.refreshTokens[pair.RefreshToken] = true
	ctx.JSON(http.StatusOK, pair)
}

func (server *Server) handleListReservations(ctx *gin.Context) {
	ids := map[int64]bool{}
	for _, raw := range ctx.QueryArray("ids") {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_ids", fmt.Sprintf("invalid id %q", raw)))
			return
		}
		ids[id] = true
	}
	emails := map[string]bool{}
	for _, email := range ctx.QueryArray("user_emails") {
		emails[email] = true
	}
	server.mu.Lock()
	matching := []qcs.Reservation{}
	for _, reservation := range server.sortedReservations() {
		if len(ids) > 0 && !ids[reservation.ID] {
			continue
		}
		if len(emails) > 0 && !emails[reservation.UserEmail] {
			continue
		}
		matching = append(matching, reservation)
	}
	server.mu.Unlock()
	if len(matching) == 0 {
		ctx.JSON(http.StatusNotFound, errorResponse(qcs.ErrorTypeReservationNotFound, "No reservations found"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"reservations": matching})
}

type reservationPayload struct {
	LatticeName string    `json:"lattice_name"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Notes       string    `json:"notes"`
}

func (server *Server) handleReserve(ctx *gin.Context) {
	var request reservationPayload
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected reservation request"))
		return
	}
	server.mu.Lock()
	defer server.mu.Unlock()
	lattice, ok := server.lattice(request.LatticeName)
	if !ok {
		ctx.JSON(http.StatusBadRequest, errorResponse("lattice_not_found", fmt.Sprintf("Lattice %s does not exist", request.LatticeName)))
		return
	}
	if !request.EndTime.After(request.StartTime) {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_time_range", "end_time must be after start_time"))
		return
	}
	server.nextID++
	reservation := qcs.Reservation{
		ID:          server.nextID,
		LatticeName: lattice.LatticeName,
		StartTime:   request.StartTime.UTC(),
		EndTime:     request.EndTime.UTC(),
		Notes:       request.Notes,
		PriceBooked: price(lattice, request.EndTime.Sub(request.StartTime)),
		Status:      qcs.ReservationStatusActive,
	}
	server.reservations[reservation.ID] = reservation
	ctx.JSON(http.StatusOK, gin.H{"reservations": []qcs.Reservation{reservation}})
}

func (server *Server) handleCancel(ctx *gin.Context) {
	var request struct {
		ReservationIDs []int64 `json:"reservation_ids"`
	}
	if err := ctx.ShouldBindJSON(&request); err != nil || len(request.ReservationIDs) == 0 {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected reservation_ids"))
		return
	}
	server.mu.Lock()
	defer server.mu.Unlock()
	for _, id := range request.ReservationIDs {
		reservation, ok := server.reservations[id]
		if !ok {
			ctx.JSON(http.StatusNotFound, errorResponse(qcs.ErrorTypeReservationNotFound, fmt.Sprintf("Reservation %d not found", id)))
			return
		}
		reservation.Status = reservationStatusCancelled
		server.reservations[id] = reservation
	}
	ctx.Status(http.StatusAccepted)
}

func (server *Server) handleNextAvailable(ctx *gin.Context) {
	start, err := time.Parse(time.RFC3339, ctx.Query("start_time"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_start_time", "start_time must be ISO-8601"))
		return
	}
	seconds, err := strconv.ParseInt(ctx.Query("duration"), 10, 64)
	if err != nil || seconds <= 0 {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_duration", "duration must be a positive number of seconds"))
		return
	}
	duration := time.Duration(seconds) * time.Second
	latticeName := ctx.Query("lattice_name")

	server.mu.Lock()
	defer server.mu.Unlock()
	availability := []qcs.Availability{}
	slotStart := start.UTC()
	for _, lattice := range server.fixture.Lattices {
		if latticeName != "" && lattice.LatticeName != latticeName {
			continue
		}
		availability = append(availability, qcs.Availability{
			LatticeName:   lattice.LatticeName,
			StartTime:     slotStart,
			EndTime:       slotStart.Add(duration),
			ExpectedPrice: price(lattice, duration),
		})
		slotStart = slotStart.Add(server.fixture.SlotSpacing)
	}
	if latticeName != "" && len(availability) == 0 {
		ctx.JSON(http.StatusBadRequest, errorResponse("lattice_not_found", fmt.Sprintf("Lattice %s does not exist", latticeName)))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"availability": availability})
}

func (server *Server) handleCredits(ctx *gin.Context) {
	server.mu.Lock()
	credits := server.fixture.Credits
	server.mu.Unlock()
	ctx.JSON(http.StatusOK, credits)
}

func (server *Server) handleLattices(ctx *gin.Context) {
	deviceName := ctx.Query("device_name")
	numQubits := 0
	if raw := ctx.Query("num_qubits"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_num_qubits", "num_qubits must be an integer"))
			return
		}
		numQubits = parsed
	}
	server.mu.Lock()
	defer server.mu.Unlock()
	byName := gin.H{}
	for _, lattice := range server.fixture.Lattices {
		if deviceName != "" && lattice.DeviceName != deviceName {
			continue
		}
		if numQubits > 0 && len(lattice.Qubits) != numQubits {
			continue
		}
		byName[lattice.LatticeName] = lattice
	}
	if len(byName) == 0 {
		ctx.JSON(http.StatusNotFound, errorResponse(qcs.ErrorTypeLatticesNotFound, "No lattices found"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"lattices": byName})
}

func (server *Server) handleDevices(ctx *gin.Context) {
	deviceName := ctx.Query("device_name")
	server.mu.Lock()
	defer server.mu.Unlock()
	byName := gin.H{}
	for _, device := range server.fixture.Devices {
		if deviceName != "" && device.DeviceName != deviceName {
			continue
		}
		byName[device.DeviceName] = device
	}
	ctx.JSON(http.StatusOK, gin.H{"devices": byName})
}

func (server *Server) handleListQMIs(ctx *gin.Context) {
	server.mu.Lock()
	defer server.mu.Unlock()
	qmis := make([]qcs.QMI, 0, len(server.qmis))
	for _, qmi := range server.qmis {
		qmis = append(qmis, qmi)
	}
	sort.Slice(qmis, func(left, right int) bool { return qmis[left].ID < qmis[right].ID })
	ctx.JSON(http.StatusOK, gin.H{"qmis": qmis})
}

func (server *Server) handleCreateQMI(ctx *gin.Context) {
	var request qcs.QMIRequest
	if err := ctx.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.PublicKey) == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_public_key", "public_key is required"))
		return
	}
	server.mu.Lock()
	defer server.mu.Unlock()
	server.nextID++
	qmi := qcs.QMI{
		ID:              server.nextID,
		Status:          qmiStatusCreating,
		OpenstackStatus: &qcs.OpenstackStatus{IP: fmt.Sprintf("10.0.0.%d", server.nextID%250+1)},
	}
	server.qmis[qmi.ID] = qmi
	ctx.Status(http.StatusCreated)
}

func (server *Server) handleGetQMI(ctx *gin.Context) {
	qmi, ok := server.lookupQMI(ctx)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"qmi": qmi})
}

func (server *Server) handleDeleteQMI(ctx *gin.Context) {
	qmi, ok := server.lookupQMI(ctx)
	if !ok {
		return
	}
	server.mu.Lock()
	delete(server.qmis, qmi.ID)
	server.mu.Unlock()
	ctx.Status(http.StatusAccepted)
}

func (server *Server) handlePowerQMI(ctx *gin.Context) {
	qmi, ok := server.lookupQMI(ctx)
	if !ok {
		return
	}
	switch qcs.QMIAction(ctx.Param("action")) {
	case qcs.QMIActionStart:
		qmi.Status = qmiStatusRunning
	case qcs.QMIActionStop:
		qmi.Status = qmiStatusStopped
	default:
		ctx.JSON(http.StatusNotFound, errorResponse("unknown_action", ctx.Param("action")))
		return
	}
	server.mu.Lock()
	server.qmis[qmi.ID] = qmi
	server.mu.Unlock()
	ctx.JSON(http.StatusOK, gin.H{"qmi": qmi})
}

func (server *Server) lookupQMI(ctx *gin.Context) (qcs.QMI, bool) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_id", "id must be an integer"))
		return qcs.QMI{}, false
	}
	server.mu.Lock()
	qmi, ok := server.qmis[id]
	server.mu.Unlock()
	if !ok {
		ctx.JSON(http.StatusNotFound, errorResponse("qmi_not_found", fmt.Sprintf("QMI %d not found", id)))
		return qcs.QMI{}, false
	}
	return qmi, true
}

func (server *Server) lattice(name string) (qcs.Lattice, bool) {
	for _, lattice := range server.fixture.Lattices {
		if lattice.LatticeName == name {
			return lattice, true
		}
	}
	return qcs.Lattice{}, false
}

func (server *Server) sortedReservations() []qcs.Reservation {
	reservations := make([]qcs.Reservation, 0, len(server.reservations))
	for _, reservation := range server.reservations {
		reservations = append(reservations, reservation)
	}
	sort.Slice(reservations, func(left, right int) bool { return reservations[left].ID < reservations[right].ID })
	return reservations
}

func price(lattice qcs.Lattice, duration time.Duration) qcs.AmountCents {
	return qcs.AmountCents(int64(duration/time.Minute) * lattice.PricePerMinute.Int64())
}

func stubKey(method string, path string) string {
	return method + " " + path
}

func errorResponse(errorType string, status string) gin.H {
	return gin.H{
		"error_type": errorType,
		"status":     status,
	}
}
