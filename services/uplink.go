package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humamux"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/net/netutil"

	"github.com/medrelay/uplink/auth"
	"github.com/medrelay/uplink/config"
	"github.com/medrelay/uplink/connection"
	"github.com/medrelay/uplink/engine"
	"github.com/medrelay/uplink/journal"
	"github.com/medrelay/uplink/queue"
)

// Version numbers
var majorVersion = 1
var minorVersion = 0
var patchVersion = 0

// Version string
var version = fmt.Sprintf("%d.%d.%d", majorVersion, minorVersion, patchVersion)

// This type implements the TransferService interface, exposing the upload
// queue, the transfer journal, and the connection monitor over a REST API.
type uplinkService struct {
	// name of the service
	Name string
	// service version identifier
	Version string
	// time which the service was started
	StartTime time.Time
	// port on which the service currently runs
	Port int
	// router for REST endpoints
	Router *mux.Router
	// API wrapper
	API huma.API
	// HTTP server.
	Server *http.Server

	// the reconciliation engine driving uploads
	Engine *engine.Engine
	// the connection monitor (may be nil when the host wires its own)
	Monitor *connection.Monitor
	// outbound credential source, reloaded on a resume request (may be nil)
	Tokens *auth.FileTokenProvider

	authenticator *auth.Authenticator
}

// authorize clients of the service, returning the client's user record and an
// error describing any issue encountered
func (service *uplinkService) authorize(authorizationHeader string) (auth.User, error) {
	if !strings.Contains(authorizationHeader, "Bearer") {
		return auth.User{}, huma.Error401Unauthorized("Invalid authorization header")
	}
	accessToken := strings.TrimSpace(authorizationHeader[len("Bearer "):])
	user, err := service.authenticator.GetUser(accessToken)
	if err != nil {
		return auth.User{}, huma.Error401Unauthorized(err.Error())
	}
	return user, nil
}

// maps engine and queue errors to their HTTP equivalents
func mapError(err error) error {
	var notFound *queue.NotFoundError
	if errors.As(err, &notFound) {
		return huma.Error404NotFound(err.Error())
	}
	var notFailed *engine.NotFailedError
	if errors.As(err, &notFailed) {
		return huma.Error409Conflict(err.Error())
	}
	var notCancelable *engine.NotCancelableError
	if errors.As(err, &notCancelable) {
		return huma.Error409Conflict(err.Error())
	}
	var invalid *engine.InvalidSubmissionError
	if errors.As(err, &invalid) {
		return huma.Error422UnprocessableEntity(err.Error())
	}
	return err
}

type ServiceInfoOutput struct {
	Body ServiceInfoResponse `doc:"information about the service itself"`
}

// handler method for root (no authorization needed for this one)
func (service *uplinkService) getRoot(ctx context.Context,
	input *struct{}) (*ServiceInfoOutput, error) {

	slog.Info("Querying root endpoint...")
	return &ServiceInfoOutput{
		Body: ServiceInfoResponse{
			Name:          service.Name,
			Version:       service.Version,
			Uptime:        int(service.uptime()),
			Documentation: "/docs",
		},
	}, nil
}

type TransferOutput struct {
	Body   TransferResponse `doc:"A UUID for the requested transfer"`
	Status int
}

// handler method for submitting an image upload
func (service *uplinkService) createTransfer(ctx context.Context,
	input *struct {
		Authorization string          `header:"Authorization" doc:"Authorization header with an access token"`
		Body          TransferRequest `doc:"The body of a POST request for an image upload"`
		ContentType   string          `header:"Content-Type" doc:"Content-Type header (must be application/json)"`
	}) (*TransferOutput, error) {

	user, err := service.authorize(input.Authorization)
	if err != nil {
		return nil, err
	}
	slog.Info(fmt.Sprintf("Transfer to %s requested by %s", input.Body.Destination,
		user.Name))

	transferId, err := service.Engine.Submit(engine.Specification{
		Destination: input.Body.Destination,
		Path:        input.Body.Path,
		Data:        input.Body.Data,
		Size:        input.Body.Size,
	})
	if err != nil {
		return nil, mapError(err)
	}
	return &TransferOutput{
		Body: TransferResponse{
			Id: transferId,
		},
		Status: http.StatusCreated,
	}, nil
}

type QueueOutput struct {
	Body QueueResponse `doc:"Numbers of queued transfers by disposition"`
}

// handler method for summarizing the upload queue
func (service *uplinkService) getQueue(ctx context.Context,
	input *struct {
		Authorization string `header:"authorization" doc:"Authorization header with an access token"`
	}) (*QueueOutput, error) {

	_, err := service.authorize(input.Authorization)
	if err != nil {
		return nil, err
	}

	counts, err := service.Engine.Counts()
	if err != nil {
		return nil, mapError(err)
	}
	return &QueueOutput{
		Body: QueueResponse{
			Pending:   counts.Pending,
			Uploading: counts.Uploading,
			Offline:   counts.Offline,
			Failed:    counts.Failed,
		},
	}, nil
}

type TransferStatusOutput struct {
	Body TransferStatusResponse `doc:"A status message for the transfer with the given ID"`
}

// handler method for getting the status of a transfer
func (service *uplinkService) getTransferStatus(ctx context.Context,
	input *struct {
		Authorization string    `header:"authorization" doc:"Authorization header with an access token"`
		Id            uuid.UUID `path:"id" example:"de9a2d6a-f5c9-4322-b8a7-8121d83fdfc2" doc:"the UUID for the requested transfer"`
	}) (*TransferStatusOutput, error) {

	_, err := service.authorize(input.Authorization)
	if err != nil {
		return nil, err
	}

	status, err := service.Engine.Status(input.Id)
	if err != nil {
		return nil, mapError(err)
	}
	return &TransferStatusOutput{
		Body: TransferStatusResponse{
			Id:       input.Id.String(),
			Status:   status.Status.String(),
			Offset:   status.Offset,
			Size:     status.Size,
			Attempts: status.Attempts,
			Message:  status.LastError,
		},
	}, nil
}

type TransferRetryOutput struct {
	Status int
}

// handler method for returning a permanently failed transfer to the queue
func (service *uplinkService) retryTransfer(ctx context.Context,
	input *struct {
		Authorization string    `header:"authorization" doc:"Authorization header with an access token"`
		Id            uuid.UUID `path:"id" doc:"the UUID for the transfer to retry"`
	}) (*TransferRetryOutput, error) {

	_, err := service.authorize(input.Authorization)
	if err != nil {
		return nil, err
	}

	if err := service.Engine.Retry(input.Id); err != nil {
		return nil, mapError(err)
	}
	return &TransferRetryOutput{
		Status: http.StatusAccepted,
	}, nil
}

type TransferDeletionOutput struct {
	Status int
}

// handler method for deleting (canceling) an existing transfer
func (service *uplinkService) deleteTransfer(ctx context.Context,
	input *struct {
		Authorization string    `header:"authorization" doc:"Authorization header with an access token"`
		Id            uuid.UUID `path:"id" example:"de9a2d6a-f5c9-4322-b8a7-8121d83fdfc2" doc:"the UUID for the requested transfer"`
	}) (*TransferDeletionOutput, error) {

	_, err := service.authorize(input.Authorization)
	if err != nil {
		return nil, err
	}

	// request that the transfer be canceled
	if err := service.Engine.Cancel(input.Id); err != nil {
		return nil, mapError(err)
	}
	return &TransferDeletionOutput{
		Status: http.StatusAccepted,
	}, nil
}

type JournalOutput struct {
	Body JournalResponse `doc:"Terminal transfer records within the requested time range"`
}

// handler method for querying the transfer journal
func (service *uplinkService) getJournal(ctx context.Context,
	input *struct {
		Authorization string `header:"authorization" doc:"Authorization header with an access token"`
		Start         string `query:"start" doc:"(Optional) start of the time range (RFC 3339)"`
		Stop          string `query:"stop" doc:"(Optional) end of the time range (RFC 3339)"`
	}) (*JournalOutput, error) {

	_, err := service.authorize(input.Authorization)
	if err != nil {
		return nil, err
	}

	start := time.Unix(0, 0)
	if input.Start != "" {
		if start, err = time.Parse(time.RFC3339, input.Start); err != nil {
			return nil, huma.Error400BadRequest(fmt.Sprintf("Invalid start time: %s",
				input.Start))
		}
	}
	stop := time.Now()
	if input.Stop != "" {
		if stop, err = time.Parse(time.RFC3339, input.Stop); err != nil {
			return nil, huma.Error400BadRequest(fmt.Sprintf("Invalid stop time: %s",
				input.Stop))
		}
	}

	records, err := journal.Records(start, stop)
	if err != nil {
		return nil, err
	}
	return &JournalOutput{
		Body: JournalResponse{
			Records: records,
		},
	}, nil
}

type ConnectionOutput struct {
	Body ConnectionResponse `doc:"The current connection state"`
}

// handler method for reporting the current connection state
func (service *uplinkService) getConnection(ctx context.Context,
	input *struct {
		Authorization string `header:"authorization" doc:"Authorization header with an access token"`
	}) (*ConnectionOutput, error) {

	_, err := service.authorize(input.Authorization)
	if err != nil {
		return nil, err
	}

	var state connection.State
	if service.Monitor != nil {
		state = service.Monitor.Current()
	} else {
		state = connection.State{Online: true, Quality: connection.QualityGood}
	}
	return &ConnectionOutput{
		Body: ConnectionResponse{
			Online:  state.Online,
			Quality: state.Quality.String(),
		},
	}, nil
}

type ResumeOutput struct {
	Status int
}

// handler method for resuming dispatch after re-authentication replaces the
// outbound credential
func (service *uplinkService) resumeDispatch(ctx context.Context,
	input *struct {
		Authorization string `header:"authorization" doc:"Authorization header with an access token"`
	}) (*ResumeOutput, error) {

	_, err := service.authorize(input.Authorization)
	if err != nil {
		return nil, err
	}

	if service.Tokens != nil {
		service.Tokens.Reload()
	}
	if err := service.Engine.Resume(); err != nil {
		return nil, mapError(err)
	}
	return &ResumeOutput{
		Status: http.StatusAccepted,
	}, nil
}

// returns the uptime for the service in seconds
func (service *uplinkService) uptime() float64 {
	return time.Since(service.StartTime).Seconds()
}

// constructs an uplink service atop the given engine; the monitor and the
// token provider are optional
func NewUplinkService(eng *engine.Engine, monitor *connection.Monitor,
	tokens *auth.FileTokenProvider) (TransferService, error) {

	// validate our configuration
	if len(config.Destinations) == 0 {
		return nil, fmt.Errorf("No upload destinations were specified.")
	}
	authenticator, err := auth.NewAuthenticator()
	if err != nil {
		return nil, err
	}

	service := new(uplinkService)
	service.Name = "uplink"
	service.Version = version
	service.Port = -1
	service.Engine = eng
	service.Monitor = monitor
	service.Tokens = tokens
	service.authenticator = authenticator

	// set up routing
	service.Router = mux.NewRouter()
	api := humamux.New(service.Router, huma.DefaultConfig(service.Name, service.Version))
	huma.Get(api, "/", service.getRoot)
	AddDocEndpoints(service.Router)

	// API v1
	huma.Post(api, "/api/v1/transfers", service.createTransfer)
	huma.Get(api, "/api/v1/transfers", service.getQueue)
	huma.Get(api, "/api/v1/transfers/{id}", service.getTransferStatus)
	huma.Post(api, "/api/v1/transfers/{id}/retry", service.retryTransfer)
	huma.Delete(api, "/api/v1/transfers/{id}", service.deleteTransfer)
	huma.Get(api, "/api/v1/journal", service.getJournal)
	huma.Get(api, "/api/v1/connection", service.getConnection)
	huma.Post(api, "/api/v1/resume", service.resumeDispatch)

	return service, nil
}

// starts the uplink service
func (service *uplinkService) Start(port int) error {
	slog.Info(fmt.Sprintf("Starting %s service on port %d...", service.Name, port))
	slog.Info(fmt.Sprintf("(Accepting up to %d connections)", config.Service.MaxConnections))

	service.StartTime = time.Now()

	// create a listener that limits the number of incoming connections
	service.Port = port
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return err
	}
	defer listener.Close()
	listener = netutil.LimitListener(listener, config.Service.MaxConnections)

	// start dispatching transfers
	if !service.Engine.Running() {
		if err := service.Engine.Start(); err != nil {
			return err
		}
	}

	// start the server
	service.Server = &http.Server{
		Handler: service.Router}
	err = service.Server.Serve(listener)

	// we don't report the server closing as an error
	if err != http.ErrServerClosed {
		return err
	}
	return nil
}

// gracefully shuts down the service without interrupting active connections
func (service *uplinkService) Shutdown(ctx context.Context) error {
	if service.Engine.Running() {
		service.Engine.Stop()
	}
	if service.Server != nil {
		return service.Server.Shutdown(ctx)
	}
	return nil
}

// closes down the service abruptly, freeing all resources
func (service *uplinkService) Close() {
	if service.Engine.Running() {
		service.Engine.Stop()
	}
	if service.Server != nil {
		service.Server.Close()
	}
}
