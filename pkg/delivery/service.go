package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/cicd-ai-toolkit/watchdog/pkg/build"
	"github.com/cicd-ai-toolkit/watchdog/pkg/config"
	"github.com/cicd-ai-toolkit/watchdog/pkg/errors"
	"github.com/cicd-ai-toolkit/watchdog/pkg/observability"
	"github.com/cicd-ai-toolkit/watchdog/pkg/report"
	"github.com/cicd-ai-toolkit/watchdog/pkg/version"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ContentType is sent with every report.
const ContentType = "application/json; charset=UTF-8"

// maxResponseBytes caps how much of the endpoint's answer is read.
const maxResponseBytes = 1 << 20

// ConsolePrefix starts every line written to the build console.
const ConsolePrefix = "WatchDog:"

// Outcome classifies a delivery attempt.
type Outcome int

const (
	// Delivered means the endpoint answered {"success": true}.
	Delivered Outcome = iota
	// Rejected means a response arrived without a true success flag.
	Rejected
	// Failed means serialization or transport failed.
	Failed
	// Skipped means configuration prevented an attempt.
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Rejected:
		return "rejected"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Result describes what Send did. Err is nil only when Outcome is Delivered.
type Result struct {
	Outcome    Outcome
	Err        error
	RequestID  string
	StatusCode int
	Response   string
}

// Service delivers the report of one finished build.
type Service struct {
	build     *build.Build
	console   *build.Console
	settings  *config.Settings
	notifier  config.NotifierConfig
	log       observability.Logger
	newClient func(*config.Settings) *http.Client
}

// NewService binds a build to the settings snapshot and notifier pair it
// is reported with.
func NewService(b *build.Build, console *build.Console, settings *config.Settings, notifier config.NotifierConfig, log observability.Logger) *Service {
	if console == nil {
		console = build.NewConsole(nil)
	}
	if log == nil {
		log = observability.Nop()
	}
	return &Service{
		build:     b,
		console:   console,
		settings:  settings,
		notifier:  notifier,
		log:       log.With(observability.String("build", b.Key())),
		newClient: NewHTTPClient,
	}
}

// Send makes exactly one delivery attempt and never returns an error: every
// failure is logged to the operator log and summarised by one console line.
func (s *Service) Send(ctx context.Context, outcome bool) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic during delivery: %v", r)
			s.log.Error("build report delivery panicked", observability.Err(err))
			s.console.Printf("%s failed to push build report: %v", ConsolePrefix, err)
			res = Result{Outcome: Failed, Err: err}
		}
	}()

	apiURL := s.settings.Global.APIURL
	if check := config.CheckAPIURL(apiURL); !check.IsOK() {
		err := errors.ConfigError("report endpoint is not configured: "+check.Message, nil)
		s.log.Error("build report not sent", observability.Err(err))
		s.console.Printf("%s report endpoint is not configured (%s), build report was not sent", ConsolePrefix, check.Message)
		return Result{Outcome: Skipped, Err: err}
	}

	req, err := report.Build(s.build, outcome, s.notifier)
	if err != nil {
		s.log.Error("build report not sent", observability.Err(err))
		s.console.Printf("%s invalid notifier configuration, build report was not sent: %v", ConsolePrefix, err)
		return Result{Outcome: Skipped, Err: err}
	}

	body, err := json.Marshal(req)
	if err != nil {
		werr := errors.SerializationError("encode build report", err)
		s.log.Error("build report not sent", observability.Err(werr))
		s.console.Printf("%s failed to encode build report: %v", ConsolePrefix, err)
		return Result{Outcome: Failed, Err: werr, RequestID: req.RequestID}
	}

	s.log.Debug("pushing build report",
		observability.String("url", apiURL),
		observability.String("request_id", req.RequestID),
		observability.String("body", string(body)),
	)

	res = s.post(ctx, apiURL, body)
	res.RequestID = req.RequestID
	return res
}

func (s *Service) post(ctx context.Context, apiURL string, body []byte) Result {
	client := s.newClient(s.settings)
	defer client.CloseIdleConnections()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return s.transportFailure(errors.TransportError("build request", err))
	}
	httpReq.Header.Set("Content-Type", ContentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())

	resp, err := client.Do(httpReq)
	if err != nil {
		return s.transportFailure(errors.TransportError("send build report", err))
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		res := s.transportFailure(errors.TransportError("read response", err))
		res.StatusCode = resp.StatusCode
		return res
	}
	response := string(raw)
	s.log.Debug("report endpoint answered",
		observability.Int("status", resp.StatusCode),
		observability.String("response", response),
	)

	if err := checkSuccess(raw); err != nil {
		s.log.Warn("report endpoint did not accept build report",
			observability.Int("status", resp.StatusCode),
			observability.Err(err),
		)
		s.console.Printf("%s failed to push build report, response: %s", ConsolePrefix, response)
		return Result{Outcome: Rejected, Err: err, StatusCode: resp.StatusCode, Response: response}
	}

	s.log.Info("build report delivered", observability.Int("status", resp.StatusCode))
	s.console.Printf("%s build report pushed successfully", ConsolePrefix)
	return Result{Outcome: Delivered, StatusCode: resp.StatusCode, Response: response}
}

func (s *Service) transportFailure(err error) Result {
	s.log.Error("failed to push build report", observability.Err(err))
	s.console.Printf("%s failed to push build report: %v", ConsolePrefix, err)
	return Result{Outcome: Failed, Err: err}
}

// ack is the expected response shape.
type ack struct {
	Success *bool `json:"success"`
}

func checkSuccess(raw []byte) error {
	var a ack
	if err := json.Unmarshal(raw, &a); err != nil {
		return errors.ProtocolError("response is not a JSON object", err)
	}
	if a.Success == nil {
		return errors.ProtocolError("response has no boolean success field", nil)
	}
	if !*a.Success {
		return errors.ProtocolError("endpoint reported success=false", nil)
	}
	return nil
}
