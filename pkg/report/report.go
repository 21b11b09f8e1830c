// Package report builds the payload pushed to the reporting endpoint.
package report

import (
	"time"

	"github.com/google/uuid"

	"github.com/cicd-ai-toolkit/watchdog/pkg/build"
	"github.com/cicd-ai-toolkit/watchdog/pkg/config"
	"github.com/cicd-ai-toolkit/watchdog/pkg/errors"
)

// Request is the wire payload. Field names are fixed by the endpoint.
type Request struct {
	Context        string `json:"context"`
	CostTime       int64  `json:"costTime"`
	Detail         string `json:"detail"`
	JobName        string `json:"jobName"`
	MicroServiceID int    `json:"microServiceId"`
	RequestID      string `json:"requestId"`
	Result         bool   `json:"result"`
	Signature      string `json:"signature"`
}

// newRequestID is swapped in tests.
var newRequestID = func() string {
	return uuid.NewString()
}

// Build maps a finished build, its outcome and the job's notifier pair to a
// Request with a fresh request id. A microServiceId that is not an integer
// is a configuration error; nothing is coerced.
func Build(b *build.Build, outcome bool, cfg config.NotifierConfig) (*Request, error) {
	id, err := config.ParseMicroServiceID(cfg.MicroServiceID)
	if err != nil {
		return nil, errors.ConfigError("microServiceId must be an integer", err).
			WithContext("microServiceId", cfg.MicroServiceID)
	}

	return &Request{
		Context:        b.Summary(),
		CostTime:       costTime(b.Duration),
		Detail:         b.AbsoluteURL,
		JobName:        b.DisplayName(),
		MicroServiceID: id,
		RequestID:      newRequestID(),
		Result:         outcome,
		Signature:      cfg.Signature,
	}, nil
}

func costTime(d time.Duration) int64 {
	if d < 0 {
		return 0
	}
	return d.Milliseconds()
}
