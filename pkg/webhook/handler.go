package webhook

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cicd-ai-toolkit/watchdog/pkg/build"
	"github.com/cicd-ai-toolkit/watchdog/pkg/config"
	"github.com/cicd-ai-toolkit/watchdog/pkg/events"
	"github.com/cicd-ai-toolkit/watchdog/pkg/observability"
)

// TokenHeader carries the shared webhook token.
const TokenHeader = "X-Watchdog-Token"

// JobSource resolves the post-build steps of a job. *config.Store
// implements it.
type JobSource interface {
	Publishers(job string) (config.Steps, bool)
}

// BuildSource fetches an authoritative build record.
// *platform.JenkinsClient implements it.
type BuildSource interface {
	GetBuild(ctx context.Context, jobPath string, number int) (*build.Build, error)
}

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	// Token, when set, must match the TokenHeader or the "token" query
	// parameter of every request.
	Token string
	// Builds, when set, is asked for the build record; the notification
	// body is used if that fails.
	Builds BuildSource
}

// Handler receives Jenkins notifications and publishes completion events.
type Handler struct {
	jobs   JobSource
	bus    *events.Bus
	token  string
	builds BuildSource
	log    observability.Logger
}

// NewHandler creates the notification handler.
func NewHandler(jobs JobSource, bus *events.Bus, log observability.Logger, opts HandlerOptions) *Handler {
	if log == nil {
		log = observability.Nop()
	}
	return &Handler{
		jobs:   jobs,
		bus:    bus,
		token:  opts.Token,
		builds: opts.Builds,
		log:    log,
	}
}

type hookResponse struct {
	Status   string `json:"status"`
	Build    string `json:"build,omitempty"`
	Handlers int    `json:"handlers,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ServeHTTP accepts one notification. Once the body is valid the answer is
// 202 whatever happens to the report; the build is not affected either way.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if h.token != "" && !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPayloadSize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	n, err := ParseNotification(raw)
	if err != nil {
		h.log.Warn("rejected notification", observability.Err(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	eventType, ok := n.EventType()
	if !ok || eventType != events.EventCompleted {
		h.log.Debug("ignored notification",
			observability.String("job", n.Name),
			observability.String("phase", n.Build.Phase),
		)
		writeJSON(w, http.StatusAccepted, hookResponse{Status: "ignored", Reason: "phase " + n.Build.Phase})
		return
	}

	// Delivery must finish even if Jenkins hangs up first.
	ctx := context.WithoutCancel(r.Context())

	b := h.resolveBuild(ctx, n)
	steps, _ := h.jobs.Publishers(b.Job)

	results := h.bus.Publish(ctx, &events.Event{
		Type:       events.EventCompleted,
		Timestamp:  time.Now(),
		Build:      b,
		Publishers: steps,
		Console:    NewConsole(h.log, b.Key()),
	})

	writeJSON(w, http.StatusAccepted, hookResponse{Status: "accepted", Build: b.Key(), Handlers: len(results)})
}

func (h *Handler) authorized(r *http.Request) bool {
	received := r.Header.Get(TokenHeader)
	if received == "" {
		received = r.URL.Query().Get("token")
	}
	return tokenMatches(received, h.token)
}

func tokenMatches(received, want string) bool {
	return subtle.ConstantTimeCompare([]byte(received), []byte(want)) == 1
}

func (h *Handler) resolveBuild(ctx context.Context, n *Notification) *build.Build {
	b := n.ToBuild()
	b.Job = JobPath(n)
	if h.builds == nil {
		return b
	}

	fetched, err := h.builds.GetBuild(ctx, b.Job, b.Number)
	if err != nil {
		h.log.Warn("using notification body, build lookup failed",
			observability.String("build", b.Key()),
			observability.Err(err),
		)
		return b
	}
	if fetched.AbsoluteURL == "" {
		fetched.AbsoluteURL = b.AbsoluteURL
	}
	if fetched.StatusSummary == "" {
		fetched.StatusSummary = b.StatusSummary
	}
	return fetched
}

// JobPath returns the full job path, "team/deploy-service" for a job inside
// a folder, derived from the notification's relative job URL. It falls back
// to the job name.
func JobPath(n *Notification) string {
	segments := strings.Split(strings.Trim(n.URL, "/"), "/")
	var parts []string
	for i := 0; i+1 < len(segments); i += 2 {
		if segments[i] != "job" || segments[i+1] == "" {
			return n.Name
		}
		parts = append(parts, segments[i+1])
	}
	if len(parts) == 0 || len(segments)%2 != 0 {
		return n.Name
	}
	return strings.Join(parts, "/")
}
