package webhook

import (
	"net/http"
	"strings"

	"github.com/cicd-ai-toolkit/watchdog/pkg/build"
	"github.com/cicd-ai-toolkit/watchdog/pkg/observability"
)

// logWriter forwards each console line to the operator log at debug level.
// The delivery service already logs every outcome once, so the console
// copy stays out of the default log.
type logWriter struct {
	log observability.Logger
}

func (w logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			w.log.Debug(line)
		}
	}
	return len(p), nil
}

// NewConsole returns the console of a build received over the webhook.
// There is no build log to write to, so lines go to the operator log tagged
// with the build key.
func NewConsole(log observability.Logger, key string) *build.Console {
	return build.NewConsole(logWriter{
		log: log.With(observability.String("stream", "console"), observability.String("build", key)),
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
