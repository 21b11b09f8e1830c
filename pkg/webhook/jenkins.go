// Package webhook turns Jenkins build notifications into completion events
// and serves the admin configuration endpoints.
package webhook

import (
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/cicd-ai-toolkit/watchdog/pkg/build"
	"github.com/cicd-ai-toolkit/watchdog/pkg/events"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MaxPayloadSize bounds the request bodies accepted by the handlers.
const MaxPayloadSize = 1 << 20

// Notification is the JSON body posted by the Jenkins Notification plugin.
type Notification struct {
	Name        string       `json:"name"`
	DisplayName string       `json:"display_name"`
	URL         string       `json:"url"`
	Build       BuildPayload `json:"build"`
}

// BuildPayload is the build section of a Notification.
type BuildPayload struct {
	FullURL        string `json:"full_url"`
	Number         int    `json:"number"`
	Phase          string `json:"phase"`
	Status         string `json:"status"`
	URL            string `json:"url"`
	Duration       int64  `json:"duration"`
	PreviousStatus string `json:"previous_status,omitempty"`
	StatusSummary  string `json:"status_summary,omitempty"`
}

// ParseNotification decodes and checks a notification body.
func ParseNotification(raw []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("failed to parse notification: %w", err)
	}
	if strings.TrimSpace(n.Name) == "" {
		return nil, fmt.Errorf("notification has no job name")
	}
	if n.Build.Number <= 0 {
		return nil, fmt.Errorf("notification has no build number")
	}
	return &n, nil
}

// EventType maps the build phase. ok is false for phases this service does
// not know.
func (n *Notification) EventType() (events.EventType, bool) {
	return events.ParseEventType(n.Build.Phase)
}

// ToBuild converts the notification into a build record.
func (n *Notification) ToBuild() *build.Build {
	display := n.DisplayName
	if display == "" {
		display = n.Name
	}
	return &build.Build{
		Job:             n.Name,
		Number:          n.Build.Number,
		Status:          build.ParseStatus(n.Build.Status),
		PreviousStatus:  build.ParseStatus(n.Build.PreviousStatus),
		Duration:        time.Duration(n.Build.Duration) * time.Millisecond,
		FullDisplayName: fmt.Sprintf("%s #%d", display, n.Build.Number),
		AbsoluteURL:     n.Build.FullURL,
		StatusSummary:   n.Build.StatusSummary,
	}
}
