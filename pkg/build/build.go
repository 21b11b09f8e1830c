// Package build models a finished CI build as the notifier sees it.
package build

import (
	"fmt"
	"strings"
	"time"
)

// Status is the terminal classification of a build.
type Status int

const (
	// StatusUnknown covers a result that is missing or not yet determined.
	StatusUnknown Status = iota
	StatusSuccess
	StatusUnstable
	StatusFailure
	StatusNotBuilt
	StatusAborted
)

var statusNames = map[Status]string{
	StatusUnknown:  "UNKNOWN",
	StatusSuccess:  "SUCCESS",
	StatusUnstable: "UNSTABLE",
	StatusFailure:  "FAILURE",
	StatusNotBuilt: "NOT_BUILT",
	StatusAborted:  "ABORTED",
}

// String returns the upper-case name the CI host uses for the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return statusNames[StatusUnknown]
}

// ParseStatus maps a host result string to a Status. Anything it does not
// recognise, including the empty string, is StatusUnknown.
func ParseStatus(s string) Status {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SUCCESS":
		return StatusSuccess
	case "UNSTABLE":
		return StatusUnstable
	case "FAILURE", "FAILED":
		return StatusFailure
	case "NOT_BUILT":
		return StatusNotBuilt
	case "ABORTED":
		return StatusAborted
	default:
		return StatusUnknown
	}
}

// NeverPassed is the FailingSince value of a job whose every earlier build
// failed.
const NeverPassed = -1

// Build is a completed build record.
type Build struct {
	Job             string
	Number          int
	Status          Status
	PreviousStatus  Status
	Duration        time.Duration
	FullDisplayName string
	AbsoluteURL     string

	// FailingSince is the first failed build of the current failure streak.
	// 0 means unknown; NeverPassed means no earlier build did anything but fail.
	FailingSince int

	// StatusSummary overrides the derived summary when the host supplies one.
	StatusSummary string
}

// Key identifies the build across its job, e.g. "deploy-service#42".
func (b *Build) Key() string {
	return fmt.Sprintf("%s#%d", b.Job, b.Number)
}

// DisplayName returns FullDisplayName, falling back to "<job> #<number>".
func (b *Build) DisplayName() string {
	if b.FullDisplayName != "" {
		return b.FullDisplayName
	}
	return fmt.Sprintf("%s #%d", b.Job, b.Number)
}

// Summary returns a short human readable description of the result,
// taking the previous build into account.
func (b *Build) Summary() string {
	if b.StatusSummary != "" {
		return b.StatusSummary
	}

	switch b.Status {
	case StatusSuccess:
		if b.PreviousStatus == StatusUnknown || b.PreviousStatus == StatusSuccess {
			return "stable"
		}
		return "back to normal"
	case StatusFailure:
		if b.PreviousStatus != StatusFailure {
			return "broken since this build"
		}
		switch {
		case b.FailingSince == NeverPassed:
			return "broken for a long time"
		case b.FailingSince > 0 && b.FailingSince != b.Number:
			return fmt.Sprintf("broken since build #%d", b.FailingSince)
		default:
			return "still failing"
		}
	case StatusUnstable:
		if b.PreviousStatus == StatusUnstable {
			return "still unstable"
		}
		return "unstable"
	case StatusAborted:
		return "aborted"
	case StatusNotBuilt:
		return "not built"
	default:
		return "?"
	}
}
