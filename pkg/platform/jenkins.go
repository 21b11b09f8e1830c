// Package platform reads finished builds from a Jenkins server.
package platform

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/cicd-ai-toolkit/watchdog/pkg/build"
	"github.com/cicd-ai-toolkit/watchdog/pkg/config"
	"github.com/cicd-ai-toolkit/watchdog/pkg/version"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// validJobNamePattern matches one safe job or folder name.
var validJobNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// buildTree limits the fields Jenkins serializes for a build.
const buildTree = "number,url,building,result,duration,fullDisplayName,previousBuild[number]"

// sanitizeJobPath validates a job path such as "team/deploy-service" and
// returns the matching URL path "/job/team/job/deploy-service".
func sanitizeJobPath(input string) (string, error) {
	if input == "" {
		return "", fmt.Errorf("job path cannot be empty")
	}

	// Reject path traversal attempts explicitly
	if strings.Contains(input, "..") {
		return "", fmt.Errorf("job path cannot contain '..'")
	}

	lower := strings.ToLower(input)
	if strings.Contains(lower, "%2e") || strings.Contains(lower, "%2f") {
		return "", fmt.Errorf("job path cannot contain URL-encoded dots or slashes")
	}

	if strings.HasPrefix(input, "/") || strings.HasPrefix(input, "\\") {
		return "", fmt.Errorf("job path cannot be absolute")
	}

	var b strings.Builder
	for _, segment := range strings.Split(strings.TrimSuffix(input, "/"), "/") {
		if !validJobNamePattern.MatchString(segment) {
			return "", fmt.Errorf("job path segment %q contains invalid characters", segment)
		}
		b.WriteString("/job/")
		b.WriteString(segment)
	}
	return b.String(), nil
}

// JenkinsClient reads build records from the Jenkins JSON API.
type JenkinsClient struct {
	baseURL    string
	username   string
	apiToken   string
	httpClient *http.Client
}

// jenkinsBuildInfo is the subset of /job/<path>/<n>/api/json used here.
type jenkinsBuildInfo struct {
	Number          int     `json:"number"`
	URL             string  `json:"url"`
	Building        bool    `json:"building"`
	Result          *string `json:"result"`
	Duration        int64   `json:"duration"`
	FullDisplayName string  `json:"fullDisplayName"`
	PreviousBuild   *struct {
		Number int `json:"number"`
	} `json:"previousBuild"`
}

// NewJenkinsClient creates a client for the server at baseURL. Credentials
// are optional; a zero timeout means config.DefaultTimeout.
func NewJenkinsClient(baseURL, username, apiToken string, timeout time.Duration) (*JenkinsClient, error) {
	if check := config.CheckAPIURL(baseURL); !check.IsOK() {
		return nil, fmt.Errorf("invalid base URL: %s", check.Message)
	}
	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}

	return &JenkinsClient{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		username: username,
		apiToken: apiToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Name returns the platform name
func (j *JenkinsClient) Name() string {
	return "jenkins"
}

// Health checks if the Jenkins API is accessible
func (j *JenkinsClient) Health(ctx context.Context) error {
	resp, err := j.get(ctx, j.baseURL+"/api/json")
	if err != nil {
		return fmt.Errorf("failed to connect to Jenkins: %w", err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jenkins health check failed with status: %d", resp.StatusCode)
	}
	return nil
}

// GetBuild fetches a finished build of jobPath. A number <= 0 selects the
// last completed build. The previous build's result is fetched as well so
// that the status summary can be derived; failing to read it is not an
// error.
func (j *JenkinsClient) GetBuild(ctx context.Context, jobPath string, number int) (*build.Build, error) {
	jobURL, err := sanitizeJobPath(jobPath)
	if err != nil {
		return nil, fmt.Errorf("invalid job path: %w", err)
	}

	ref := "lastCompletedBuild"
	if number > 0 {
		ref = strconv.Itoa(number)
	}

	info, err := j.getBuildInfo(ctx, jobURL, ref)
	if err != nil {
		return nil, err
	}
	if info.Building {
		return nil, fmt.Errorf("build %s #%d is still running", jobPath, info.Number)
	}

	b := &build.Build{
		Job:             jobPath,
		Number:          info.Number,
		Status:          parseResult(info.Result),
		Duration:        time.Duration(info.Duration) * time.Millisecond,
		FullDisplayName: info.FullDisplayName,
		AbsoluteURL:     info.URL,
	}

	if info.PreviousBuild != nil && info.PreviousBuild.Number > 0 {
		if prev, err := j.getBuildInfo(ctx, jobURL, strconv.Itoa(info.PreviousBuild.Number)); err == nil {
			b.PreviousStatus = parseResult(prev.Result)
			if b.Status == build.StatusFailure && b.PreviousStatus == build.StatusFailure {
				b.FailingSince = j.failingSince(ctx, jobURL, prev)
			}
		}
	}
	return b, nil
}

// maxStreakWalk bounds how many earlier builds failingSince reads.
const maxStreakWalk = 50

// failingSince walks back from prev, a failed build, to the first failure
// after the last build that did not fail. Unstable, aborted and not-built
// results end the streak like a success does. It returns build.NeverPassed
// when the history runs out while still failing, and 0 when the walk cannot
// finish.
func (j *JenkinsClient) failingSince(ctx context.Context, jobURL string, prev *jenkinsBuildInfo) int {
	cur := prev
	for i := 0; i < maxStreakWalk; i++ {
		if cur.PreviousBuild == nil || cur.PreviousBuild.Number <= 0 {
			return build.NeverPassed
		}
		before, err := j.getBuildInfo(ctx, jobURL, strconv.Itoa(cur.PreviousBuild.Number))
		if err != nil {
			return 0
		}
		if parseResult(before.Result) != build.StatusFailure {
			return cur.Number
		}
		cur = before
	}
	return 0
}

func (j *JenkinsClient) getBuildInfo(ctx context.Context, jobURL, ref string) (*jenkinsBuildInfo, error) {
	endpoint := fmt.Sprintf("%s%s/%s/api/json?tree=%s", j.baseURL, jobURL, ref, url.QueryEscape(buildTree))

	resp, err := j.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to get build info: %w", err)
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("build %s not found", ref)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var info jenkinsBuildInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &info, nil
}

func (j *JenkinsClient) get(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if j.username != "" || j.apiToken != "" {
		req.SetBasicAuth(j.username, j.apiToken)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	return j.httpClient.Do(req)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
}

// parseResult maps a Jenkins result, which is null while undetermined.
func parseResult(result *string) build.Status {
	if result == nil {
		return build.StatusUnknown
	}
	return build.ParseStatus(*result)
}
