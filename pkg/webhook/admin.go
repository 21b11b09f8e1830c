package webhook

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cicd-ai-toolkit/watchdog/pkg/config"
	"github.com/cicd-ai-toolkit/watchdog/pkg/observability"
)

// ErrNoAdminToken is returned by NewAdmin when no token is given.
var ErrNoAdminToken = errors.New("admin endpoints require a token")

// Admin serves the configuration endpoints used by operators:
//
//	GET  /config                   global settings, password masked
//	PUT  /config                   validate, swap and save global settings
//	GET  /config/check?field=&value=  run one field validator
//	GET  /jobs/{name}              post-build steps of a job as YAML, signatures masked
//	PUT  /jobs/{name}              replace them from a YAML body
//
// Every route requires "Authorization: Bearer <token>".
type Admin struct {
	store *config.Store
	log   observability.Logger
	token string
}

// NewAdmin creates the admin endpoints over store, guarded by token.
func NewAdmin(store *config.Store, log observability.Logger, token string) (*Admin, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrNoAdminToken
	}
	if log == nil {
		log = observability.Nop()
	}
	return &Admin{store: store, log: log, token: token}, nil
}

// Register adds the admin routes to mux.
func (a *Admin) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /config", a.guard(a.getConfig))
	mux.HandleFunc("PUT /config", a.guard(a.putConfig))
	mux.HandleFunc("GET /config/check", a.guard(a.checkField))
	mux.HandleFunc("GET /jobs/{name...}", a.guard(a.getJob))
	mux.HandleFunc("PUT /jobs/{name...}", a.guard(a.putJob))
}

func (a *Admin) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		received, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || !tokenMatches(received, a.token) {
			a.log.Warn("rejected admin request",
				observability.String("method", r.Method),
				observability.String("path", r.URL.Path),
			)
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// settingsView is the JSON form of config.Settings with a readable timeout.
type settingsView struct {
	APIURL    string              `json:"apiUrl"`
	Timeout   string              `json:"timeout,omitempty"`
	LogLevel  string              `json:"logLevel,omitempty"`
	LogFormat string              `json:"logFormat,omitempty"`
	Proxy     *config.ProxyConfig `json:"proxy,omitempty"`
}

func toView(s config.Settings) settingsView {
	v := settingsView{
		APIURL:    s.Global.APIURL,
		LogLevel:  s.Global.LogLevel,
		LogFormat: s.Global.LogFormat,
		Proxy:     s.Proxy,
	}
	if s.Global.Timeout > 0 {
		v.Timeout = s.Global.Timeout.String()
	}
	return v
}

func (v settingsView) settings(current *config.Settings) (config.Settings, error) {
	s := config.Settings{
		Global: config.Global{
			APIURL:    v.APIURL,
			LogLevel:  v.LogLevel,
			LogFormat: v.LogFormat,
			Timeout:   current.Global.Timeout,
		},
		Proxy: v.Proxy,
	}
	if s.Global.LogLevel == "" {
		s.Global.LogLevel = current.Global.LogLevel
	}
	if s.Global.LogFormat == "" {
		s.Global.LogFormat = current.Global.LogFormat
	}
	if v.Timeout != "" {
		d, err := time.ParseDuration(v.Timeout)
		if err != nil {
			return s, &config.ValidationError{Field: "timeout", Value: v.Timeout, Message: "invalid duration"}
		}
		s.Global.Timeout = d
	}
	// A masked password sent back unchanged keeps the stored one.
	if s.Proxy != nil && s.Proxy.Password == config.MaskedValue && current.Proxy != nil {
		p := *s.Proxy
		p.Password = current.Proxy.Password
		s.Proxy = &p
	}
	return s, nil
}

func (a *Admin) getConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toView(a.store.Settings().Masked()))
}

func (a *Admin) putConfig(w http.ResponseWriter, r *http.Request) {
	var v settingsView
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxPayloadSize)).Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	next, err := v.settings(a.store.Settings())
	if err == nil {
		err = a.store.UpdateSettings(next)
	}
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		a.log.Error("failed to save settings", observability.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	a.log.Info("global settings updated", observability.String("api_url", next.Global.APIURL))
	writeJSON(w, http.StatusOK, toView(a.store.Settings().Masked()))
}

func (a *Admin) checkField(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := config.CheckField(q.Get("field"), q.Get("value"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *Admin) getJob(w http.ResponseWriter, r *http.Request) {
	steps, ok := a.store.Publishers(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	out, err := yaml.Marshal(config.JobConfig{Publishers: steps.Masked()})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(out)
}

func (a *Admin) putJob(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPayloadSize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	var job config.JobConfig
	if err := yaml.Unmarshal(raw, &job); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	name := r.PathValue("name")
	current, _ := a.store.Publishers(name)
	job.Publishers, err = job.Publishers.Unmask(current)
	if err == nil {
		err = a.store.PutJob(name, job)
	}
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		a.log.Error("failed to save job", observability.String("job", name), observability.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to save job")
		return
	}

	a.log.Info("job configuration updated", observability.String("job", name))
	w.WriteHeader(http.StatusNoContent)
}
