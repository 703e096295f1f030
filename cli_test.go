package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer is a minimal investigations backend.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu         sync.Mutex
	submitted  []map[string]string
	uploads    []map[string]string
	uploadN    []int
	logouts    int
	submitCode int
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	f := &fakeServer{t: t}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", f.login)
	mux.HandleFunc("POST /api/logout", f.authed(func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		f.logouts++
		f.mu.Unlock()

		writeJSON(w, http.StatusOK, map[string]any{"message": "bye"})
	}))
	mux.HandleFunc("GET /api/cases/employee-case", f.authed(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("user_id"))
		writeJSON(w, http.StatusOK, []any{
			map[string]any{"cases": []any{
				map[string]any{"id": 11, "applicant_name": "Ravi Kumar", "fl_type": "rv", "bank": map[string]any{"name": "HDFC"}},
				map[string]any{"id": 12, "applicant_name": "Asha", "fl_type": "bv", "bank_name": "SBI"},
			}},
		})
	}))
	mux.HandleFunc("GET /api/cases/employee-completed-cases", f.authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": []any{
			map[string]any{"id": 9, "applicant_name": "Old", "submitted_date": r.URL.Query().Get("selectedDate") + "T10:00:00Z"},
		}})
	}))
	mux.HandleFunc("POST /api/submit-case", f.authed(f.submit))
	mux.HandleFunc("POST /api/cases/upload-files", f.authed(f.upload))

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fakeServer) baseURL() string {
	return f.srv.URL + "/api/"
}

func (f *fakeServer) authed(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Unauthenticated."})
			return
		}

		h(w, r)
	}
}

func (f *fakeServer) login(w http.ResponseWriter, r *http.Request) {
	require.NoError(f.t, r.ParseMultipartForm(1<<20))

	if r.FormValue("password") != "secret" {
		writeJSON(w, http.StatusOK, map[string]any{"message": "Invalid credentials"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  "at-1",
		"refresh_token": "rt-1",
		"expires_in":    3600,
		"user":          map[string]any{"id": 7, "email": r.FormValue("email"), "name": "Field Agent"},
	})
}

func (f *fakeServer) submit(w http.ResponseWriter, r *http.Request) {
	require.NoError(f.t, r.ParseMultipartForm(1<<20))

	fields := map[string]string{}
	for k, v := range r.MultipartForm.Value {
		fields[k] = v[0]
	}

	f.mu.Lock()
	f.submitted = append(f.submitted, fields)
	code := f.submitCode
	f.mu.Unlock()

	if code != 0 {
		writeJSON(w, code, map[string]any{"message": "case_status is invalid"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": "submitted"})
}

func (f *fakeServer) upload(w http.ResponseWriter, r *http.Request) {
	require.NoError(f.t, r.ParseMultipartForm(1<<20))

	fields := map[string]string{}
	for k, v := range r.MultipartForm.Value {
		fields[k] = v[0]
	}

	f.mu.Lock()
	f.uploads = append(f.uploads, fields)
	f.uploadN = append(f.uploadN, len(r.MultipartForm.File["files[]"]))
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"image_ids": []int{501}})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// cliEnv runs commands against one data directory and backend.
type cliEnv struct {
	t       *testing.T
	dataDir string
	cfgPath string
	server  *fakeServer
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	t.Setenv("FIELDSYNC_CONFIG", "")
	t.Setenv("FIELDSYNC_DATA_DIR", "")
	t.Setenv("FIELDSYNC_API_URL", "")
	t.Setenv("FIELDSYNC_LOG_LEVEL", "")

	dir := t.TempDir()

	return &cliEnv{
		t:       t,
		dataDir: filepath.Join(dir, "data"),
		cfgPath: filepath.Join(dir, "config.toml"),
		server:  newFakeServer(t),
	}
}

type cliResult struct {
	stdout string
	stderr string
	err    error
}

func (e *cliEnv) run(stdin string, args ...string) cliResult {
	e.t.Helper()

	base := []string{"--config", e.cfgPath, "--data-dir", e.dataDir, "--api-url", e.server.baseURL(), "-q"}

	var stdout, stderr bytes.Buffer

	cmd := newRootCmd()
	cmd.SetArgs(append(base, args...))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))

	executed, err := cmd.ExecuteC()
	if executed != nil && executed.Context() != nil {
		if cc, ok := cliContextFrom(executed.Context()); ok {
			cc.Close()
		}
	}

	return cliResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func (e *cliEnv) mustRun(args ...string) string {
	e.t.Helper()

	res := e.run("", args...)
	require.NoError(e.t, res.err, "fieldsync %v\nstderr: %s", args, res.stderr)

	return res.stdout
}

func (e *cliEnv) login() {
	e.t.Helper()
	e.mustRun("login", "--email", "agent@example.com", "--password", "secret")
}

const completeForm = `{
	"case_status": "positive",
	"additional_remark": "met applicant at home",
	"residential_details": {"met_person_name": "Ravi Kumar"}
}`

func TestCLI_LoginWhoamiLogout(t *testing.T) {
	env := newCLIEnv(t)

	res := env.run("wrong\n", "login", "--email", "agent@example.com")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "Invalid credentials")

	res = env.run("secret\n", "login", "--email", "agent@example.com")
	require.NoError(t, res.err, res.stderr)

	out := env.mustRun("--json", "whoami")

	var who whoamiOutput
	require.NoError(t, json.Unmarshal([]byte(out), &who))
	assert.Equal(t, "7", who.ID)
	assert.Equal(t, "agent@example.com", who.Email)
	assert.Equal(t, "Field Agent", who.Name)

	info, err := os.Stat(filepath.Join(env.dataDir, "token.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	env.mustRun("logout")
	assert.Equal(t, 1, env.server.logouts)

	res = env.run("", "whoami")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "not logged in")
}

func TestCLI_CasesAreCachedForOffline(t *testing.T) {
	env := newCLIEnv(t)

	res := env.run("", "cases")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "not logged in")

	env.login()

	var online casesOutput
	require.NoError(t, json.Unmarshal([]byte(env.mustRun("--json", "cases")), &online))
	assert.Equal(t, "server", online.Source)
	require.Len(t, online.Cases, 2)
	assert.Equal(t, "11", online.Cases[0].ID)
	assert.Equal(t, "Ravi Kumar", online.Cases[0].Applicant)
	assert.Equal(t, "RV", online.Cases[0].FLType)

	var offline casesOutput
	require.NoError(t, json.Unmarshal([]byte(env.mustRun("--json", "cases", "--offline")), &offline))
	assert.Equal(t, "cache", offline.Source)
	assert.Equal(t, online.Cases, offline.Cases)

	text := env.mustRun("cases")
	assert.Contains(t, text, "APPLICANT")
	assert.Contains(t, text, "Ravi Kumar")
}

func TestCLI_CompletedPerDate(t *testing.T) {
	env := newCLIEnv(t)
	env.login()

	res := env.run("", "completed", "--date", "16/10/2026")
	require.Error(t, res.err)

	var out casesOutput
	require.NoError(t, json.Unmarshal([]byte(env.mustRun("--json", "completed", "--date", "2026-10-16")), &out))
	require.Len(t, out.Cases, 1)
	assert.Equal(t, "Completed", out.Cases[0].Status)
	assert.Equal(t, "2026-10-16", out.Cases[0].Submitted)

	res = env.run("", "completed", "--offline", "--date", "2026-10-15")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "no cached completed list")
}

func TestCLI_DraftToSync(t *testing.T) {
	env := newCLIEnv(t)
	env.login()

	key := strings.TrimSpace(env.mustRun("draft", "new", "--case-id", "C-11", "--type", "rv", "--bank", "HDFC"))
	assert.Equal(t, "C-11", key)

	res := env.run("", "draft", "step", key, "remark_submit")
	require.Error(t, res.err, "steps before remark_submit are incomplete")
	assert.Contains(t, res.err.Error(), "case_status")

	require.NoError(t, env.run(completeForm, "draft", "form", key, "-").err)

	photo := filepath.Join(t.TempDir(), "front.jpg")
	require.NoError(t, os.WriteFile(photo, []byte("jpeg bytes"), 0o600))
	require.NoError(t, os.WriteFile(photo+".json",
		[]byte(`{"latitude": 28.6139, "longitude": 77.209, "address": "Connaught Place", "captured_at": "2026-10-16T09:30:00Z"}`), 0o600))

	env.mustRun("draft", "add-image", key, photo)

	steps := env.mustRun("draft", "step", key)
	assert.Contains(t, steps, "* details")

	env.mustRun("draft", "step", key, "remark_submit")

	var shown struct {
		Metadata struct {
			CurrentStep string `json:"current_step"`
			Status      string `json:"status"`
		} `json:"metadata"`
		Images []struct {
			Latitude *float64 `json:"latitude"`
			Synced   bool     `json:"synced"`
		} `json:"images"`
	}
	require.NoError(t, json.Unmarshal([]byte(env.mustRun("--json", "draft", "show", key)), &shown))
	assert.Equal(t, "remark_submit", shown.Metadata.CurrentStep)
	assert.Equal(t, "DRAFTED", shown.Metadata.Status)
	require.Len(t, shown.Images, 1)
	assert.InDelta(t, 28.6139, *shown.Images[0].Latitude, 1e-9)

	var report syncOutput
	require.NoError(t, json.Unmarshal([]byte(env.mustRun("--json", "sync")), &report))
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 0, report.Failed)
	require.Len(t, report.Synced, 1)
	assert.Equal(t, "C-11", report.Synced[0].CaseID)
	assert.Equal(t, 1, report.Synced[0].ImagesUploaded)

	require.Len(t, env.server.submitted, 1)
	assert.Equal(t, "C-11", env.server.submitted[0]["case_id"])
	assert.Equal(t, "positive", env.server.submitted[0]["case_status"])

	require.Len(t, env.server.uploads, 1)
	assert.Equal(t, "C-11", env.server.uploads[0]["case_id"])
	assert.Equal(t, 1, env.server.uploadN[0])

	assert.Equal(t, "[]\n", env.mustRun("--json", "draft", "list", "--all"))

	_, err := os.Stat(filepath.Join(env.dataDir, "fieldsync.pid"))
	assert.True(t, os.IsNotExist(err), "pid file removed after sync")
}

func TestCLI_SyncFailureKeepsDraft(t *testing.T) {
	env := newCLIEnv(t)
	env.login()
	env.server.submitCode = http.StatusUnprocessableEntity

	key := strings.TrimSpace(env.mustRun("draft", "new", "--type", "rv"))
	require.NotEmpty(t, key)
	require.NoError(t, env.run(completeForm, "draft", "form", key, "-").err)

	res := env.run("", "sync")
	require.ErrorIs(t, res.err, errSilentFailure)
	assert.Contains(t, res.stdout, "FAILED")
	assert.Contains(t, res.stdout, "case_status is invalid")

	var cases []struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		LastError string `json:"last_error"`
	}
	require.NoError(t, json.Unmarshal([]byte(env.mustRun("--json", "draft", "list", "--all")), &cases))
	require.Len(t, cases, 1)
	assert.Equal(t, key, cases[0].ID)
	assert.Equal(t, "FAILED", cases[0].Status)
	assert.Contains(t, cases[0].LastError, "case_status is invalid")

	env.server.submitCode = 0

	out := env.mustRun("sync", key)
	assert.Contains(t, out, "1 synced, 0 failed")
}

func TestCLI_DraftImagesAndRemove(t *testing.T) {
	env := newCLIEnv(t)

	key := strings.TrimSpace(env.mustRun("draft", "new"))

	photo := filepath.Join(t.TempDir(), "shop.jpg")
	require.NoError(t, os.WriteFile(photo, []byte("jpeg"), 0o600))

	var added struct {
		ImageID  int64  `json:"image_id"`
		FilePath string `json:"file_path"`
	}
	require.NoError(t, json.Unmarshal([]byte(env.mustRun("--json", "draft", "add-image", key, photo,
		"--lat", "19.07", "--lng", "72.87", "--source", "gallery")), &added))
	require.NotZero(t, added.ImageID)
	assert.True(t, strings.HasPrefix(added.FilePath, env.dataDir))

	res := env.run("", "draft", "add-image", key, photo, "--source", "scanner")
	require.Error(t, res.err)

	res = env.run("", "draft", "rm-image", key, "999")
	require.Error(t, res.err)

	env.mustRun("draft", "rm-image", key, "1")

	_, err := os.Stat(added.FilePath)
	assert.True(t, os.IsNotExist(err))

	env.mustRun("draft", "rm", key)

	res = env.run("", "draft", "show", key)
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "not found")
}

func TestCLI_StatusOffline(t *testing.T) {
	env := newCLIEnv(t)

	env.mustRun("draft", "new", "--case-id", "C-1")
	env.mustRun("draft", "new", "--case-id", "C-2")

	var st statusOutput
	require.NoError(t, json.Unmarshal([]byte(env.mustRun("--json", "status")), &st))
	assert.Equal(t, tokenStateMissing, st.Account.TokenState)
	assert.Equal(t, 2, st.Cases.ByStatus["DRAFTED"])
	assert.False(t, st.Daemon.Running)
	assert.Equal(t, env.dataDir, st.DataDir)

	text := env.mustRun("status")
	assert.Contains(t, text, "not logged in")
	assert.Contains(t, text, "DRAFTED")
}

func TestCLI_ConfigInitAndShow(t *testing.T) {
	env := newCLIEnv(t)

	env.mustRun("config", "init", "--base-url", "https://backend.example.com/api/")

	res := env.run("", "config", "init")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "already exists")

	var cfg configOutput
	require.NoError(t, json.Unmarshal([]byte(env.mustRun("--json", "config", "show")), &cfg))
	assert.Equal(t, env.cfgPath, cfg.ConfigPath)
	assert.Equal(t, env.server.baseURL(), cfg.BaseURL, "--api-url wins over the file")
	assert.Equal(t, env.dataDir, cfg.DataDir)
	assert.Equal(t, "error", cfg.LogLevel, "-q maps to error")
	assert.Equal(t, filepath.Join(env.dataDir, "intake"), cfg.WatchDir)

	require.NoError(t, os.WriteFile(env.cfgPath, []byte("[sync]\npoll_intervl = \"5m\"\n"), 0o600))

	res = env.run("", "config", "show")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "poll_interval")
}

func TestCLI_CaptureWatchOnce(t *testing.T) {
	env := newCLIEnv(t)

	key := strings.TrimSpace(env.mustRun("draft", "new", "--case-id", "C-5"))

	intake := filepath.Join(t.TempDir(), "intake")
	require.NoError(t, os.MkdirAll(intake, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(intake, "a.jpg"), []byte("a"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(intake, "notes.txt"), []byte("x"), 0o600))

	env.mustRun("capture", "watch", "--case", key, "--dir", intake, "--once")

	_, err := os.Stat(filepath.Join(intake, "a.jpg"))
	assert.True(t, os.IsNotExist(err), "intake copy removed")

	var shown struct {
		Images []json.RawMessage `json:"images"`
	}
	require.NoError(t, json.Unmarshal([]byte(env.mustRun("--json", "draft", "show", key)), &shown))
	assert.Len(t, shown.Images, 1)

	res := env.run("", "capture", "watch", "--case", "nope", "--dir", intake, "--once")
	require.Error(t, res.err)
}

func TestCLI_CaptureStamp(t *testing.T) {
	env := newCLIEnv(t)

	photo := filepath.Join(t.TempDir(), "p.jpg")
	require.NoError(t, os.WriteFile(photo, []byte("x"), 0o600))

	assert.Empty(t, env.mustRun("capture", "stamp", photo))

	require.NoError(t, os.WriteFile(photo+".json",
		[]byte(`{"latitude": 12.5, "longitude": 77.25, "captured_at": "2026-10-16T09:30:00Z"}`), 0o600))

	out := env.mustRun("capture", "stamp", photo)
	assert.Equal(t, "Lat: 12.500000\nLng: 77.250000\nTime: 2026-10-16T09:30:00.000Z\n", out)
}
