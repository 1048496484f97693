// Copyright (C) 2025 FRC Team 3322
// Licensed under the MIT License. See LICENSE for details.

package partserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frc3322/Aerie-Part-Management/pkg/config"
	"github.com/frc3322/Aerie-Part-Management/pkg/logging"
	"github.com/frc3322/Aerie-Part-Management/store"
)

const testAPIKey = "team-secret-key"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type testServer struct {
	*Server
	cfg   *config.Config
	store *store.Store
}

// newTestServer assembles a full server over a temp-dir database.
// mutate tweaks the config before assembly.
func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	dir := t.TempDir()

	dbPath := filepath.Join(dir, "parts.db")
	s, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cfg := &config.Config{
		SecretKey:         testAPIKey,
		Env:               "development",
		Port:              5000,
		DatabaseURL:       "sqlite:///parts.db",
		DatabasePath:      dbPath,
		CORSOrigins:       []string{"http://localhost:5000"},
		UploadFolder:      filepath.Join(dir, "uploads"),
		AllowedExtensions: []string{"step", "stp", "pdf"},
		BackupDir:         filepath.Join(dir, "backups"),
		BaseDir:           dir,
	}
	if mutate != nil {
		mutate(cfg)
	}

	srv, err := New(Options{Config: cfg, Store: s, Log: logging.Default()})
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, cfg: cfg, store: s}
}

// do runs one request through the engine with the API key attached.
func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-Key", testAPIKey)
	w := httptest.NewRecorder()
	ts.Engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

func validPart(number string) gin.H {
	return gin.H{
		"part_number":        number,
		"name":               "Drive gearbox plate",
		"material":           "7075 aluminum",
		"material_thickness": "1/4 in",
		"quantity":           2,
	}
}

func TestHealthNoAuth(t *testing.T) {
	ts := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	ts.Engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestMetricsNoAuth(t *testing.T) {
	ts := newTestServer(t, nil)

	// Drive one request through the middleware so the counter has a
	// sample to export.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	ts.Engine.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	ts.Engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "aerie_http_requests_total")
}

func TestPartsRequireAPIKey(t *testing.T) {
	ts := newTestServer(t, nil)

	t.Run("missing key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/parts", nil)
		w := httptest.NewRecorder()
		ts.Engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/parts", nil)
		req.Header.Set("X-API-Key", "wrong")
		w := httptest.NewRecorder()
		ts.Engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("bearer form works", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/parts", nil)
		req.Header.Set("Authorization", "Bearer "+testAPIKey)
		w := httptest.NewRecorder()
		ts.Engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestCreatePart(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/parts", validPart("3322-0001"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode[map[string]any](t, w)
	assert.Equal(t, "3322-0001", resp["part_number"])
	assert.Equal(t, "design", resp["status"])
	assert.EqualValues(t, 2, resp["quantity"])
}

func TestCreatePartValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	t.Run("bad part number", func(t *testing.T) {
		body := validPart("not a part number")
		w := ts.do(t, http.MethodPost, "/api/parts", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		resp := decode[map[string]any](t, w)
		assert.Equal(t, "PartNumber", resp["field"])
	})

	t.Run("missing name", func(t *testing.T) {
		body := validPart("3322-0002")
		delete(body, "name")
		w := ts.do(t, http.MethodPost, "/api/parts", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("bad status", func(t *testing.T) {
		body := validPart("3322-0003")
		body["status"] = "lost"
		w := ts.do(t, http.MethodPost, "/api/parts", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCreatePartDuplicate(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/parts", validPart("3322-0001"))
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(t, http.MethodPost, "/api/parts", validPart("3322-0001"))
	assert.Equal(t, http.StatusConflict, w.Code)
	resp := decode[map[string]any](t, w)
	assert.Equal(t, "part_number", resp["field"])
}

func TestListPartsFilters(t *testing.T) {
	ts := newTestServer(t, nil)

	first := validPart("3322-0001")
	first["name"] = "Gearbox plate"
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/parts", first).Code)

	second := validPart("3322-0002")
	second["name"] = "Intake roller"
	second["status"] = "machining"
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/parts", second).Code)

	t.Run("all", func(t *testing.T) {
		resp := decode[map[string]any](t, ts.do(t, http.MethodGet, "/api/parts", nil))
		assert.EqualValues(t, 2, resp["count"])
	})

	t.Run("by status", func(t *testing.T) {
		resp := decode[map[string]any](t, ts.do(t, http.MethodGet, "/api/parts?status=machining", nil))
		assert.EqualValues(t, 1, resp["count"])
	})

	t.Run("by search", func(t *testing.T) {
		resp := decode[map[string]any](t, ts.do(t, http.MethodGet, "/api/parts?search=roller", nil))
		assert.EqualValues(t, 1, resp["count"])
	})
}

func TestGetUpdateDeletePart(t *testing.T) {
	ts := newTestServer(t, nil)

	created := decode[map[string]any](t,
		ts.do(t, http.MethodPost, "/api/parts", validPart("3322-0001")))
	id := int64(created["id"].(float64))

	w := ts.do(t, http.MethodGet, fmt.Sprintf("/api/parts/%d", id), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodPut, fmt.Sprintf("/api/parts/%d", id),
		gin.H{"status": "machining", "quantity": 4})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[map[string]any](t, w)
	assert.Equal(t, "machining", updated["status"])
	assert.EqualValues(t, 4, updated["quantity"])
	// Untouched fields survive a partial update.
	assert.Equal(t, "Drive gearbox plate", updated["name"])

	w = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/parts/%d", id), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/api/parts/%d", id), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPartNotFoundAndBadID(t *testing.T) {
	ts := newTestServer(t, nil)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/parts/4242", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/parts/abc", nil).Code)
}

// uploadDrawing posts a multipart body to the drawing endpoint.
func (ts *testServer) uploadDrawing(t *testing.T, partID int64, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/parts/%d/drawing", partID), &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-API-Key", testAPIKey)
	w := httptest.NewRecorder()
	ts.Engine.ServeHTTP(w, req)
	return w
}

func TestUploadAndDownloadDrawing(t *testing.T) {
	ts := newTestServer(t, nil)

	created := decode[map[string]any](t,
		ts.do(t, http.MethodPost, "/api/parts", validPart("3322-0001")))
	id := int64(created["id"].(float64))

	w := ts.uploadDrawing(t, id, "plate.pdf", []byte("%PDF-1.7 plate"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[map[string]any](t, w)
	drawingFile := resp["drawing_file"].(string)
	assert.Contains(t, drawingFile, "3322-0001_")

	// The file landed in the upload folder.
	_, err := os.Stat(filepath.Join(ts.cfg.UploadFolder, drawingFile))
	require.NoError(t, err)

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/api/parts/%d/drawing", id), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "%PDF-1.7 plate", w.Body.String())
}

func TestUploadDrawingRejectsExtensionAndSize(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.MaxFileSize = 10
	})

	created := decode[map[string]any](t,
		ts.do(t, http.MethodPost, "/api/parts", validPart("3322-0001")))
	id := int64(created["id"].(float64))

	t.Run("bad extension", func(t *testing.T) {
		w := ts.uploadDrawing(t, id, "malware.exe", []byte("x"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		resp := decode[map[string]any](t, w)
		assert.Equal(t, "file", resp["field"])
	})

	t.Run("too large", func(t *testing.T) {
		w := ts.uploadDrawing(t, id, "plate.pdf", bytes.Repeat([]byte("a"), 64))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestDownloadDrawingMissing(t *testing.T) {
	ts := newTestServer(t, nil)

	created := decode[map[string]any](t,
		ts.do(t, http.MethodPost, "/api/parts", validPart("3322-0001")))
	id := int64(created["id"].(float64))

	w := ts.do(t, http.MethodGet, fmt.Sprintf("/api/parts/%d/drawing", id), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBackupEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/backups/force", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodGet, "/api/backups/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[map[string]any](t, w)
	assert.Equal(t, true, status["exists"])
	assert.EqualValues(t, 1, status["count"])
}

func TestBasePathPrefix(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.BasePath = "/aerie"
	})

	req := httptest.NewRequest(http.MethodGet, "/aerie/health", nil)
	w := httptest.NewRecorder()
	ts.Engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	w = httptest.NewRecorder()
	ts.Engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDevelopmentModeWithoutSecretAllowsRequests(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.SecretKey = ""
	})

	req := httptest.NewRequest(http.MethodGet, "/api/parts", nil)
	w := httptest.NewRecorder()
	ts.Engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/parts", nil)
	req.Header.Set("Origin", "http://localhost:5000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	ts.Engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestOnshapeStatusDisconnected(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/api/onshape/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[map[string]any](t, w)
	assert.Equal(t, false, resp["connected"])
}

func TestOnshapeConnectUnconfigured(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/api/onshape/connect", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestOnshapeCallbackErrorParamRedirects(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/onshape/callback?error=access_denied", nil)
	w := httptest.NewRecorder()
	ts.Engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "access_denied", loc.Query().Get("onshape_error"))
}

func TestOnshapeOAuthFlow(t *testing.T) {
	// Fake Onshape: token endpoint plus sessioninfo.
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"access-1","refresh_token":"refresh-1","token_type":"Bearer","expires_in":3600}`))
		case "/api/users/sessioninfo":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":"u1","email":"cad@frc3322.org","name":"CAD Lead"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer fake.Close()

	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.OnshapeOAuthClientID = "client-id"
		cfg.OnshapeOAuthClientSecret = "client-secret"
		cfg.OnshapeOAuthRedirectURI = "http://localhost:5000/api/onshape/callback"
		cfg.OnshapeOAuthBaseURL = fake.URL
		cfg.OnshapeAPIBaseURL = fake.URL
	})

	// 1. connect hands back an authorization URL carrying our state.
	w := ts.do(t, http.MethodGet, "/api/onshape/connect", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	connect := decode[map[string]string](t, w)
	authURL, err := url.Parse(connect["authorization_url"])
	require.NoError(t, err)
	state := authURL.Query().Get("state")
	require.NotEmpty(t, state)

	// 2. callback with that state finishes the flow and redirects home.
	cb := "/api/onshape/callback?code=the-code&state=" + url.QueryEscape(state)
	req := httptest.NewRequest(http.MethodGet, cb, nil)
	rec := httptest.NewRecorder()
	ts.Engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	assert.Equal(t, "/?onshape_connected=true", rec.Header().Get("Location"))

	// 3. status now reports the connected user.
	w = ts.do(t, http.MethodGet, "/api/onshape/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status struct {
		Connected bool `json:"connected"`
		User      struct {
			Email string `json:"email"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.Connected)
	assert.Equal(t, "cad@frc3322.org", status.User.Email)

	// 4. disconnect drops the session.
	w = ts.do(t, http.MethodPost, "/api/onshape/disconnect", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/api/onshape/status", nil)
	resp := decode[map[string]any](t, w)
	assert.Equal(t, false, resp["connected"])
}

func TestOnshapeCallbackInvalidState(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.OnshapeOAuthClientID = "client-id"
		cfg.OnshapeOAuthClientSecret = "client-secret"
		cfg.OnshapeOAuthRedirectURI = "http://localhost:5000/api/onshape/callback"
	})

	req := httptest.NewRequest(http.MethodGet, "/api/onshape/callback?code=c&state=forged", nil)
	w := httptest.NewRecorder()
	ts.Engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestImportDrawingWithoutCredentials(t *testing.T) {
	ts := newTestServer(t, nil)

	created := decode[map[string]any](t,
		ts.do(t, http.MethodPost, "/api/parts", validPart("3322-0001")))
	id := int64(created["id"].(float64))

	w := ts.do(t, http.MethodPost, fmt.Sprintf("/api/parts/%d/drawing/import", id),
		gin.H{"drawing_url": "https://cad.onshape.com/documents/a1b2c3d4e5f60718293a4b5c/w/b2c3d4e5f60718293a4b5c6d/e/c3d4e5f60718293a4b5c6d7e"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestImportDrawingBadURL(t *testing.T) {
	ts := newTestServer(t, nil)

	created := decode[map[string]any](t,
		ts.do(t, http.MethodPost, "/api/parts", validPart("3322-0001")))
	id := int64(created["id"].(float64))

	w := ts.do(t, http.MethodPost, fmt.Sprintf("/api/parts/%d/drawing/import", id),
		gin.H{"drawing_url": "https://example.com/not-a-drawing"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode[map[string]any](t, w)
	assert.Equal(t, "drawing_url", resp["field"])
}
