package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"insightxr/internal/auth"
	"insightxr/internal/pipeline"
	"insightxr/internal/processing"
	"insightxr/internal/storage"
)

const testSecret = "api-test-secret"

var mp4Payload = append([]byte("\x00\x00\x00\x18ftypisom\x00\x00\x02\x00isomiso2avc1mp41"), bytes.Repeat([]byte{0}, 64)...)

type testEnv struct {
	router *gin.Engine
	store  *storage.Memory
	token  string
}

func newProcessingStub(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/process_supabase_file":
			if strings.Contains(body["fileName"], "-fail") {
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "Object not found"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"transcription": "hello world"})
		case "/summarize":
			_ = json.NewEncoder(w).Encode(map[string]string{"summary": "Greeting."})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setupRouter(t *testing.T) testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := storage.NewMemory("https://cdn.example.org/objects")
	proc := processing.New(newProcessingStub(t).URL, 5*time.Second)
	namer := pipeline.NewNamer(nil)
	sessions := pipeline.NewSessions(func(string) *pipeline.Orchestrator {
		return pipeline.New(store, proc, pipeline.Options{
			Bucket:            "user_videos",
			AllowedExtensions: []string{".mp4", ".mp3"},
			MaxUploadBytes:    1 << 20,
			Namer:             namer,
		})
	})
	verifier, err := auth.NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}

	testRouter := gin.New()
	testRouter.Use(PrometheusMiddleware())
	NewAPI(sessions, verifier, 1<<20).RegisterRoutes(testRouter)
	return testEnv{router: testRouter, store: store, token: signToken(t, "user-1")}
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func (e testEnv) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	var resp map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal response %q: %v", w.Body.String(), err)
		}
	}
	return w, resp
}

func uploadRequest(t *testing.T, fileName string, payload []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
	h.Set("Content-Type", "video/mp4")
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/asset", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestPipelineOverHTTP(t *testing.T) {
	env := setupRouter(t)

	w, resp := env.do(t, uploadRequest(t, "clip.mp4", mp4Payload))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}
	if resp["stage"] != "uploaded" || !strings.HasSuffix(resp["object_name"].(string), "-clip.mp4") {
		t.Fatalf("unexpected submit response: %v", resp)
	}
	original := resp["object_name"].(string)

	w, resp = env.do(t, jsonRequest("/api/v1/asset/transcription", ""))
	if w.Code != http.StatusOK || resp["transcript"] != "hello world" || resp["stage"] != "transcribed" {
		t.Fatalf("unexpected transcription response %d: %v", w.Code, resp)
	}

	w, resp = env.do(t, jsonRequest("/api/v1/asset/summary", ""))
	if w.Code != http.StatusOK || resp["summary"] != "Greeting." || resp["stage"] != "summarized" {
		t.Fatalf("unexpected summary response %d: %v", w.Code, resp)
	}

	w, resp = env.do(t, jsonRequest("/api/v1/asset/rename", `{"name":"final"}`))
	if w.Code != http.StatusOK || resp["object_name"] != "final.mp3" {
		t.Fatalf("unexpected rename response %d: %v", w.Code, resp)
	}
	if resp["public_url"] != "https://cdn.example.org/objects/user_videos/final.mp3" {
		t.Fatalf("unexpected public url: %v", resp["public_url"])
	}
	if _, ok := resp["warning"]; ok {
		t.Fatalf("unexpected warning: %v", resp["warning"])
	}
	if env.store.Exists("user_videos", original) {
		t.Fatalf("original object should be gone")
	}

	w, resp = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/asset", nil))
	if w.Code != http.StatusOK || resp["object_name"] != "final.mp3" || resp["summary"] != "Greeting." {
		t.Fatalf("unexpected projection %d: %v", w.Code, resp)
	}
}

func TestErrorMapping(t *testing.T) {
	env := setupRouter(t)

	w, resp := env.do(t, jsonRequest("/api/v1/asset/transcription", ""))
	if w.Code != http.StatusBadRequest || resp["kind"] != "validation" {
		t.Fatalf("expected 400 validation, got %d: %v", w.Code, resp)
	}

	w, resp = env.do(t, jsonRequest("/api/v1/asset/summary", `{"text":""}`))
	if w.Code != http.StatusBadRequest || resp["error"] != "no input text to summarize" {
		t.Fatalf("expected no input text, got %d: %v", w.Code, resp)
	}

	w, _ = env.do(t, jsonRequest("/api/v1/asset/rename", `{"name":"x"}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for rename without asset, got %d", w.Code)
	}

	w, resp = env.do(t, uploadRequest(t, "notes.txt", []byte("plain text")))
	if w.Code != http.StatusBadRequest || resp["kind"] != "validation" {
		t.Fatalf("expected 400 for unsupported media, got %d: %v", w.Code, resp)
	}

	w, _ = env.do(t, uploadRequest(t, "fail.mp4", mp4Payload))
	if w.Code != http.StatusCreated {
		t.Fatalf("submit: %d", w.Code)
	}
	w, resp = env.do(t, jsonRequest("/api/v1/asset/transcription", ""))
	if w.Code != http.StatusBadGateway || resp["kind"] != "remote" {
		t.Fatalf("expected 502 remote, got %d: %v", w.Code, resp)
	}
	a := resp["asset"].(map[string]any)
	if a["stage"] != "failed" || a["last_error"] != "Object not found" {
		t.Fatalf("unexpected asset in error: %v", a)
	}
}

func TestSubmitRequiresFile(t *testing.T) {
	env := setupRouter(t)
	w, _ := env.do(t, jsonRequest("/api/v1/asset", `{}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestRoutesRequireBearer(t *testing.T) {
	env := setupRouter(t)
	env.token = ""
	w, _ := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/asset", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	w, resp := env.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || resp["status"] != "ok" {
		t.Fatalf("healthz: %d %v", w.Code, resp)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	env := setupRouter(t)
	if w, _ := env.do(t, uploadRequest(t, "clip.mp4", mp4Payload)); w.Code != http.StatusCreated {
		t.Fatalf("submit: %d", w.Code)
	}

	env.token = signToken(t, "user-2")
	w, resp := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/asset", nil))
	if w.Code != http.StatusOK || resp["stage"] != "idle" {
		t.Fatalf("other user must see an idle asset, got %d %v", w.Code, resp)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupRouter(t)
	env.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "insightxr_http_requests_total") {
		t.Fatalf("metrics not exposed: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `method="GET",route="/healthz",status="200"`) {
		t.Fatalf("expected separate method and route labels, got:\n%s", w.Body.String())
	}
}

func TestServeLocalObject(t *testing.T) {
	gin.SetMode(gin.TestMode)
	local, err := storage.NewLocal(t.TempDir(), "")
	if err != nil {
		t.Fatalf("local: %v", err)
	}
	if _, err := local.Upload(t.Context(), "user_videos", "1-clip.mp4", bytes.NewReader(mp4Payload), int64(len(mp4Payload)), "video/mp4"); err != nil {
		t.Fatalf("upload: %v", err)
	}
	verifier, _ := auth.NewVerifier(testSecret)
	a := NewAPI(pipeline.NewSessions(nil), verifier, 0)
	a.UseObjectOpener(local)
	r := gin.New()
	a.RegisterRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/objects/user_videos/1-clip.mp4", nil))
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "video/mp4" || !bytes.Equal(w.Body.Bytes(), mp4Payload) {
		t.Fatalf("unexpected object response %d %q", w.Code, w.Header().Get("Content-Type"))
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/objects/user_videos/missing.mp4", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
