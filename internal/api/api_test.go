package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/arji-ai/arji/internal/extract"
	extractmock "github.com/arji-ai/arji/internal/extract/mock"
	"github.com/arji-ai/arji/internal/formfill"
	"github.com/arji-ai/arji/internal/health"
	"github.com/arji-ai/arji/internal/schema"
	"github.com/arji-ai/arji/internal/session"
	browsermock "github.com/arji-ai/arji/pkg/browser/mock"
	sttmock "github.com/arji-ai/arji/pkg/provider/stt/mock"
)

func newTestRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.New(
		[]schema.QuestionGroup{
			{
				Title:   "Identity",
				Fields:  []string{"name", "gender"},
				Prompts: []string{"What is your name?", "What is your gender?"},
			},
			{
				Title:   "Location",
				Fields:  []string{"state"},
				Prompts: []string{"Which state do you live in?"},
			},
		},
		[]schema.FieldSpec{
			{Name: "name", Type: schema.TypeString, Required: true, Selector: "#name", Control: schema.ControlText},
			{Name: "gender", Type: schema.TypeEnum, Required: true, Options: []string{"Male", "Female", "Others"}, Selector: "#gender", Control: schema.ControlSelect},
			{Name: "state", Type: schema.TypeString, Required: true, Selector: "#state", Control: schema.ControlText},
		},
	)
	if err != nil {
		t.Fatalf("schema.New() error: %v", err)
	}
	return reg
}

type testEnv struct {
	server    *httptest.Server
	machine   *session.Machine
	extractor *extractmock.Extractor
	stt       *sttmock.Provider
	browser   *browsermock.Source
}

func newTestEnv(t *testing.T, ex *extractmock.Extractor) *testEnv {
	t.Helper()

	reg := newTestRegistry(t)
	sttProv := &sttmock.Provider{Text: "spoken answer"}
	machine := session.NewMachine(session.NewMemStore(), reg, ex, sttProv)

	src := &browsermock.Source{Automator: &browsermock.Automator{}}
	engine := formfill.NewEngine(machine, reg, src, "http://forms.example/apply")

	srv := New(machine, engine, health.New(health.Ping("browser", src)))
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, machine: machine, extractor: ex, stt: sttProv, browser: src}
}

// do issues a request against the test server and decodes the JSON body into
// out when it is non-nil.
func (e *testEnv) do(t *testing.T, method, path string, body any, out any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp
}

// startSession creates a session over HTTP and returns its id.
func (e *testEnv) startSession(t *testing.T) string {
	t.Helper()
	var body struct {
		Session struct {
			ID string `json:"id"`
		} `json:"session"`
		Questions struct {
			GroupIndex int    `json:"group_index"`
			Title      string `json:"title"`
		} `json:"questions"`
	}
	resp := e.do(t, http.MethodPost, "/session/start", nil, &body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	if body.Session.ID == "" {
		t.Fatal("start returned empty session id")
	}
	if body.Questions.Title != "Identity" {
		t.Fatalf("first group title = %q, want Identity", body.Questions.Title)
	}
	return body.Session.ID
}

func completeExtractor() *extractmock.Extractor {
	return &extractmock.Extractor{Results: []extract.Result{
		{
			"name":   {Value: "Asha", Confidence: 0.95},
			"gender": {Value: "female", Confidence: 0.9},
		},
		{
			"state": {Value: "Kerala", Confidence: 0.9},
		},
	}}
}

// completeSession drives a session to a fully confirmed record over HTTP.
func (e *testEnv) completeSession(t *testing.T) string {
	t.Helper()
	id := e.startSession(t)
	for _, text := range []string{"My name is Asha, female", "I live in Kerala"} {
		resp := e.do(t, http.MethodPost, "/session/"+id+"/text", textRequest{Text: text}, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("submit %q status = %d", text, resp.StatusCode)
		}
	}
	return id
}

func TestServer_Conversation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, completeExtractor())

	id := env.startSession(t)

	var res struct {
		Merge struct {
			Updated []string `json:"updated"`
		} `json:"merge"`
		GroupIndex int    `json:"group_index"`
		Status     string `json:"status"`
	}
	resp := env.do(t, http.MethodPost, "/session/"+id+"/text", textRequest{Text: "Asha, female"}, &res)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}
	if len(res.Merge.Updated) != 2 {
		t.Errorf("updated = %v, want name and gender", res.Merge.Updated)
	}
	if res.GroupIndex != 1 {
		t.Errorf("group index = %d, want 1", res.GroupIndex)
	}

	env.do(t, http.MethodPost, "/session/"+id+"/text", textRequest{Text: "Kerala"}, &res)
	if res.Status != string(session.StatusCompleted) {
		t.Errorf("status = %q, want completed", res.Status)
	}

	var data struct {
		Record     map[string]string `json:"record"`
		Completion float64           `json:"completion"`
	}
	env.do(t, http.MethodGet, "/session/"+id+"/data", nil, &data)
	if data.Record["gender"] != "Female" {
		t.Errorf("gender = %q, want canonical Female", data.Record["gender"])
	}
	if data.Completion != 100 {
		t.Errorf("completion = %v, want 100", data.Completion)
	}
}

func TestServer_SubmitText_BadRequests(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &extractmock.Extractor{})
	id := env.startSession(t)

	resp := env.do(t, http.MethodPost, "/session/"+id+"/text", textRequest{Text: "   "}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("blank text status = %d, want 400", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/session/"+id+"/text", strings.NewReader("{not json"))
	raw, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Body.Close()
	if raw.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", raw.StatusCode)
	}
}

func TestServer_SubmitAudio(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, completeExtractor())
	id := env.startSession(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("audio", "answer.wav")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("RIFF-fake-wav"))
	mw.Close()

	req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/session/"+id+"/audio", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("audio submit status = %d", resp.StatusCode)
	}
	var res struct {
		Transcript string `json:"transcript"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.Transcript != "spoken answer" {
		t.Errorf("transcript = %q", res.Transcript)
	}
	if len(env.stt.Calls) != 1 || env.stt.Calls[0].Format != "wav" {
		t.Errorf("stt calls = %+v, want one wav call", env.stt.Calls)
	}
}

func TestServer_SubmitAudio_MissingFile(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &extractmock.Extractor{})
	id := env.startSession(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("format", "wav")
	mw.Close()

	req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/session/"+id+"/audio", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestServer_SkipRequiredGroup(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &extractmock.Extractor{})
	id := env.startSession(t)

	var body errorBody
	resp := env.do(t, http.MethodPost, "/session/"+id+"/skip", nil, &body)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("skip status = %d, want 422", resp.StatusCode)
	}
	if body.Error == "" {
		t.Error("error body missing message")
	}
}

func TestServer_UnknownSession(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &extractmock.Extractor{})

	for _, path := range []string{"/session/nope", "/session/nope/questions", "/session/nope/data"} {
		resp := env.do(t, http.MethodGet, path, nil, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, resp.StatusCode)
		}
	}

	resp := env.do(t, http.MethodDelete, "/session/nope", nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete unknown status = %d, want 204", resp.StatusCode)
	}
}

func TestServer_ExtractionFailureIsRetryable(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &extractmock.Extractor{Err: errors.New("model unavailable")})
	id := env.startSession(t)

	var body errorBody
	resp := env.do(t, http.MethodPost, "/session/"+id+"/text", textRequest{Text: "Asha"}, &body)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	if !body.Retryable {
		t.Error("retryable = false, want true")
	}
}

func TestServer_FillFlow(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, completeExtractor())
	id := env.completeSession(t)

	var preview struct {
		Ready  bool `json:"ready"`
		Fields []struct {
			Field string `json:"field"`
			Value string `json:"value"`
		} `json:"fields"`
	}
	resp := env.do(t, http.MethodGet, "/form/"+id+"/preview", nil, &preview)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("preview status = %d", resp.StatusCode)
	}
	if !preview.Ready {
		t.Fatal("preview not ready after completed conversation")
	}

	resp = env.do(t, http.MethodPost, "/form/"+id+"/fill", nil, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("fill status = %d, want 202", resp.StatusCode)
	}

	var job struct {
		Status string `json:"status"`
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		env.do(t, http.MethodGet, "/form/"+id+"/status", nil, &job)
		if formfill.JobStatus(job.Status).Terminal() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job stuck in %q", job.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if job.Status != string(formfill.StatusSucceeded) {
		t.Fatalf("job status = %q, want succeeded", job.Status)
	}

	applied := env.browser.Automator.Applied()
	if applied["#name"] != "Asha" || applied["#gender"] != "Female" || applied["#state"] != "Kerala" {
		t.Errorf("applied = %v", applied)
	}

	shot := env.do(t, http.MethodGet, "/form/"+id+"/screenshot", nil, nil)
	if shot.StatusCode != http.StatusOK {
		t.Errorf("screenshot status = %d", shot.StatusCode)
	}
	if ct := shot.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("screenshot content type = %q", ct)
	}
}

func TestServer_Fill_IncompleteRecord(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &extractmock.Extractor{})
	id := env.startSession(t)

	resp := env.do(t, http.MethodPost, "/form/"+id+"/fill", nil, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("fill status = %d, want 409", resp.StatusCode)
	}
}

func TestServer_FillStatus_Unknown(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &extractmock.Extractor{})
	id := env.startSession(t)

	resp := env.do(t, http.MethodGet, "/form/"+id+"/status", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	resp = env.do(t, http.MethodGet, "/form/"+id+"/screenshot", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("screenshot status = %d, want 404", resp.StatusCode)
	}
}

func TestServer_HealthAndMetrics(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &extractmock.Extractor{})

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp := env.do(t, http.MethodGet, path, nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestServer_GetSession(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, completeExtractor())
	id := env.startSession(t)

	sess, err := env.machine.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}

	var got struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	resp := env.do(t, http.MethodGet, "/session/"+id, nil, &got)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got.ID != sess.ID || got.Status != string(sess.Status) {
		t.Errorf("got %+v, want id %s status %s", got, sess.ID, sess.Status)
	}
}
