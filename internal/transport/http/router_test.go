package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"training-sync-service/internal/app"
	"training-sync-service/internal/auth"
	"training-sync-service/internal/content"
	"training-sync-service/internal/domain"
	"training-sync-service/internal/infra/memory"
	"training-sync-service/internal/store"
)

func TestSessionLifecycle(t *testing.T) {
	handler := newTestHandler(t)

	created := createSession(t, handler, `{"initialState":{"currentModule":0,"currentStep":0,"completedModules":[],"visibleSections":["intro"],"lastModified":1000}}`)
	if created.Code != "AB12CD" || created.State.LastModified != 1000 {
		t.Fatalf("unexpected create response %+v", created)
	}

	body := `{"state":{"currentModule":0,"currentStep":1,"completedModules":[],"visibleSections":["intro","intro-2"],"lastModified":2000}}`
	recorder := doRequest(handler, http.MethodPut, "/sessions/ab12cd", body, map[string]string{"Authorization": "Bearer " + created.HostToken})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 on replace, got %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = doRequest(handler, http.MethodGet, "/sessions/AB12CD", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 on get, got %d", recorder.Code)
	}
	var session domain.Session
	if err := json.Unmarshal(recorder.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if session.State.CurrentStep != 1 || session.State.LastModified != 2000 {
		t.Fatalf("unexpected stored state %+v", session.State)
	}
}

func TestReplaceWithoutHostTokenIsForbidden(t *testing.T) {
	handler := newTestHandler(t)
	createSession(t, handler, `{}`)

	body := `{"state":{"currentModule":3,"currentStep":0,"lastModified":9999999999999}}`
	recorder := doRequest(handler, http.MethodPut, "/sessions/AB12CD", body, nil)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}

	recorder = doRequest(handler, http.MethodGet, "/sessions/AB12CD", "", nil)
	var session domain.Session
	if err := json.Unmarshal(recorder.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if session.State.CurrentModule != 0 {
		t.Fatalf("state changed by forbidden call: %+v", session.State)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	handler := newTestHandler(t)
	recorder := doRequest(handler, http.MethodGet, "/sessions/QQQQQQ", "", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestMalformedBodyIsTreatedAsEmpty(t *testing.T) {
	handler := newTestHandler(t)

	recorder := doRequest(handler, http.MethodPost, "/sessions", `{not json`, nil)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected create to tolerate malformed body, got %d", recorder.Code)
	}

	recorder = doRequest(handler, http.MethodPost, "/sessions/AB12CD/participants", `garbage`, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for participant without id, got %d", recorder.Code)
	}
}

func TestParticipantsScoresAndPresence(t *testing.T) {
	handler := newTestHandler(t)
	createSession(t, handler, `{}`)

	recorder := doRequest(handler, http.MethodPost, "/sessions/AB12CD/participants", `{"id":"p1","name":"Ana","isHost":false}`, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("register: %d %s", recorder.Code, recorder.Body.String())
	}
	recorder = doRequest(handler, http.MethodPost, "/sessions/AB12CD/participants", `{"id":"p1","name":"Ana B"}`, nil)
	var roster struct {
		Participants []domain.Participant `json:"participants"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &roster); err != nil {
		t.Fatalf("decode roster: %v", err)
	}
	if len(roster.Participants) != 1 || roster.Participants[0].Name != "Ana B" {
		t.Fatalf("expected one refreshed record, got %+v", roster.Participants)
	}

	score := `{"participantId":"p1","participantName":"Ana","activity":"Quiz 1","score":%d,"total":5,"type":"quiz","timestamp":1}`
	doRequest(handler, http.MethodPost, "/sessions/AB12CD/scores", strings.Replace(score, "%d", "2", 1), nil)
	doRequest(handler, http.MethodPost, "/sessions/AB12CD/scores", strings.Replace(score, "%d", "4", 1), nil)

	recorder = doRequest(handler, http.MethodGet, "/sessions/AB12CD/scores", "", nil)
	var ledger struct {
		Scores []domain.ScoreEntry `json:"scores"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &ledger); err != nil {
		t.Fatalf("decode scores: %v", err)
	}
	if len(ledger.Scores) != 1 || ledger.Scores[0].Score != 4 {
		t.Fatalf("expected replaced score, got %+v", ledger.Scores)
	}

	recorder = doRequest(handler, http.MethodGet, "/sessions/AB12CD/presence", "", nil)
	if recorder.Code != http.StatusOK || !strings.Contains(recorder.Body.String(), `"active":1`) {
		t.Fatalf("unexpected presence response %d %s", recorder.Code, recorder.Body.String())
	}

	recorder = doRequest(handler, http.MethodDelete, "/sessions/AB12CD/participants/p1", "", nil)
	if recorder.Code != http.StatusOK || !strings.Contains(recorder.Body.String(), `"participants":[]`) {
		t.Fatalf("unexpected delete response %d %s", recorder.Code, recorder.Body.String())
	}
}

func TestClearStoreWithoutDurableReportsReason(t *testing.T) {
	handler := newTestHandler(t)

	recorder := doRequest(handler, http.MethodPost, "/admin/clear-store", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without admin password, got %d", recorder.Code)
	}

	recorder = doRequest(handler, http.MethodPost, "/admin/clear-store", "", map[string]string{HeaderAdminPassword: "admin"})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), domain.ErrDurableNotConfigured.Error()) {
		t.Fatalf("expected reason in body, got %s", recorder.Body.String())
	}
}

func TestContentAppliesSessionOverrides(t *testing.T) {
	handler := newTestHandler(t)
	createSession(t, handler, `{"initialState":{"visibleSections":["intro"],"lastModified":1,"customContent":{"title":"Session privée"}}}`)

	recorder := doRequest(handler, http.MethodGet, "/content?code=ab12cd", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var doc content.Content
	if err := json.Unmarshal(recorder.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode content: %v", err)
	}
	if doc.Title != "Session privée" || len(doc.Modules) != len(content.Default().Modules) {
		t.Fatalf("unexpected content %+v", doc.Title)
	}
}

func TestStreamPushesReplacedState(t *testing.T) {
	handler := newTestHandler(t)
	created := createSession(t, handler, `{}`)

	server := httptest.NewServer(handler)
	defer server.Close()

	u := "ws" + server.URL[len("http"):] + "/sessions/AB12CD/stream"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	first := readState(t, conn)
	if first.LastModified != created.State.LastModified {
		t.Fatalf("expected initial state first, got %+v", first)
	}

	next := created.State.Clone()
	next.CurrentStep = 1
	next.LastModified++
	payload, _ := json.Marshal(map[string]any{"state": next})
	recorder := doRequest(handler, http.MethodPut, "/sessions/AB12CD", string(payload), map[string]string{"Authorization": "Bearer " + created.HostToken})
	if recorder.Code != http.StatusOK {
		t.Fatalf("replace failed: %d", recorder.Code)
	}

	pushed := readState(t, conn)
	if pushed.CurrentStep != 1 {
		t.Fatalf("expected pushed step 1, got %d", pushed.CurrentStep)
	}
}

func readState(t *testing.T, conn *websocket.Conn) domain.PresentationState {
	t.Helper()
	var msg outboundMessage[domain.PresentationState]
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if msg.Type != "state" {
		t.Fatalf("expected state frame, got %s", msg.Type)
	}
	return msg.Payload
}

func createSession(t *testing.T, handler http.Handler, body string) app.Created {
	t.Helper()
	recorder := doRequest(handler, http.MethodPost, "/sessions", body, nil)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var created app.Created
	if err := json.Unmarshal(recorder.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create: %v", err)
	}
	return created
}

func doRequest(handler http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	request.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		request.Header.Set(k, v)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sessions, err := store.New(store.Config{
		Memory:  memory.NewSessionStore(),
		NewCode: func() (string, error) { return "AB12CD", nil },
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	tokens, err := auth.NewHostTokens(auth.HostTokensConfig{SigningSecret: []byte("secret")})
	if err != nil {
		t.Fatalf("new host tokens: %v", err)
	}
	service, err := app.NewSessionService(app.Dependencies{
		Store:         sessions,
		Content:       memory.NewContentRepository(memory.NewStaticLoader(map[string]content.Content{content.DefaultID: content.Default()}), time.Minute),
		Authority:     tokens,
		AdminPassword: auth.NewPasswordGate("admin", ""),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(service.Close)

	handler, err := NewHTTPHandler(Dependencies{Service: service})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler
}
