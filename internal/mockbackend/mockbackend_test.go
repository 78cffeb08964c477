package internal_mockbackend

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interviewx/client/config"
	internal_codec "github.com/interviewx/client/internal/audio/codec"
	internal_persistence "github.com/interviewx/client/internal/persistence"
	internal_transport "github.com/interviewx/client/internal/transport"
	internal_type "github.com/interviewx/client/internal/type"
	backend_client "github.com/interviewx/client/pkg/clients/backend"
	"github.com/interviewx/client/pkg/commons"
	"github.com/interviewx/client/pkg/storages"
	"github.com/interviewx/client/pkg/types"
	"github.com/interviewx/client/pkg/utils"
)

const strongAnswer = "First, I led the team that designed the caching layer. " +
	"Second, we implemented a redis cluster and improved latency by 40 percent. " +
	"For example, the checkout project achieved 99.9 uptime. " +
	"Finally, I learned that teamwork and communication matter."

func testLogger(t *testing.T) commons.Logger {
	t.Helper()
	logger, err := commons.NewApplicationLogger(commons.Level("error"))
	require.NoError(t, err)
	return logger
}

func descriptor() internal_type.SessionDescriptor {
	return internal_type.SessionDescriptor{
		ID: "S",
		Questions: []internal_type.Question{
			{ID: "q1", Prompt: "Describe a cache you built", Kind: internal_type.QuestionTechnical, TimeBudgetSeconds: 120, AcceptsText: true, Keywords: []string{"caching", "redis", "latency"}},
			{ID: "q2", Prompt: "Tell us about yourself", Kind: internal_type.QuestionIntroduction, TimeBudgetSeconds: 60, AcceptsText: true, AcceptsAudio: true},
		},
	}
}

type fixture struct {
	server *Server
	http   *httptest.Server
	token  string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	logger := testLogger(t)
	store := internal_persistence.NewMemoryAdapter(logger)
	require.NoError(t, store.Seed(descriptor()))
	server := New(logger, store, append([]Option{WithSecret([]byte("test-secret"))}, opts...)...)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	token, err := server.IssueToken("candidate")
	require.NoError(t, err)
	return &fixture{server: server, http: srv, token: token}
}

func (f *fixture) client(t *testing.T, token string, opts ...backend_client.Option) (internal_type.Persistence, *internal_persistence.CredentialStore) {
	t.Helper()
	creds := internal_persistence.NewCredentialStore(storages.NewMemoryStorage())
	require.NoError(t, creds.SetToken(context.Background(), token))
	return backend_client.NewBackendClient(config.BackendConfig{BaseURL: f.http.URL, RequestTimeoutMs: 2000}, testLogger(t), creds, opts...), creds
}

func (f *fixture) wsURL() string {
	return "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
}

func pcm(sample int16, n int) []byte {
	out := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(sample))
	}
	return out
}

func TestScoreText_Empty(t *testing.T) {
	score := ScoreText("   ", []string{"redis"})
	assert.Zero(t, score.Overall)
	assert.Equal(t, []string{"redis"}, score.Missing)
	assert.Equal(t, "No answer was given.", score.Feedback)
}

func TestScoreText_ShortInformal(t *testing.T) {
	score := ScoreText("yeah", nil)
	assert.InDelta(t, 2, score.Relevance, 0.01)
	assert.InDelta(t, 40, score.Clarity, 0.01)
	assert.InDelta(t, 20, score.TechnicalAccuracy, 0.01)
	assert.InDelta(t, 40, score.Depth, 0.01)
	assert.InDelta(t, 22.7, score.Overall, 0.01)
	assert.Contains(t, score.Feedback, "concrete example")
}

func TestScoreText_Strong(t *testing.T) {
	score := ScoreText(strongAnswer, []string{"caching", "Redis", "latency"})
	assert.Equal(t, []string{"caching", "Redis", "latency"}, score.Covered)
	assert.Empty(t, score.Missing)
	assert.InDelta(t, 100, score.Relevance, 0.01)
	assert.InDelta(t, 100, score.Clarity, 0.01)
	assert.InDelta(t, 84, score.Depth, 0.01)
	assert.GreaterOrEqual(t, score.Overall, internal_type.TextPassThreshold)
	assert.Equal(t, "Clear, well-structured answer.", score.Feedback)
}

func TestScoreText_MissingKeywords(t *testing.T) {
	score := ScoreText("We used a cache.", []string{"redis", "cache"})
	assert.Equal(t, []string{"cache"}, score.Covered)
	assert.Equal(t, []string{"redis"}, score.Missing)
	assert.InDelta(t, 50, score.Relevance, 0.01)
	assert.Contains(t, score.Feedback, "Consider covering: redis.")
}

func TestScoreAudio(t *testing.T) {
	tests := []struct {
		name string
		blob []byte
		want float64
	}{
		{"empty", nil, 0},
		{"silence", internal_codec.WAV(pcm(0, 1600), 16000, 1), 40},
		{"steady speech level", internal_codec.WAV(pcm(16384, 1600), 16000, 1), 100},
		{"bare pcm", pcm(-16384, 1600), 100},
		{"clipped", internal_codec.WAV(pcm(32767, 1600), 16000, 1), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ScoreAudio(tt.blob), 0.01)
		})
	}
}

func TestServer_RestRoundTrip(t *testing.T) {
	f := newFixture(t)
	client, _ := f.client(t, f.token)
	ctx := context.Background()

	d, err := client.GetSession(ctx, "S")
	require.NoError(t, err)
	assert.Equal(t, descriptor(), *d)

	require.NoError(t, client.UpdateSession(ctx, "S", internal_type.SessionUpdate{Status: internal_type.SessionInProgress, CurrentIndex: 1}))
	state, ok := f.server.Store().SessionState("S")
	require.True(t, ok)
	assert.Equal(t, 1, state.CurrentIndex)

	require.NoError(t, client.SaveDraft(ctx, "S", "q1", internal_type.Draft{Text: "wip"}))
	draft, ok := f.server.Store().Draft("S", "q1")
	require.True(t, ok)
	assert.Equal(t, "wip", draft.Text)

	blob := internal_codec.WAV(pcm(1000, 160), 16000, 1)
	ref, err := client.UploadMedia(ctx, internal_type.MediaAudio, blob)
	require.NoError(t, err)
	kind, stored, ok := f.server.Store().Media(ref.Ref)
	require.True(t, ok)
	assert.Equal(t, internal_type.MediaAudio, kind)
	assert.Equal(t, blob, stored)

	answer := internal_type.Answer{QuestionID: "q1", Kind: internal_type.AnswerText, Text: strongAnswer, TimeSpentSeconds: 30}
	receipt, err := client.SubmitAnswer(ctx, "S", answer)
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.AnswerID)
	_, err = client.SubmitAnswer(ctx, "S", answer)
	assert.ErrorIs(t, err, types.ErrConflict)

	_, err = client.SubmitAnswer(ctx, "S", internal_type.Answer{QuestionID: "nope", Text: "x"})
	assert.ErrorIs(t, err, types.ErrValidation)

	require.NoError(t, client.FinalizeSubmission(ctx, "S", internal_type.Summary{SessionID: "S", Status: internal_type.SessionCompleted, Answered: 1}))
	summary := f.server.Store().Summary("S")
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary.Answered)
	assert.ErrorIs(t, client.FinalizeSubmission(ctx, "S", internal_type.Summary{SessionID: "S"}), types.ErrConflict)

	_, err = client.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestServer_RejectsMissingOrForgedCredential(t *testing.T) {
	f := newFixture(t)
	for _, header := range []string{"", "Bearer ", "Bearer not-a-jwt", "Token " + f.token} {
		req, err := http.NewRequest(http.MethodGet, f.http.URL+"/api/sessions/S", nil)
		require.NoError(t, err)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, header)
	}

	other := New(testLogger(t), internal_persistence.NewMemoryAdapter(testLogger(t)), WithSecret([]byte("other")))
	forged, err := other.IssueToken("candidate")
	require.NoError(t, err)
	client, _ := f.client(t, forged)
	_, err = client.GetSession(context.Background(), "S")
	assert.ErrorIs(t, err, types.ErrUnauthorized)
}

func TestServer_ExpiredCredentialIsRefreshed(t *testing.T) {
	clock := utils.NewManualClock(time.Unix(1700000000, 0))
	f := newFixture(t, WithClock(clock), WithTokenTTL(time.Minute))
	clock.Advance(2 * time.Minute)

	client, creds := f.client(t, f.token, backend_client.WithClock(clock))
	_, err := client.GetSession(context.Background(), "S")
	require.NoError(t, err)

	fresh, err := creds.Token(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, f.token, fresh)
}

func TestServer_UploadValidation(t *testing.T) {
	f := newFixture(t)
	req, err := http.NewRequest(http.MethodPost, f.http.URL+"/api/media", strings.NewReader("kind=podcast"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+f.token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "validation", body.Error)
}

func dialRaw(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+f.token)
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL(), header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) (internal_type.Message, map[string]interface{}) {
	t.Helper()
	var msg internal_type.Message
	require.NoError(t, conn.ReadJSON(&msg))
	payload := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	return msg, payload
}

func TestStream_RejectsUnauthenticatedHandshake(t *testing.T) {
	f := newFixture(t)
	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL(), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStream_HeartbeatAndMalformedFrames(t *testing.T) {
	f := newFixture(t)
	conn := dialRaw(t, f)

	require.NoError(t, conn.WriteJSON(internal_type.Message{Kind: internal_type.KindHeartbeat, Payload: json.RawMessage(`{"timestamp":1}`), ID: "h1"}))
	msg, payload := readFrame(t, conn)
	assert.Equal(t, internal_type.KindHeartbeat, msg.Kind)
	assert.Contains(t, payload, "server_time")
	assert.NotEmpty(t, msg.ID)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	msg, payload = readFrame(t, conn)
	assert.Equal(t, internal_type.KindError, msg.Kind)
	assert.Equal(t, "parse-error", payload["kind"])

	require.NoError(t, conn.WriteJSON(internal_type.Message{Kind: "bogus:kind", Payload: json.RawMessage(`{}`)}))
	msg, payload = readFrame(t, conn)
	assert.Equal(t, internal_type.KindError, msg.Kind)
	assert.Equal(t, "protocol-error", payload["kind"])
	assert.Contains(t, payload["message"], "bogus:kind")
}

func TestStream_AnsweredAndStartEvents(t *testing.T) {
	f := newFixture(t)
	conn := dialRaw(t, f)

	for i := 0; i < 2; i++ {
		require.NoError(t, conn.WriteJSON(internal_type.Message{Kind: internal_type.KindAudioChunk, Payload: json.RawMessage(`{"question_id":"q1","sequence":1}`)}))
	}
	require.NoError(t, conn.WriteJSON(internal_type.Message{Kind: internal_type.KindInterviewStart, Payload: json.RawMessage(`{"session_id":"S"}`)}))
	msg, _ := readFrame(t, conn)
	assert.Equal(t, internal_type.KindNotification, msg.Kind)
	assert.Equal(t, 2, f.server.ChunkCount("q1"))

	answered, err := json.Marshal(map[string]interface{}{
		"session_id": "S", "question_id": "q1", "answer_id": "a1", "answer": strongAnswer, "answer_kind": "text",
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(internal_type.Message{Kind: internal_type.KindQuestionAnswered, Payload: answered}))
	msg, payload := readFrame(t, conn)
	require.Equal(t, internal_type.KindEvaluationComplete, msg.Kind)
	assert.Equal(t, "q1", payload["question_id"])
	assert.Equal(t, true, payload["passed"])
	assert.Equal(t, []interface{}{"caching", "redis", "latency"}, payload["keyword_coverage"])
	assert.Contains(t, payload["breakdown"], "technical_accuracy")

	require.NoError(t, conn.WriteJSON(internal_type.Message{Kind: internal_type.KindTextStart, Payload: json.RawMessage(`{"question_id":"q1","artifact_ref":"a1"}`)}))
	msg, payload = readFrame(t, conn)
	assert.Equal(t, internal_type.KindTextProgress, msg.Kind)
	assert.EqualValues(t, 50, payload["progress"])
	msg, payload = readFrame(t, conn)
	assert.Equal(t, internal_type.KindTextResult, msg.Kind)
	assert.Equal(t, true, payload["passed"])

	require.NoError(t, conn.WriteJSON(internal_type.Message{Kind: internal_type.KindAudioStart, Payload: json.RawMessage(`{"question_id":"q1","artifact_ref":"audio-missing"}`)}))
	msg, _ = readFrame(t, conn)
	assert.Equal(t, internal_type.KindAudioProgress, msg.Kind)
	msg, payload = readFrame(t, conn)
	assert.Equal(t, internal_type.KindError, msg.Kind)
	assert.Equal(t, "not-found", payload["kind"])
	assert.Equal(t, "q1", payload["question_id"])

	assert.Equal(t, []internal_type.MessageKind{
		internal_type.KindInterviewStart, internal_type.KindQuestionAnswered,
		internal_type.KindTextStart, internal_type.KindAudioStart,
	}, f.server.EventKinds())
}

func TestStream_TransportClientReceivesAudioResult(t *testing.T) {
	f := newFixture(t)
	ref, err := f.server.Store().UploadMedia(context.Background(), internal_type.MediaAudio, internal_codec.WAV(pcm(2000, 1600), 16000, 1))
	require.NoError(t, err)

	client := internal_transport.NewClient(testLogger(t), config.TransportConfig{
		HeartbeatIntervalMs:  30000,
		ConnectTimeoutMs:     2000,
		PingTimeoutMs:        5000,
		RetryDelays:          []int{1000},
		MaxReconnectAttempts: 0,
		MaxQueueSize:         16,
	}, f.wsURL())
	t.Cleanup(func() { _ = client.Release() })

	results := make(chan internal_type.Message, 1)
	client.Subscribe(internal_type.KindAudioResult, func(m internal_type.Message) { results <- m })
	require.NoError(t, client.Connect(context.Background(), f.token))

	assert.True(t, client.Send(internal_type.KindAudioStart, map[string]interface{}{"question_id": "q2", "artifact_ref": ref.Ref}))
	select {
	case m := <-results:
		var res internal_type.AudioResult
		require.NoError(t, json.Unmarshal(m.Payload, &res))
		assert.True(t, res.Passed)
		assert.InDelta(t, 40+60*2000/3276.7, res.Quality, 0.1)
	case <-time.After(5 * time.Second):
		t.Fatal("no audio result")
	}
}
