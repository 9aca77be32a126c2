package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"livepoll/internal/api"
	"livepoll/internal/coordinator"
	"livepoll/internal/database"
	"livepoll/internal/websocket"
	dbconfig "livepoll/pkg/database"
	"livepoll/pkg/types"
)

const (
	// one poll second in these tests
	timeUnit = 20 * time.Millisecond
	// 25 units expire in 500ms; 3000 units outlast any test
	shortLimit = 25
	longLimit  = 3000

	waitFor = 3 * time.Second
)

func init() {
	gin.SetMode(gin.TestMode)
}

// classroom is the full server stack on an httptest listener: websocket
// transport, coordinator, SQLite archive and the HTTP API.
type classroom struct {
	t           *testing.T
	url         string
	coordinator *coordinator.Coordinator
	archive     *database.Manager
}

func newClassroom(t *testing.T) *classroom {
	t.Helper()

	dbConfig := dbconfig.DefaultConfig()
	dbConfig.DatabasePath = filepath.Join(t.TempDir(), "livepoll.db")
	dbConfig.WriteRetryDelay = 10 * time.Millisecond
	archive, err := database.NewManager(dbConfig, nil)
	require.NoError(t, err)

	registry := websocket.NewRegistry()
	coord := coordinator.New(registry,
		coordinator.WithRules(types.PollRules{
			AllowedTimeLimits:       []int{shortLimit, longLimit},
			DefaultTimeLimitSeconds: longLimit,
			MaxQuestionLength:       100,
			MinOptions:              2,
		}),
		coordinator.WithTimeUnit(timeUnit),
		coordinator.WithChatRateLimit(5),
		coordinator.WithResultSinks(archive),
	)
	require.NoError(t, coord.Start(context.Background()))

	handler := websocket.NewHandler(registry, coord, websocket.DefaultSettings(), nil)
	server := httptest.NewServer(api.NewServer(coord, registry, http.HandlerFunc(handler.HandleWebSocket), api.WithArchive(archive)))

	t.Cleanup(func() {
		server.CloseClientConnections()
		server.Close()
		registry.CloseAll()
		_ = coord.Stop()
		_ = archive.Close()
	})

	return &classroom{t: t, url: server.URL, coordinator: coord, archive: archive}
}

func (c *classroom) connect(name string) *testClient {
	c.t.Helper()
	client, err := connectClient(context.Background(), c.url, name)
	require.NoError(c.t, err)
	c.t.Cleanup(client.close)
	return client
}

// teacher connects and joins as a teacher, returning once the roster snapshot
// has arrived.
func (c *classroom) teacher() *testClient {
	c.t.Helper()
	client := c.connect("teacher")
	require.NoError(c.t, client.send(types.EventTeacherJoin, nil))
	_, err := client.receive(types.EventPollHistory, waitFor)
	require.NoError(c.t, err)
	return client
}

// student joins under name and returns once the teacher has seen the join,
// which is when the student starts counting toward the poll total.
func (c *classroom) student(teacher *testClient, name string) (*testClient, types.Participant) {
	c.t.Helper()
	client := c.connect(name)
	require.NoError(c.t, client.send(types.EventStudentJoin, map[string]string{"name": name}))

	for {
		msg, err := teacher.receive(types.EventStudentJoined, waitFor)
		require.NoError(c.t, err)
		var p types.Participant
		require.NoError(c.t, msg.decode(&p))
		if p.DisplayName == name {
			return client, p
		}
	}
}

func createPoll(t *testing.T, teacher *testClient, question string, timeLimit int, options ...string) {
	t.Helper()
	opts := make([]map[string]interface{}, len(options))
	for i, text := range options {
		opts[i] = map[string]interface{}{"text": text, "isCorrect": i == 0}
	}
	require.NoError(t, teacher.send(types.EventPollCreate, map[string]interface{}{
		"question":  question,
		"options":   opts,
		"timeLimit": timeLimit,
	}))
}

func receiveResult(t *testing.T, client *testClient) types.PollResult {
	t.Helper()
	msg, err := client.receive(types.EventPollResults, waitFor)
	require.NoError(t, err)
	var result types.PollResult
	require.NoError(t, msg.decode(&result))
	return result
}

func mustCurrentQuestion(t *testing.T, room *classroom) string {
	t.Helper()
	poll, ok := room.coordinator.CurrentPoll()
	require.True(t, ok, "expected an active poll")
	return poll.Question
}
