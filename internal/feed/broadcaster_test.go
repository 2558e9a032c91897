package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/secretgame/internal/api/response"
	"github.com/mcoot/secretgame/internal/dependencies/mocks"
	"github.com/mcoot/secretgame/internal/model"
	"github.com/mcoot/secretgame/internal/services/playerstore"
	"github.com/mcoot/secretgame/internal/storage/memory"
	"github.com/mcoot/secretgame/internal/testutil"
)

type BroadcasterSuite struct {
	suite.Suite
	players *playerstore.Store
	hub     *Hub
	stop    func()
	ctx     context.Context
}

func TestBroadcasterSuite(t *testing.T) {
	suite.Run(t, new(BroadcasterSuite))
}

func (s *BroadcasterSuite) SetupTest() {
	s.ctx = context.Background()
	clk := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.players = playerstore.New(memory.New(clk), clk, testutil.NopLogger(), playerstore.DefaultConfig())

	_, err := s.players.Upsert(s.ctx, "bob", model.PlayerUpdate{Username: model.Ptr("Bob"), Secret: model.Ptr("Ninja")})
	s.Require().NoError(err)

	s.hub = NewHub(testutil.NopLogger())
	go s.hub.Run()

	stop, err := NewBroadcaster(s.players, s.hub, testutil.NopLogger()).Start(s.ctx)
	s.Require().NoError(err)
	s.stop = stop
}

func (s *BroadcasterSuite) TearDownTest() {
	s.stop()
	s.players.Close()
	s.hub.Close()
}

func (s *BroadcasterSuite) decode(event Event) response.Snapshot {
	s.Equal(EventPlayers, event.Name)
	var snapshot response.Snapshot
	s.Require().NoError(json.Unmarshal(event.Data, &snapshot))
	return snapshot
}

func (s *BroadcasterSuite) TestInitialSnapshotHidesSecrets() {
	client := NewClient("alice", "sse")
	s.Require().True(s.hub.Register(client))

	snapshot := s.decode(receive(s.T(), client))
	s.Require().Len(snapshot.Players, 1)
	s.True(snapshot.Players[0].HasSecret)
	s.Nil(snapshot.Players[0].Secret)
	s.NotContains(string(mustMarshal(snapshot)), "Ninja")
}

func (s *BroadcasterSuite) TestChangesArePublished() {
	client := NewClient("alice", "sse")
	s.Require().True(s.hub.Register(client))
	receive(s.T(), client)

	_, err := s.players.ChangePoints(s.ctx, "bob", 3)
	s.Require().NoError(err)

	snapshot := s.decode(receive(s.T(), client))
	s.Require().NotNil(snapshot.Changed)
	s.Equal("bob", snapshot.Changed.ID)
	s.Equal(8, snapshot.Changed.Points)
}

func (s *BroadcasterSuite) TestServeSSE() {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeSSE(w, r, s.hub, "alice")
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	s.Require().NoError(err)

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal("text/event-stream", resp.Header.Get("Content-Type"))

	var events []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() && len(events) < 2 {
		if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
			events = append(events, name)
		}
	}
	s.Equal([]string{"connected", EventPlayers}, events)
}

func (s *BroadcasterSuite) TestServeWS() {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(w, r, s.hub, "alice")
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err)
	defer conn.Close()

	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(5 * time.Second)))

	var env Envelope
	s.Require().NoError(conn.ReadJSON(&env))
	s.Equal(EventPlayers, env.Type)

	_, err = s.players.ChangePoints(s.ctx, "bob", 1)
	s.Require().NoError(err)

	s.Require().NoError(conn.ReadJSON(&env))
	var snapshot response.Snapshot
	s.Require().NoError(json.Unmarshal(env.Payload, &snapshot))
	s.Require().NotNil(snapshot.Changed)
	s.Equal(6, snapshot.Changed.Points)
}

func mustMarshal(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
