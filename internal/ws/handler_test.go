package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/delivery"
	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/router"
)

func newDispatchHandler(rooms *mocks.RoomRepositoryMock, messages *mocks.MessageRepositoryMock) (*Handler, *Registry) {
	registry := NewRegistry()
	tracker := delivery.NewTracker(messages)
	rtr := router.New(rooms, messages, tracker, registry, nil)
	return NewHandler(registry, rtr, nil, nil, 8, 20, 40), registry
}

func drainFrame(t *testing.T, c *Client) map[string]any {
	t.Helper()
	select {
	case payload := <-c.send:
		var frame map[string]any
		require.NoError(t, json.Unmarshal(payload, &frame))
		return frame
	case <-time.After(time.Second):
		t.Fatal("no frame queued")
		return nil
	}
}

func TestDispatchMessageEchoesAssignedID(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	handler, registry := newDispatchHandler(rooms, messages)

	client := NewClient(1, nil, 8, nil)
	registry.Register(client)

	rooms.On("IsMember", mock.Anything, int64(5), int64(1)).Return(true, nil).Once()
	rooms.On("Members", mock.Anything, int64(5)).Return([]models.Member{
		{RoomID: 5, UserID: 1},
	}, nil).Once()
	messages.On("PersistMessageWithDeliveries", mock.Anything, int64(5), int64(1), "hi", []int64{}).
		Return(models.Message{RoomID: 5, Seq: 3, SenderID: 1, Body: "hi"}, nil).Once()

	handler.dispatch(context.Background(), client, models.MessageEvent{RoomID: 5, Body: "hi"})

	frame := drainFrame(t, client)
	assert.Equal(t, models.EventMessage, frame["type"])
	assert.EqualValues(t, 3, frame["message_id"])
	messages.AssertExpectations(t)
}

func TestDispatchMessageNonMemberError(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	handler, registry := newDispatchHandler(rooms, messages)

	client := NewClient(9, nil, 8, nil)
	registry.Register(client)

	rooms.On("IsMember", mock.Anything, int64(5), int64(9)).Return(false, nil).Once()

	handler.dispatch(context.Background(), client, models.MessageEvent{RoomID: 5, Body: "hi"})

	frame := drainFrame(t, client)
	assert.Equal(t, models.EventError, frame["type"])
	assert.Equal(t, "not a room member", frame["error"])
}

func TestDispatchAckInvalidTransitionError(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	handler, registry := newDispatchHandler(rooms, messages)

	client := NewClient(2, nil, 8, nil)
	registry.Register(client)

	handler.dispatch(context.Background(), client, models.AckEvent{RoomID: 5, MessageID: 3, Status: models.StatusSent})

	frame := drainFrame(t, client)
	assert.Equal(t, models.EventError, frame["type"])
	assert.Equal(t, "invalid status transition", frame["error"])
}

func TestDispatchTypingRelaysAndClears(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	handler, registry := newDispatchHandler(rooms, messages)

	typist := NewClient(1, nil, 8, nil)
	peer := NewClient(2, nil, 8, nil)
	registry.Register(typist)
	registry.Register(peer)

	rooms.On("IsMember", mock.Anything, int64(5), int64(1)).Return(true, nil).Twice()
	rooms.On("Members", mock.Anything, int64(5)).Return([]models.Member{
		{RoomID: 5, UserID: 1},
		{RoomID: 5, UserID: 2},
	}, nil).Twice()

	handler.dispatch(context.Background(), typist, models.TypingEvent{RoomID: 5, IsTyping: true})

	frame := drainFrame(t, peer)
	assert.Equal(t, models.EventTyping, frame["type"])
	assert.Equal(t, true, frame["is_typing"])
	assert.EqualValues(t, 1, frame["user_id"])

	// A dropped connection retracts the indicator it left behind.
	handler.clearTyping(context.Background(), typist)

	frame = drainFrame(t, peer)
	assert.Equal(t, models.EventTyping, frame["type"])
	assert.Equal(t, false, frame["is_typing"])
	assert.Empty(t, typist.typing)
	rooms.AssertExpectations(t)
}

func TestDispatchTypingNonMemberError(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	handler, registry := newDispatchHandler(rooms, messages)

	client := NewClient(9, nil, 8, nil)
	registry.Register(client)

	rooms.On("IsMember", mock.Anything, int64(5), int64(9)).Return(false, nil).Once()

	handler.dispatch(context.Background(), client, models.TypingEvent{RoomID: 5, IsTyping: true})

	frame := drainFrame(t, client)
	assert.Equal(t, models.EventError, frame["type"])
	assert.Empty(t, client.typing)
}

func TestBearerTokenSources(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newCtx := func(header, query string) *gin.Context {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		target := "/ws"
		if query != "" {
			target += "?token=" + query
		}
		c.Request = httptest.NewRequest("GET", target, nil)
		if header != "" {
			c.Request.Header.Set("Authorization", header)
		}
		return c
	}

	assert.Equal(t, "abc", bearerToken(newCtx("Bearer abc", "")))
	assert.Equal(t, "abc", bearerToken(newCtx("bearer abc", "")))
	assert.Equal(t, "", bearerToken(newCtx("Basic abc", "")))
	assert.Equal(t, "qry", bearerToken(newCtx("", "qry")))
	assert.Equal(t, "", bearerToken(newCtx("", "")))
}
