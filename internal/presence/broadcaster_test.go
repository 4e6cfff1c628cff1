package presence

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
)

func TestUserOnlineNotifiesRoomPeersOnce(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	sender := new(mocks.SenderMock)
	b := NewBroadcaster(rooms, sender, nil, nil, nil)

	// User 1 shares room 10 with users 2 and 3, and room 11 with user 2 again.
	rooms.On("RoomsForUser", mock.Anything, int64(1)).Return([]models.Room{{ID: 10}, {ID: 11}}, nil).Once()
	rooms.On("Members", mock.Anything, int64(10)).Return([]models.Member{
		{RoomID: 10, UserID: 1}, {RoomID: 10, UserID: 2}, {RoomID: 10, UserID: 3},
	}, nil).Once()
	rooms.On("Members", mock.Anything, int64(11)).Return([]models.Member{
		{RoomID: 11, UserID: 1}, {RoomID: 11, UserID: 2},
	}, nil).Once()

	sender.On("Send", int64(2), mock.Anything).Return(true).Once()
	sender.On("Send", int64(3), mock.Anything).Return(true).Once()

	b.UserOnline(1)

	rooms.AssertExpectations(t)
	// Deduped across rooms and never echoed to the user themselves.
	sender.AssertExpectations(t)
	sender.AssertNotCalled(t, "Send", int64(1), mock.Anything)
}

func TestUserOfflinePayloadCarriesLastSeen(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	sender := new(mocks.SenderMock)
	users := new(mocks.UserRepositoryMock)
	b := NewBroadcaster(rooms, sender, users, nil, nil)

	lastSeen := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	users.On("TouchLastSeen", mock.Anything, int64(1), lastSeen).Return(nil).Once()
	rooms.On("RoomsForUser", mock.Anything, int64(1)).Return([]models.Room{{ID: 10}}, nil).Once()
	rooms.On("Members", mock.Anything, int64(10)).Return([]models.Member{
		{RoomID: 10, UserID: 1}, {RoomID: 10, UserID: 2},
	}, nil).Once()

	var got models.PresenceOut
	sender.On("Send", int64(2), mock.Anything).Run(func(args mock.Arguments) {
		require.NoError(t, json.Unmarshal(args.Get(1).([]byte), &got))
	}).Return(true).Once()

	b.UserOffline(1, lastSeen)

	assert.Equal(t, models.EventPresence, got.Type)
	assert.Equal(t, int64(1), got.UserID)
	assert.Equal(t, models.PresenceOffline, got.State)
	assert.True(t, got.Timestamp.Equal(lastSeen))
	users.AssertExpectations(t)
	sender.AssertExpectations(t)
}

func TestUserOfflineLastSeenFailureStillBroadcasts(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	sender := new(mocks.SenderMock)
	users := new(mocks.UserRepositoryMock)
	b := NewBroadcaster(rooms, sender, users, nil, nil)

	users.On("TouchLastSeen", mock.Anything, int64(1), mock.Anything).Return(assert.AnError).Once()
	rooms.On("RoomsForUser", mock.Anything, int64(1)).Return([]models.Room{{ID: 10}}, nil).Once()
	rooms.On("Members", mock.Anything, int64(10)).Return([]models.Member{
		{RoomID: 10, UserID: 1}, {RoomID: 10, UserID: 2},
	}, nil).Once()
	sender.On("Send", int64(2), mock.Anything).Return(true).Once()

	b.UserOffline(1, time.Now())

	sender.AssertExpectations(t)
}

func TestBroadcastRoomLoadFailure(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	sender := new(mocks.SenderMock)
	b := NewBroadcaster(rooms, sender, nil, nil, nil)

	rooms.On("RoomsForUser", mock.Anything, int64(1)).Return(([]models.Room)(nil), assert.AnError).Once()

	b.UserOnline(1)

	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestBroadcastPublishesEvent(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	sender := new(mocks.SenderMock)
	publisher := new(mocks.PublisherMock)
	b := NewBroadcaster(rooms, sender, nil, nil, publisher)

	rooms.On("RoomsForUser", mock.Anything, int64(1)).Return([]models.Room{}, nil).Once()
	publisher.On("Publish", mock.Anything, "presence.online", mock.Anything).Return(nil).Once()

	b.UserOnline(1)

	publisher.AssertExpectations(t)
}
