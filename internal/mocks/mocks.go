package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"messaging-service/internal/models"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
)

type RoomRepositoryMock struct {
	mock.Mock
}

func (m *RoomRepositoryMock) CreateGroupRoom(ctx context.Context, creatorID int64, name string, memberIDs []int64) (models.Room, error) {
	args := m.Called(ctx, creatorID, name, memberIDs)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) GetOrCreateDirectRoom(ctx context.Context, userA, userB int64) (models.Room, error) {
	args := m.Called(ctx, userA, userB)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) GetRoom(ctx context.Context, roomID int64) (models.Room, error) {
	args := m.Called(ctx, roomID)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) RoomsForUser(ctx context.Context, userID int64) ([]models.Room, error) {
	args := m.Called(ctx, userID)
	var rooms []models.Room
	if val := args.Get(0); val != nil {
		rooms = val.([]models.Room)
	}
	return rooms, args.Error(1)
}

func (m *RoomRepositoryMock) Members(ctx context.Context, roomID int64) ([]models.Member, error) {
	args := m.Called(ctx, roomID)
	var members []models.Member
	if val := args.Get(0); val != nil {
		members = val.([]models.Member)
	}
	return members, args.Error(1)
}

func (m *RoomRepositoryMock) IsMember(ctx context.Context, roomID, userID int64) (bool, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *RoomRepositoryMock) Role(ctx context.Context, roomID, userID int64) (models.Role, error) {
	args := m.Called(ctx, roomID, userID)
	var role models.Role
	if val := args.Get(0); val != nil {
		role = val.(models.Role)
	}
	return role, args.Error(1)
}

func (m *RoomRepositoryMock) AddMember(ctx context.Context, roomID, userID int64, role models.Role) error {
	args := m.Called(ctx, roomID, userID, role)
	return args.Error(0)
}

func (m *RoomRepositoryMock) RemoveMember(ctx context.Context, roomID, userID int64) error {
	args := m.Called(ctx, roomID, userID)
	return args.Error(0)
}

func (m *RoomRepositoryMock) SetRole(ctx context.Context, roomID, userID int64, role models.Role) error {
	args := m.Called(ctx, roomID, userID, role)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) PersistMessageWithDeliveries(ctx context.Context, roomID, senderID int64, body string, recipientIDs []int64) (models.Message, error) {
	args := m.Called(ctx, roomID, senderID, body, recipientIDs)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) UpdateDeliveryStatus(ctx context.Context, roomID, seq, recipientID int64, to models.DeliveryStatus) (models.DeliveryRecord, error) {
	args := m.Called(ctx, roomID, seq, recipientID, to)
	var rec models.DeliveryRecord
	if val := args.Get(0); val != nil {
		rec = val.(models.DeliveryRecord)
	}
	return rec, args.Error(1)
}

func (m *MessageRepositoryMock) GetDelivery(ctx context.Context, roomID, seq, recipientID int64) (models.DeliveryRecord, error) {
	args := m.Called(ctx, roomID, seq, recipientID)
	var rec models.DeliveryRecord
	if val := args.Get(0); val != nil {
		rec = val.(models.DeliveryRecord)
	}
	return rec, args.Error(1)
}

func (m *MessageRepositoryMock) ListBacklogSince(ctx context.Context, roomID, userID, sinceSeq int64) ([]models.BacklogEntry, error) {
	args := m.Called(ctx, roomID, userID, sinceSeq)
	var entries []models.BacklogEntry
	if val := args.Get(0); val != nil {
		entries = val.([]models.BacklogEntry)
	}
	return entries, args.Error(1)
}

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) GetUser(ctx context.Context, userID int64) (models.User, error) {
	args := m.Called(ctx, userID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) Exists(ctx context.Context, userID int64) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *UserRepositoryMock) TouchLastSeen(ctx context.Context, userID int64, at time.Time) error {
	args := m.Called(ctx, userID, at)
	return args.Error(0)
}

// SenderMock stands in for the connection registry's send surface.
type SenderMock struct {
	mock.Mock
}

func (m *SenderMock) Send(userID int64, payload []byte) bool {
	args := m.Called(userID, payload)
	return args.Bool(0)
}

func (m *SenderMock) IsOnline(userID int64) bool {
	args := m.Called(userID)
	return args.Bool(0)
}

// PublisherMock stands in for the AMQP publisher in router, broadcaster, and
// handler tests.
type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

var _ repositories.RoomRepository = (*RoomRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.UserRepository = (*UserRepositoryMock)(nil)
var _ rabbitmq.Publisher = (*PublisherMock)(nil)
