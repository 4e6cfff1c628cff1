package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

func TestTransitionAdvances(t *testing.T) {
	store := new(mocks.MessageRepositoryMock)
	tracker := NewTracker(store)

	want := models.DeliveryRecord{RoomID: 1, Seq: 4, RecipientID: 2, Status: models.StatusDelivered, UpdatedAt: time.Now()}
	store.On("UpdateDeliveryStatus", mock.Anything, int64(1), int64(4), int64(2), models.StatusDelivered).
		Return(want, nil).Once()

	rec, err := tracker.Transition(context.Background(), 1, 4, 2, models.StatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, want, rec)
	store.AssertExpectations(t)
}

func TestTransitionSkipsDelivered(t *testing.T) {
	store := new(mocks.MessageRepositoryMock)
	tracker := NewTracker(store)

	want := models.DeliveryRecord{RoomID: 1, Seq: 4, RecipientID: 2, Status: models.StatusRead}
	store.On("UpdateDeliveryStatus", mock.Anything, int64(1), int64(4), int64(2), models.StatusRead).
		Return(want, nil).Once()

	rec, err := tracker.Transition(context.Background(), 1, 4, 2, models.StatusRead)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, rec.Status)
	store.AssertExpectations(t)
}

func TestTransitionRepeatIsNoOp(t *testing.T) {
	store := new(mocks.MessageRepositoryMock)
	tracker := NewTracker(store)

	current := models.DeliveryRecord{RoomID: 1, Seq: 4, RecipientID: 2, Status: models.StatusRead}
	store.On("UpdateDeliveryStatus", mock.Anything, int64(1), int64(4), int64(2), models.StatusRead).
		Return(models.DeliveryRecord{}, repositories.ErrDeliveryNotAdvanced).Once()
	store.On("GetDelivery", mock.Anything, int64(1), int64(4), int64(2)).
		Return(current, nil).Once()

	rec, err := tracker.Transition(context.Background(), 1, 4, 2, models.StatusRead)
	require.NoError(t, err)
	assert.Equal(t, current, rec)
	store.AssertExpectations(t)
}

func TestTransitionRegressionRejected(t *testing.T) {
	store := new(mocks.MessageRepositoryMock)
	tracker := NewTracker(store)

	store.On("UpdateDeliveryStatus", mock.Anything, int64(1), int64(4), int64(2), models.StatusDelivered).
		Return(models.DeliveryRecord{}, repositories.ErrDeliveryNotAdvanced).Once()
	store.On("GetDelivery", mock.Anything, int64(1), int64(4), int64(2)).
		Return(models.DeliveryRecord{RoomID: 1, Seq: 4, RecipientID: 2, Status: models.StatusRead}, nil).Once()

	_, err := tracker.Transition(context.Background(), 1, 4, 2, models.StatusDelivered)
	require.ErrorIs(t, err, ErrInvalidTransition)
	store.AssertExpectations(t)
}

func TestTransitionMissingRecord(t *testing.T) {
	store := new(mocks.MessageRepositoryMock)
	tracker := NewTracker(store)

	store.On("UpdateDeliveryStatus", mock.Anything, int64(9), int64(1), int64(2), models.StatusRead).
		Return(models.DeliveryRecord{}, repositories.ErrDeliveryNotAdvanced).Once()
	store.On("GetDelivery", mock.Anything, int64(9), int64(1), int64(2)).
		Return(models.DeliveryRecord{}, repositories.ErrMessageNotFound).Once()

	_, err := tracker.Transition(context.Background(), 9, 1, 2, models.StatusRead)
	require.ErrorIs(t, err, repositories.ErrMessageNotFound)
	store.AssertExpectations(t)
}

func TestTransitionUnknownStatus(t *testing.T) {
	tracker := NewTracker(new(mocks.MessageRepositoryMock))

	_, err := tracker.Transition(context.Background(), 1, 1, 2, models.DeliveryStatus("archived"))
	require.ErrorIs(t, err, ErrInvalidTransition)
}
