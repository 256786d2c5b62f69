package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/readerline/backend/internal/models"
)

func TestRedisNotifier_PublishesSessionEvent(t *testing.T) {
	client, rmock := redismock.NewClientMock()
	n := NewRedisNotifier(client)

	ev := models.Event{Type: models.EventSessionTick, SessionID: "room-1", Minutes: 2, AccumulatedAmount: 1200, At: testEpoch}
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	rmock.ExpectPublish(SessionEventsChannel, string(data)).SetVal(1)

	require.NoError(t, n.Publish(context.Background(), ev))
	assert.NoError(t, rmock.ExpectationsWereMet())
}

func TestRedisNotifier_QueuesSettlement(t *testing.T) {
	client, rmock := redismock.NewClientMock()
	n := NewRedisNotifier(client)

	s := &models.Session{ID: "room-1", ReaderID: "reader-1", ClientID: "client-1", State: models.StateCompleted, Minutes: 15, AccumulatedAmount: 9000}
	log := &models.SettlementLog{SessionID: "room-1", ReaderID: "reader-1", TotalAmount: 9000, ReaderShare: 6300, PlatformShare: 2700, EndReason: models.EndCompleted}
	ev := models.SessionEndedEvent(s, log, testEpoch)

	data, _ := json.Marshal(ev)
	payload, _ := json.Marshal(log)
	rmock.ExpectPublish(SessionEventsChannel, string(data)).SetVal(2)
	rmock.ExpectRPush(SettlementQueue, string(payload)).SetVal(1)

	require.NoError(t, n.Publish(context.Background(), ev))
	assert.NoError(t, rmock.ExpectationsWereMet())
}

func TestRedisNotifier_QueuesProcessedGift(t *testing.T) {
	client, rmock := redismock.NewClientMock()
	n := NewRedisNotifier(client)

	gift := &models.Gift{ID: "gift-1", RecipientID: "reader-1", Amount: 1000, ReaderShare: 700, PlatformShare: 300, Processed: true}
	ev := models.Event{Type: models.EventGiftProcessed, Gift: gift, At: testEpoch}

	data, _ := json.Marshal(ev)
	payload, _ := json.Marshal(gift)
	rmock.ExpectPublish(SessionEventsChannel, string(data)).SetVal(0)
	rmock.ExpectRPush(SettlementQueue, string(payload)).SetErr(errors.New("OOM"))

	err := n.Publish(context.Background(), ev)
	assert.ErrorContains(t, err, "queue gift_processed")
}

func TestRedisNotifier_NilClient(t *testing.T) {
	var n *RedisNotifier
	assert.NoError(t, n.Publish(context.Background(), models.Event{Type: models.EventSessionTick}))
	assert.NoError(t, NewRedisNotifier(nil).Publish(context.Background(), models.Event{Type: models.EventSessionTick}))
}

func TestMultiNotifier_CollectsErrors(t *testing.T) {
	ok := new(MockNotifier)
	failing := new(MockNotifier)
	ev := models.Event{Type: models.EventGiftSent}

	ok.On("Publish", mock.Anything, ev).Return(nil)
	failing.On("Publish", mock.Anything, ev).Return(errors.New("redis down"))

	err := MultiNotifier{failing, nil, ok}.Publish(context.Background(), ev)
	assert.ErrorContains(t, err, "redis down")
	ok.AssertExpectations(t)
	failing.AssertExpectations(t)
}
