package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/ayo6706/transfer-orchestrator/internal/models"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTransfer() *models.Transfer {
	recipient := uuid.New()
	return &models.Transfer{
		ID:                 uuid.New(),
		ReferenceNumber:    "TRF20260301Ab3dE5gH7j",
		SenderAccountID:    uuid.New(),
		RecipientAccountID: &recipient,
		Rail:               domain.RailInternal,
		AmountMicros:       12_340_000,
		Currency:           "USD",
		Status:             domain.TransferStatusCompleted,
		Origin:             domain.OriginDirect,
		UpdatedAt:          time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestNewTransferPayload(t *testing.T) {
	tr := sampleTransfer()
	p := NewTransferPayload(tr)

	assert.Equal(t, tr.ID.String(), p.TransferID)
	assert.Equal(t, "12.34", p.Amount)
	assert.Equal(t, "COMPLETED", p.Status)
	require.NotNil(t, p.RecipientAccountID)
	assert.Equal(t, tr.RecipientAccountID.String(), *p.RecipientAccountID)
	assert.Equal(t, "2026-03-01T10:00:00Z", p.Timestamp)
}

func TestTypeForStatus(t *testing.T) {
	assert.Equal(t, domain.EventTransactionCompleted, TypeForStatus(domain.TransferStatusCompleted))
	assert.Equal(t, domain.EventTransactionFailed, TypeForStatus(domain.TransferStatusFailed))
	assert.Equal(t, domain.EventTransactionPending, TypeForStatus(domain.TransferStatusPending))
	assert.Equal(t, domain.EventTransactionInitiated, TypeForStatus(domain.TransferStatusInitiated))
}

func TestRedisStreamPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	p := NewRedisStreamPublisher(client, "transaction.events")
	require.NoError(t, p.Publish(context.Background(), domain.EventTransactionCompleted, NewTransferPayload(sampleTransfer())))

	msgs, err := client.XRange(context.Background(), "transaction.events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.EventTransactionCompleted, msgs[0].Values["type"])

	var env struct {
		Type string          `json:"type"`
		Data TransferPayload `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["event"].(string)), &env))
	assert.Equal(t, domain.EventTransactionCompleted, env.Type)
	assert.Equal(t, "12.34", env.Data.Amount)
}

func TestRedisStreamPublisherReportsErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	err := NewRedisStreamPublisher(client, "s").Publish(context.Background(), "x", nil)
	assert.Error(t, err)
}

type fakeChannel struct {
	declared  string
	kind      string
	confirmed bool
	confirms  chan amqp.Confirmation
	published []amqp.Publishing
	keys      []string
	ack       bool
	closed    bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	f.declared, f.kind = name, kind
	return nil
}

func (f *fakeChannel) Confirm(bool) error {
	f.confirmed = true
	return nil
}

func (f *fakeChannel) NotifyPublish(c chan amqp.Confirmation) chan amqp.Confirmation {
	f.confirms = c
	return c
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	f.confirms <- amqp.Confirmation{DeliveryTag: uint64(len(f.published)), Ack: f.ack}
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestRabbitPublisher(t *testing.T) {
	ch := &fakeChannel{ack: true}
	p, err := NewRabbitPublisher(ch, "transactions")
	require.NoError(t, err)
	assert.Equal(t, "transactions", ch.declared)
	assert.Equal(t, amqp.ExchangeTopic, ch.kind)
	assert.True(t, ch.confirmed)

	require.NoError(t, p.Publish(context.Background(), domain.EventTransactionFailed, NewTransferPayload(sampleTransfer())))
	require.Len(t, ch.published, 1)
	assert.Equal(t, domain.EventTransactionFailed, ch.keys[0])
	assert.Equal(t, "application/json", ch.published[0].ContentType)

	ch.ack = false
	err = p.Publish(context.Background(), domain.EventTransactionFailed, nil)
	assert.ErrorIs(t, err, ErrPublishNacked)

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
	assert.ErrorIs(t, p.Publish(context.Background(), "x", nil), ErrPublisherClosed)
}
