package mq

import (
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
)

func TestProducer_SendMessage(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"type":"topup.succeeded"}` {
			return errors.New("unexpected payload " + string(val))
		}
		return nil
	})
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewProducer(sp)
	assert.NoError(t, p.SendMessage("ledger-events", "account-1", `{"type":"topup.succeeded"}`))
	assert.ErrorIs(t, p.SendMessage("ledger-events", "account-1", "x"), sarama.ErrOutOfBrokers)
	assert.NoError(t, p.Close())
}
