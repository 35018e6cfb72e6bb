package escrow

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"paylock/core/events"
)

func TestAuditLogRecordsLifecycle(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	recorder := events.NewRecorder()
	engine.SetEmitter(recorder)

	contract := mustCreate(t, engine, 100)
	require.NoError(t, engine.Sign(contract.ID, counterpartyAddr))
	require.NoError(t, engine.ConfirmCompletionDirect(contract.ID, creatorAddr))
	_, err := engine.Withdraw(counterpartyAddr)
	require.NoError(t, err)

	log := recorder.Events()
	require.Len(t, log, 4)
	require.Equal(t, EventTypeContractCreated, log[0].Type)
	require.Equal(t, EventTypeContractSigned, log[1].Type)
	require.Equal(t, EventTypePaymentReleased, log[2].Type)
	require.Equal(t, EventTypeFundsWithdrawn, log[3].Type)

	for i, entry := range log {
		require.Equal(t, uint64(i)+1, entry.Sequence)
	}
	require.Equal(t, "1", log[0].Attributes["id"])
	require.Equal(t, "100", log[0].Attributes["amount"])
	require.Equal(t, "100", log[3].Attributes["amount"])
}

func TestFailedOperationsEmitNothing(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	recorder := events.NewRecorder()
	engine.SetEmitter(recorder)

	contract := mustCreate(t, engine, 100)
	before := recorder.Len()

	require.Error(t, engine.Sign(contract.ID, strangerAddr))
	require.Error(t, engine.ConfirmCompletionDirect(contract.ID, creatorAddr))
	_, err := engine.Withdraw(strangerAddr)
	require.Error(t, err)

	require.Equal(t, before, recorder.Len())
}

func TestDeliveryApprovedEventMarksForcedRelease(t *testing.T) {
	engine, _, _, clock := newTestEngine(t)
	engine.SetApproveTimeout(60)
	recorder := events.NewRecorder()
	engine.SetEmitter(recorder)

	contract := mustCreate(t, engine, 100)
	require.NoError(t, engine.SetOracle(oracleAddr))
	require.NoError(t, engine.Sign(contract.ID, counterpartyAddr))
	require.NoError(t, engine.SetDeliveryTracking(contract.ID, counterpartyAddr, []byte("T")))
	require.NoError(t, engine.ConfirmDeliveryByOracle(contract.ID, oracleAddr, []byte("T")))
	clock.now += 60
	require.NoError(t, engine.ForceApproveAfterTimeout(contract.ID, counterpartyAddr))

	log := recorder.Events()
	last := log[len(log)-1]
	require.Equal(t, EventTypeDeliveryApproved, last.Type)
	require.Equal(t, "true", last.Attributes["forced"])
}

func TestWithdrawnEventAmount(t *testing.T) {
	evt := NewWithdrawnEvent(counterpartyAddr, big.NewInt(42))
	require.Equal(t, EventTypeFundsWithdrawn, evt.Type)
	require.Equal(t, "42", evt.Attributes["amount"])
}
