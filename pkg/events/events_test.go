package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeDomain(t *testing.T) {
	tests := []struct {
		eventType Type
		domain    string
	}{
		{BookingInitiated, "booking"},
		{SeatReserved, "event"},
		{PaymentCompleted, "payment"},
		{UserCreated, "user"},
		{NotificationEmail, "notification"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.domain, tt.eventType.Domain(), "domain of %s", tt.eventType)
	}
}

func TestTypeKnown(t *testing.T) {
	assert.True(t, BookingConfirmed.Known())
	assert.True(t, SeatReleased.Known())
	assert.False(t, Type("booking.teleported").Known())
	assert.False(t, Type("").Known())
}

func TestNewAndDecode(t *testing.T) {
	data := BookingInitiatedData{
		BookingID:   "b-1",
		UserID:      "u-1",
		EventID:     "e-1",
		TotalAmount: 120.50,
		Currency:    "USD",
	}
	env, err := New(BookingInitiated, "booking-service", data)
	require.NoError(t, err)
	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, BookingInitiated, env.EventType)
	assert.Equal(t, "booking-service", env.SourceService)
	assert.False(t, env.Timestamp.IsZero())

	env.WithCorrelation("wf-42").WithUser("u-1")
	assert.Equal(t, "wf-42", env.CorrelationID)

	var decoded BookingInitiatedData
	require.NoError(t, env.Decode(&decoded))
	assert.Equal(t, data, decoded)
}

func TestUnmarshalRejectsMalformed(t *testing.T) {
	_, err := Unmarshal([]byte("not json"))
	assert.Error(t, err)

	_, err = Unmarshal([]byte(`{"data":{}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing event_id")
}

func TestUnmarshalRoundTrip(t *testing.T) {
	env, err := New(PaymentCompleted, "payment-service", PaymentData{
		PaymentID: "p-1",
		BookingID: "b-1",
		Amount:    99.99,
		Currency:  "USD",
	})
	require.NoError(t, err)
	env.WithCorrelation("wf-7")

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	parsed, err := Unmarshal(raw)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, parsed.EventID)
	assert.Equal(t, env.CorrelationID, parsed.CorrelationID)

	var pd PaymentData
	require.NoError(t, parsed.Decode(&pd))
	assert.Equal(t, "p-1", pd.PaymentID)
	assert.Equal(t, 99.99, pd.Amount)
}
