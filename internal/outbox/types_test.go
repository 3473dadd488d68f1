package outbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPayload_RoundTrip(t *testing.T) {
	p := Payload{
		AggregateID:            "agg-1",
		UserID:                 "user-1",
		Email:                  "a@example.com",
		TotalAmountCents:       2000,
		Currency:               "USD",
		PaymentAuthorizationID: "auth-1",
	}

	raw, err := MarshalPayload(p)
	assert.NoError(t, err)

	got, err := unmarshalPayload(raw)
	assert.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestPayload_RoundTrip_EmptyAuthorizationID(t *testing.T) {
	p := Payload{AggregateID: "agg-2", UserID: "user-2", Email: "b@example.com", TotalAmountCents: 500, Currency: "EUR"}

	raw, err := MarshalPayload(p)
	assert.NoError(t, err)

	got, err := unmarshalPayload(raw)
	assert.NoError(t, err)
	assert.Equal(t, p, got)
}
