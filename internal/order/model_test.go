package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapGatewayStatus(t *testing.T) {
	tests := []struct {
		gateway     string
		wantPayment PaymentStatus
		wantOrder   Status
	}{
		{"captured", PaymentSucceeded, StatusPaid},
		{"pending", PaymentProcessing, StatusPending},
		{"failed", PaymentFailed, StatusCancelled},
		{"refused", PaymentFailed, StatusCancelled},
		{"cancelled", PaymentCancelled, StatusCancelled},
		// Unknown statuses pass through raw and leave the order pending.
		{"awaiting_3ds", PaymentStatus("awaiting_3ds"), StatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.gateway, func(t *testing.T) {
			payment, order := MapGatewayStatus(tt.gateway)
			assert.Equal(t, tt.wantPayment, payment)
			assert.Equal(t, tt.wantOrder, order)
		})
	}
}
