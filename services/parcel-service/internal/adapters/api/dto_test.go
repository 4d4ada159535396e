package api

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/floroz/parcel-registry/internal/parcel"
)

func TestDeliveryPriceWire(t *testing.T) {
	price := 142.75
	tests := []struct {
		name  string
		price *float64
		want  any
	}{
		{"nil price renders the localized placeholder", nil, notCalculated},
		{"known price renders the float as-is", &price, price},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, deliveryPriceWire(tt.price))
		})
	}
}

func TestToDetailResponse(t *testing.T) {
	price := 99.5
	summary := &parcel.ParcelSummary{
		ParcelID:          "p-1",
		Name:              "box",
		WeightKg:          2.5,
		TypeID:            1,
		CostAdjustmentUSD: 10,
		DeliveryPriceRUB:  &price,
		Source:            parcel.SourceParcel,
	}

	resp := toDetailResponse(summary)

	assert.Equal(t, "p-1", resp.ParcelID)
	assert.Equal(t, "box", resp.Name)
	assert.Equal(t, price, resp.DeliveryPriceRUB)
}

func TestToDetailResponse_PendingPrice(t *testing.T) {
	summary := &parcel.ParcelSummary{
		ParcelID: "p-2",
		Name:     "envelope",
		Source:   parcel.SourceOutbox,
	}

	resp := toDetailResponse(summary)

	assert.Equal(t, notCalculated, resp.DeliveryPriceRUB)
}

func TestRoundTo2(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"exact two decimals unchanged", 10.25, 10.25},
		{"rounds up at the third decimal", 10.256, 10.26},
		{"rounds down at the third decimal", 10.251, 10.25},
		{"zero stays zero", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, roundTo2(tt.in), 0.0001)
		})
	}
}
