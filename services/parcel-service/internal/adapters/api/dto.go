package api

import "github.com/floroz/parcel-registry/internal/parcel"

// notCalculated is the exact string the original system emits on the
// wire when a parcel's delivery price hasn't been computed yet. It
// must round-trip byte-for-byte for clients built against that system.
const notCalculated = "Не рассчитано"

type createParcelRequest struct {
	Name              string  `json:"name"`
	WeightKg          float64 `json:"weight_kg"`
	TypeID            int     `json:"type_id"`
	CostAdjustmentUSD float64 `json:"cost_adjustment_usd"`
}

type createParcelResponse struct {
	ParcelID string `json:"parcel_id"`
	Message  string `json:"message"`
}

type bindCompanyRequest struct {
	CompanyID int `json:"company_id"`
}

type bindCompanyResponse struct {
	Message string `json:"message"`
}

type parcelDetailResponse struct {
	ParcelID          string `json:"parcel_id"`
	Name              string `json:"name"`
	WeightKg          float64 `json:"weight_kg"`
	TypeID            int    `json:"type_id"`
	CostAdjustmentUSD float64 `json:"cost_adjustment_usd"`
	DeliveryPriceRUB  any    `json:"delivery_price_rub"`
}

func toDetailResponse(s *parcel.ParcelSummary) parcelDetailResponse {
	return parcelDetailResponse{
		ParcelID:          s.ParcelID,
		Name:              s.Name,
		WeightKg:          s.WeightKg,
		TypeID:            s.TypeID,
		CostAdjustmentUSD: s.CostAdjustmentUSD,
		DeliveryPriceRUB:  deliveryPriceWire(s.DeliveryPriceRUB),
	}
}

// deliveryPriceWire preserves the bit-exact wire shape: a numeric
// price when known, otherwise the localized "not calculated" literal.
func deliveryPriceWire(price *float64) any {
	if price == nil {
		return notCalculated
	}
	return *price
}

type parcelListResponse struct {
	Items []parcelDetailResponse `json:"items"`
	Total int                    `json:"total"`
}

type parcelTypeResponse struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type recalculateResponse struct {
	Message string `json:"message"`
}

type deliveryCostItem struct {
	Type  int     `json:"type"`
	Total float64 `json:"total"`
}

type analyticsResponse struct {
	Date    string             `json:"date"`
	GroupBy string             `json:"group_by"`
	Items   []deliveryCostItem `json:"items"`
}
