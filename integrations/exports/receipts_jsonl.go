package exports

import (
	"bytes"
	"encoding/json"
	"time"

	"dework/store"
)

type receiptLine struct {
	PositionID     uint64 `json:"position_id"`
	Path           string `json:"path"`
	Tenant         string `json:"tenant"`
	Landlord       string `json:"landlord"`
	Principal      string `json:"principal"`
	Value          string `json:"value"`
	Fee            string `json:"fee"`
	TenantAmount   string `json:"tenant_amount"`
	LandlordAmount string `json:"landlord_amount"`
	SettledAt      string `json:"settled_at"`
}

// ReceiptsJSONL renders one JSON object per receipt and returns the payload
// with its checksum.
func ReceiptsJSONL(receipts []store.Receipt) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, r := range receipts {
		line := receiptLine{
			PositionID:     r.PositionID,
			Path:           r.Path,
			Tenant:         r.Tenant,
			Landlord:       r.Landlord,
			Principal:      orZero(r.Principal),
			Value:          orZero(r.Value),
			Fee:            orZero(r.Fee),
			TenantAmount:   orZero(r.TenantAmount),
			LandlordAmount: orZero(r.LandlordAmount),
			SettledAt:      r.SettledAt.UTC().Format(time.RFC3339),
		}
		if err := encoder.Encode(line); err != nil {
			return nil, "", err
		}
	}
	return withChecksum(buffer.Bytes())
}
