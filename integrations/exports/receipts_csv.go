// Package exports renders settlement receipts for download.
package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"strconv"
	"time"

	"dework/store"
)

var csvHeader = []string{
	"position_id", "path", "tenant", "landlord", "principal", "value",
	"fee", "tenant_amount", "landlord_amount", "settled_at",
}

// ReceiptsCSV renders receipts as CSV and returns the payload with its
// SHA-256 checksum.
func ReceiptsCSV(receipts []store.Receipt) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(csvHeader); err != nil {
		return nil, "", err
	}
	for _, r := range receipts {
		record := []string{
			strconv.FormatUint(r.PositionID, 10),
			r.Path,
			r.Tenant,
			r.Landlord,
			orZero(r.Principal),
			orZero(r.Value),
			orZero(r.Fee),
			orZero(r.TenantAmount),
			orZero(r.LandlordAmount),
			r.SettledAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	return withChecksum(buffer.Bytes())
}

func orZero(amount string) string {
	if amount == "" {
		return "0"
	}
	return amount
}

func withChecksum(data []byte) ([]byte, string, error) {
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:]), nil
}
