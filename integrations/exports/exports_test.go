package exports

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"dework/store"
)

func sampleReceipt(id uint64) store.Receipt {
	return store.Receipt{
		PositionID:     id,
		Path:           "normal_end",
		Tenant:         "0x00000000000000000000000000000000000000aa",
		Landlord:       "0x00000000000000000000000000000000000000bb",
		Principal:      "1000000000",
		Value:          "1004109589",
		Fee:            "410958",
		TenantAmount:   "1001849315",
		LandlordAmount: "1849316",
		SettledAt:      time.Unix(1_700_000_000, 0),
	}
}

func TestReceiptsCSV(t *testing.T) {
	data, checksum, err := ReceiptsCSV([]store.Receipt{sampleReceipt(3)})
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	output := string(data)
	if !strings.HasPrefix(output, "position_id,path,tenant,landlord,principal,value,fee,tenant_amount,landlord_amount,settled_at\n") {
		t.Fatalf("missing header: %s", output)
	}
	if !strings.Contains(output, "3,normal_end,") || !strings.Contains(output, "2023-11-14T22:13:20Z") {
		t.Fatalf("unexpected row: %s", output)
	}
	sum := sha256.Sum256(data)
	if checksum != hex.EncodeToString(sum[:]) {
		t.Fatalf("checksum mismatch")
	}
}

func TestReceiptsJSONL(t *testing.T) {
	empty := sampleReceipt(9)
	empty.Fee = ""
	data, checksum, err := ReceiptsJSONL([]store.Receipt{sampleReceipt(8), empty})
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	if checksum == "" {
		t.Fatalf("expected checksum")
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"position_id":8`) {
		t.Fatalf("unexpected line: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"fee":"0"`) {
		t.Fatalf("empty amount not zeroed: %s", lines[1])
	}
}
