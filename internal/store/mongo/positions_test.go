package mongo

import (
	"testing"
	"time"

	"streamrelay/internal/domain"
)

const testHash = domain.InfoHash("0123456789ABCDEF0123456789ABCDEF01234567")

func TestPositionsDocRoundtrip(t *testing.T) {
	now := time.Date(2026, 8, 19, 10, 0, 0, 0, time.UTC)
	positions := map[string]domain.PlaybackPosition{
		string(testHash) + ":0": {
			Hash:       testHash,
			ItemIndex:  0,
			Elapsed:    750,
			Duration:   5400,
			Transcoded: true,
			UpdatedAt:  now,
		},
		string(testHash) + ":12": {
			Hash:      testHash,
			ItemIndex: 12,
			Elapsed:   42,
			UpdatedAt: now.Add(-time.Hour),
		},
	}

	doc := positionsToDoc(positions)
	if doc.ID != positionsDocID {
		t.Fatalf("doc ID = %q, want %q", doc.ID, positionsDocID)
	}
	got := positionsFromDoc(doc)

	if len(got) != len(positions) {
		t.Fatalf("got %d entries, want %d", len(got), len(positions))
	}
	for k, want := range positions {
		have, ok := got[k]
		if !ok {
			t.Fatalf("entry %q missing after roundtrip", k)
		}
		if have.Hash != want.Hash || have.ItemIndex != want.ItemIndex {
			t.Errorf("%s: key fields got %q/%d, want %q/%d", k, have.Hash, have.ItemIndex, want.Hash, want.ItemIndex)
		}
		if have.Elapsed != want.Elapsed || have.Duration != want.Duration || have.Transcoded != want.Transcoded {
			t.Errorf("%s: payload got %+v, want %+v", k, have, want)
		}
		// Time loses sub-second precision through Unix conversion.
		if have.UpdatedAt.Unix() != want.UpdatedAt.Unix() {
			t.Errorf("%s: UpdatedAt got %v, want %v", k, have.UpdatedAt, want.UpdatedAt)
		}
	}
}

func TestPositionsFromDocSkipsMalformedKeys(t *testing.T) {
	doc := positionsDoc{
		ID: positionsDocID,
		Entries: map[string]positionEntry{
			string(testHash) + ":3": {Elapsed: 100, UpdatedAt: 1},
			"no-separator":          {Elapsed: 200, UpdatedAt: 1},
			string(testHash) + ":":  {Elapsed: 300, UpdatedAt: 1},
			":5":                    {Elapsed: 400, UpdatedAt: 1},
			string(testHash) + ":x": {Elapsed: 500, UpdatedAt: 1},
		},
	}

	got := positionsFromDoc(doc)
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1", len(got))
	}
	record := got[string(testHash)+":3"]
	if record.ItemIndex != 3 || record.Hash != testHash {
		t.Fatalf("surviving entry mismatch: %+v", record)
	}
}

func TestSplitKey(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		wantHash  domain.InfoHash
		wantIndex int
		wantOK    bool
	}{
		{"plain", string(testHash) + ":7", testHash, 7, true},
		{"index zero", string(testHash) + ":0", testHash, 0, true},
		{"negative index", string(testHash) + ":-1", "", 0, false},
		{"missing index", string(testHash) + ":", "", 0, false},
		{"missing hash", ":4", "", 0, false},
		{"empty", "", "", 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			hash, index, ok := splitKey(tc.key)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if hash != tc.wantHash || index != tc.wantIndex {
				t.Fatalf("splitKey(%q) = %q, %d", tc.key, hash, index)
			}
		})
	}
}
