package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestNewFingerprintStable(t *testing.T) {
	a := NewFingerprint(1, 2, "file-abc")
	b := NewFingerprint(99, 100, "file-abc")
	if a != b {
		t.Fatalf("same file ref must yield same fingerprint: %q vs %q", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("fingerprint length = %d, want 32", len(a))
	}
}

func TestNewFingerprintFallsBackToMessageIdentity(t *testing.T) {
	a := NewFingerprint(1, 2, "")
	b := NewFingerprint(1, 2, "")
	c := NewFingerprint(1, 3, "")
	if a != b {
		t.Fatalf("identical message identity must be stable")
	}
	if a == c {
		t.Fatalf("different messages must not collide")
	}
}

func TestPopulatedFields(t *testing.T) {
	empty := MediaRecord{}
	if got := empty.PopulatedFields(); got != 0 {
		t.Fatalf("empty record populated fields = %d, want 0", got)
	}

	full := MediaRecord{
		Title:     "Movie Title",
		Year:      2021,
		Quality:   QualityFHD,
		Languages: []string{"english"},
		Season:    1,
		Episode:   2,
		SizeBytes: 1024,
	}
	if got := full.PopulatedFields(); got != 7 {
		t.Fatalf("full record populated fields = %d, want 7", got)
	}
}

func TestMergeNeverRegresses(t *testing.T) {
	existing := MediaRecord{
		Fingerprint: "fp1",
		Title:       "Movie Title",
		Year:        2021,
	}
	incoming := MediaRecord{
		Fingerprint: "fp1",
		Title:       "Other Title",
		Year:        1999,
		Quality:     QualityHD,
		SizeBytes:   512,
	}

	merged := existing.Merge(incoming)
	if merged.Title != "Movie Title" {
		t.Errorf("Title regressed: %q", merged.Title)
	}
	if merged.Year != 2021 {
		t.Errorf("Year regressed: %d", merged.Year)
	}
	if merged.Quality != QualityHD {
		t.Errorf("Quality not filled: %q", merged.Quality)
	}
	if merged.SizeBytes != 512 {
		t.Errorf("SizeBytes not filled: %d", merged.SizeBytes)
	}
}

func TestDeliveryErrorPermanence(t *testing.T) {
	cases := []struct {
		kind      FailureKind
		permanent bool
	}{
		{FailureBlocked, true},
		{FailureDeleted, true},
		{FailureTimeout, false},
		{FailureTransport, false},
	}
	for _, tc := range cases {
		err := &DeliveryError{Kind: tc.kind, Err: errors.New("boom")}
		if err.Permanent() != tc.permanent {
			t.Errorf("%s: Permanent() = %v, want %v", tc.kind, err.Permanent(), tc.permanent)
		}
	}
}

func TestBroadcastStatusCompleted(t *testing.T) {
	status := BroadcastStatus{
		Delivered: 7,
		Failed:    2,
		Skipped:   1,
		StartedAt: time.Now(),
	}
	if got := status.Completed(); got != 10 {
		t.Fatalf("Completed() = %d, want 10", got)
	}
}

func TestFormatSize(t *testing.T) {
	cases := []struct {
		bytes int64
		want  string
	}{
		{0, "0B"},
		{512, "512B"},
		{1024, "1.0KB"},
		{1536, "1.5KB"},
		{700 * 1024 * 1024, "700.0MB"},
		{int64(1), "1B"},
		{int64(1) << 40, "1.0TB"},
		{int64(1) << 50, "1024.0TB"},
	}
	for _, tc := range cases {
		if got := FormatSize(tc.bytes); got != tc.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tc.bytes, got, tc.want)
		}
	}
}

func TestMediaRecordJSONIncludesHumanSize(t *testing.T) {
	rec := MediaRecord{Fingerprint: "fp", Title: "Dune", SizeBytes: 1536}
	raw, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["sizeHuman"] != "1.5KB" {
		t.Errorf("sizeHuman = %v, want 1.5KB", decoded["sizeHuman"])
	}

	raw, err = json.Marshal(MediaRecord{Fingerprint: "fp", Title: "Dune"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	decoded = map[string]any{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded["sizeHuman"]; ok {
		t.Error("sizeHuman present for record without size")
	}
}
