package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/lib/pq"

	"mediaindex/internal/domain"
)

func TestFromRow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	row := mediaRow{
		Fingerprint:     "abcdef0123456789",
		Title:           "Movie Title",
		NormalizedTitle: "movie title",
		Year:            2021,
		Quality:         "FHD",
		Languages:       pq.StringArray{"english"},
		Kind:            "video",
		Season:          1,
		Episode:         2,
		ChannelID:       -100123,
		MessageID:       42,
		FileRef:         "BAACAgQAAx0",
		SizeBytes:       2048,
		IndexedAt:       now,
	}

	got := fromRow(row)
	if got.Fingerprint != "abcdef0123456789" {
		t.Errorf("Fingerprint = %q", got.Fingerprint)
	}
	if got.Quality != domain.QualityFHD {
		t.Errorf("Quality = %q", got.Quality)
	}
	if got.Kind != domain.MediaVideo {
		t.Errorf("Kind = %q", got.Kind)
	}
	if len(got.Languages) != 1 || got.Languages[0] != "english" {
		t.Errorf("Languages = %v", got.Languages)
	}
	if !got.IndexedAt.Equal(now) {
		t.Errorf("IndexedAt = %v", got.IndexedAt)
	}
}

func TestWrapErrMapsConnectivityFailures(t *testing.T) {
	unavailable := []error{
		driver.ErrBadConn,
		sql.ErrConnDone,
		context.DeadlineExceeded,
		&net.OpError{Op: "dial", Err: errors.New("connection refused")},
	}
	for _, err := range unavailable {
		if !errors.Is(wrapErr(err), domain.ErrBackendUnavailable) {
			t.Errorf("%v: not mapped to ErrBackendUnavailable", err)
		}
	}

	plain := errors.New("syntax error")
	if errors.Is(wrapErr(plain), domain.ErrBackendUnavailable) {
		t.Error("query error wrongly mapped to ErrBackendUnavailable")
	}
	if wrapErr(nil) != nil {
		t.Error("wrapErr(nil) != nil")
	}
}
