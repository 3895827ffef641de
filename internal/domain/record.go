package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Fingerprint is the stable identity of an indexed media file, derived from
// the source-provided file reference. It is the primary key in every storage
// backend.
type Fingerprint string

type MediaKind string

const (
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
	MediaPhoto    MediaKind = "photo"
	MediaAudio    MediaKind = "audio"
)

type Quality string

const (
	QualityUnknown Quality = ""
	QualitySD      Quality = "SD"
	QualityHD      Quality = "HD"
	QualityFHD     Quality = "FHD"
	QualityUHD     Quality = "UHD"
	QualityHDR     Quality = "HDR"
)

// MediaRecord is a normalized description of one media file forwarded from a
// linked channel. Zero values mean "unknown" for Year, Season and Episode.
type MediaRecord struct {
	Fingerprint     Fingerprint `json:"fingerprint"`
	Title           string      `json:"title"`
	NormalizedTitle string      `json:"normalizedTitle"`
	Year            int         `json:"year,omitempty"`
	Quality         Quality     `json:"quality,omitempty"`
	Languages       []string    `json:"languages,omitempty"`
	Kind            MediaKind   `json:"kind"`
	Season          int         `json:"season,omitempty"`
	Episode         int         `json:"episode,omitempty"`
	ChannelID       int64       `json:"channelId"`
	MessageID       int64       `json:"messageId,omitempty"`
	FileRef         string      `json:"fileRef"`
	SizeBytes       int64       `json:"sizeBytes"`
	IndexedAt       time.Time   `json:"indexedAt"`
}

// NewFingerprint derives the record identity from the source file reference.
// Files forwarded without a stable reference fall back to channel+message
// identity so re-forwards of the same message stay deduplicated.
func NewFingerprint(channelID, messageID int64, fileRef string) Fingerprint {
	var sum [32]byte
	if fileRef != "" {
		sum = sha256.Sum256([]byte(fileRef))
	} else {
		sum = sha256.Sum256([]byte(strconv.FormatInt(channelID, 10) + ":" + strconv.FormatInt(messageID, 10)))
	}
	return Fingerprint(hex.EncodeToString(sum[:16]))
}

// PopulatedFields counts the optional metadata fields carrying a value. The
// dedup merge policy keeps the record with the higher count.
func (r MediaRecord) PopulatedFields() int {
	count := 0
	if r.Title != "" {
		count++
	}
	if r.Year > 0 {
		count++
	}
	if r.Quality != QualityUnknown {
		count++
	}
	if len(r.Languages) > 0 {
		count++
	}
	if r.Season > 0 {
		count++
	}
	if r.Episode > 0 {
		count++
	}
	if r.SizeBytes > 0 {
		count++
	}
	return count
}

// FormatSize renders a byte count the way clients display it: no decimals
// below 1 KB, one decimal above, capped at TB.
func FormatSize(bytes int64) string {
	if bytes <= 0 {
		return "0B"
	}
	units := []string{"B", "KB", "MB", "GB", "TB"}
	size := float64(bytes)
	i := 0
	for size >= 1024 && i < len(units)-1 {
		size /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d%s", bytes, units[i])
	}
	return fmt.Sprintf("%.1f%s", size, units[i])
}

// MarshalJSON adds the rendered size next to the raw byte count.
func (r MediaRecord) MarshalJSON() ([]byte, error) {
	type plain MediaRecord
	out := struct {
		plain
		SizeHuman string `json:"sizeHuman,omitempty"`
	}{plain: plain(r)}
	if r.SizeBytes > 0 {
		out.SizeHuman = FormatSize(r.SizeBytes)
	}
	return json.Marshal(out)
}

// Merge fills fields absent on r from other without regressing any field r
// already carries.
func (r MediaRecord) Merge(other MediaRecord) MediaRecord {
	merged := r
	if merged.Title == "" {
		merged.Title = other.Title
		merged.NormalizedTitle = other.NormalizedTitle
	}
	if merged.Year == 0 {
		merged.Year = other.Year
	}
	if merged.Quality == QualityUnknown {
		merged.Quality = other.Quality
	}
	if len(merged.Languages) == 0 {
		merged.Languages = append([]string(nil), other.Languages...)
	}
	if merged.Season == 0 {
		merged.Season = other.Season
	}
	if merged.Episode == 0 {
		merged.Episode = other.Episode
	}
	if merged.SizeBytes == 0 {
		merged.SizeBytes = other.SizeBytes
	}
	return merged
}
