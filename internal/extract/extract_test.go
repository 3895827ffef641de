package extract

import (
	"testing"

	"mediaindex/internal/domain"
)

func TestExtractMovieRelease(t *testing.T) {
	record := Extract("Movie.Title.2021.1080p.mkv")

	if record.Title != "Movie Title" {
		t.Errorf("Title = %q, want %q", record.Title, "Movie Title")
	}
	if record.NormalizedTitle != "movie title" {
		t.Errorf("NormalizedTitle = %q", record.NormalizedTitle)
	}
	if record.Year != 2021 {
		t.Errorf("Year = %d, want 2021", record.Year)
	}
	if record.Quality != domain.QualityFHD {
		t.Errorf("Quality = %q, want FHD", record.Quality)
	}
	if record.Season != 0 || record.Episode != 0 {
		t.Errorf("unexpected season/episode: %d/%d", record.Season, record.Episode)
	}
}

func TestExtractSeriesEpisode(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		season  int
		episode int
	}{
		{"compact", "Show.Name.S01E02.720p.WEBRip.mkv", 1, 2},
		{"lowercase", "show name s3e11.mp4", 3, 11},
		{"cross", "Show Name 2x09 HDTV.avi", 2, 9},
		{"long form", "Show Name Season 4 Episode 7.mkv", 4, 7},
		{"episode only", "Show Name Ep 12.mkv", 0, 12},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			record := Extract(tc.raw)
			if record.Season != tc.season || record.Episode != tc.episode {
				t.Fatalf("season/episode = %d/%d, want %d/%d", record.Season, record.Episode, tc.season, tc.episode)
			}
		})
	}
}

func TestExtractQualityTiers(t *testing.T) {
	cases := []struct {
		raw  string
		want domain.Quality
	}{
		{"Movie 2160p.mkv", domain.QualityUHD},
		{"Movie 4K.mkv", domain.QualityUHD},
		{"Movie 1080p.mkv", domain.QualityFHD},
		{"Movie HDR.mkv", domain.QualityHDR},
		{"Movie 720p.mkv", domain.QualityHD},
		{"Movie 480p.mkv", domain.QualitySD},
		{"Movie.mkv", domain.QualityUnknown},
		// Most specific tier wins when several markers appear.
		{"Movie 4K HDR.mkv", domain.QualityUHD},
		{"Movie 1080p HDR.mkv", domain.QualityFHD},
	}
	for _, tc := range cases {
		if got := Extract(tc.raw).Quality; got != tc.want {
			t.Errorf("%q: Quality = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestExtractLanguages(t *testing.T) {
	record := Extract("Movie.Title.2020.Hindi.English.1080p.mkv")
	if len(record.Languages) != 2 {
		t.Fatalf("Languages = %v, want 2 tags", record.Languages)
	}
	if record.Languages[0] != "hindi" || record.Languages[1] != "english" {
		t.Fatalf("Languages = %v", record.Languages)
	}

	// Duplicate markers collapse to one tag.
	record = Extract("Movie Tamil TAM 720p.mkv")
	if len(record.Languages) != 1 || record.Languages[0] != "tamil" {
		t.Fatalf("Languages = %v, want [tamil]", record.Languages)
	}
}

func TestExtractYearBounds(t *testing.T) {
	if got := Extract("Movie 1899.mkv").Year; got != 0 {
		t.Errorf("out-of-range year accepted: %d", got)
	}
	if got := Extract("Movie 1900.mkv").Year; got != 1900 {
		t.Errorf("Year = %d, want 1900", got)
	}
	// Two plausible years: the later one wins.
	if got := Extract("1984 Remastered 2019.mkv").Year; got != 2019 {
		t.Errorf("Year = %d, want 2019", got)
	}
}

func TestExtractYearOnlyNameKeepsYearAsTitle(t *testing.T) {
	record := Extract("2021.mkv")
	if record.Title != "2021" {
		t.Errorf("Title = %q, want %q", record.Title, "2021")
	}
	if record.NormalizedTitle != "2021" {
		t.Errorf("NormalizedTitle = %q, want %q", record.NormalizedTitle, "2021")
	}
	if record.Year != 2021 {
		t.Errorf("Year = %d, want 2021", record.Year)
	}
}

func TestExtractStripsBracketGroups(t *testing.T) {
	record := Extract("[RlsGrp] Movie Title (2021) [1080p].mkv")
	if record.Title != "Movie Title" {
		t.Errorf("Title = %q, want %q", record.Title, "Movie Title")
	}
	if record.Year != 2021 {
		t.Errorf("Year = %d, want 2021", record.Year)
	}
}

func TestExtractNeverFailsAndIsDeterministic(t *testing.T) {
	inputs := []string{
		"",
		"....",
		"???!!!",
		".mkv",
		"x",
		"Фильм.2020.1080p.mkv",
		"S01E01",
		"2021",
		string([]byte{0xff, 0xfe, 'a'}),
	}
	for _, raw := range inputs {
		first := Extract(raw)
		second := Extract(raw)
		if first.Title != second.Title || first.Year != second.Year ||
			first.Quality != second.Quality || first.Season != second.Season ||
			first.Episode != second.Episode {
			t.Errorf("%q: extract not deterministic", raw)
		}
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"Movie Title", "movie title"},
		{"  Movie,  Title!  ", "movie title"},
		{"L'étrange Noël", "l étrange noël"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Normalize(tc.raw); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}
