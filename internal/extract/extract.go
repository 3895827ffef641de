// Package extract turns raw filenames and captions from linked channels into
// partial MediaRecords. Parsing is pure and deterministic: unparseable fields
// stay at their zero value, the call never fails.
package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"mediaindex/internal/domain"
)

var (
	tokenPattern          = regexp.MustCompile(`[\p{L}\p{N}]+`)
	yearPattern           = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
	seasonEpisodePattern  = regexp.MustCompile(`(?i)\bs\s*(\d{1,2})\s*e\s*(\d{1,3})\b`)
	seasonXEpisodePattern = regexp.MustCompile(`(?i)\b(\d{1,2})x(\d{1,3})\b`)
	longFormPattern       = regexp.MustCompile(`(?i)\bseason\s*(\d{1,2})\s*episode\s*(\d{1,3})\b`)
	episodeOnlyPattern    = regexp.MustCompile(`(?i)\b(?:episode|ep)\s*(\d{1,3})\b`)
	bracketGroupPattern   = regexp.MustCompile(`[\[({][^\])}]*[\])}]`)
)

var containerExtensions = map[string]struct{}{
	"mkv": {}, "mp4": {}, "avi": {}, "mov": {}, "wmv": {}, "flv": {},
	"webm": {}, "m4v": {}, "mpg": {}, "mpeg": {}, "3gp": {}, "ts": {},
	"mp3": {}, "m4a": {}, "flac": {}, "wav": {}, "ogg": {},
	"pdf": {}, "zip": {}, "rar": {}, "srt": {},
}

// qualityMarkers maps marker tokens to the quality tier, checked from most
// specific tier down so "4K HDR" resolves to UHD before HDR.
var qualityMarkers = []struct {
	tier    domain.Quality
	markers []string
}{
	{domain.QualityUHD, []string{"4k", "2160p", "uhd"}},
	{domain.QualityFHD, []string{"1080p", "fhd", "fullhd"}},
	{domain.QualityHDR, []string{"hdr", "hdr10"}},
	{domain.QualityHD, []string{"720p", "hd"}},
	{domain.QualitySD, []string{"480p", "360p", "sd"}},
}

// languageTags maps marker tokens to the canonical language tag. The
// vocabulary follows the source channels this system indexes.
var languageTags = map[string]string{
	"en": "english", "eng": "english", "english": "english",
	"hi": "hindi", "hin": "hindi", "hindi": "hindi",
	"ta": "tamil", "tam": "tamil", "tamil": "tamil",
	"te": "telugu", "tel": "telugu", "telugu": "telugu",
	"ml": "malayalam", "mal": "malayalam", "malayalam": "malayalam",
	"kn": "kannada", "kan": "kannada", "kannada": "kannada",
	"bn": "bengali", "ben": "bengali", "bengali": "bengali",
	"mr": "marathi", "marathi": "marathi",
	"gu": "gujarati", "gujarati": "gujarati",
	"pa": "punjabi", "punjabi": "punjabi",
	"ur": "urdu", "urdu": "urdu",
	"ko": "korean", "korean": "korean",
	"ja": "japanese", "japanese": "japanese",
	"fr": "french", "french": "french",
	"de": "german", "german": "german",
	"es": "spanish", "spanish": "spanish",
	"ru": "russian", "russian": "russian",
	"multi": "multi", "dual": "multi",
}

// releaseJunk are tokens dropped from titles: rip sources, codecs and audio
// formats that carry no search value.
var releaseJunk = map[string]struct{}{
	"webrip": {}, "webdl": {}, "web": {}, "dl": {}, "hdtv": {}, "bluray": {}, "bdrip": {},
	"brrip": {}, "dvdrip": {}, "hdrip": {}, "camrip": {}, "cam": {}, "remux": {},
	"x264": {}, "h264": {}, "x265": {}, "h265": {}, "hevc": {}, "av1": {},
	"aac": {}, "ac3": {}, "dts": {}, "ddp": {}, "atmos": {},
	"proper": {}, "repack": {}, "extended": {}, "uncut": {},
	"dubbed": {}, "sub": {}, "subs": {}, "subbed": {}, "esub": {}, "esubs": {},
	"season": {}, "episode": {}, "ep": {},
}

// Extract parses rawName into a partial MediaRecord: title, year, quality,
// languages and season/episode. Identity fields (fingerprint, channel, file
// reference) are the caller's to fill.
func Extract(rawName string) domain.MediaRecord {
	input := strings.TrimSpace(rawName)
	if input == "" {
		return domain.MediaRecord{}
	}

	input = stripContainerExtension(input)

	record := domain.MediaRecord{}
	record.Season, record.Episode = extractSeasonEpisode(input)
	record.Year = extractYear(input)

	// Separators in release names are dots and underscores as often as spaces.
	flattened := strings.NewReplacer(".", " ", "_", " ", "-", " ").Replace(input)
	flattened = bracketGroupPattern.ReplaceAllString(flattened, " ")

	seen := make(map[string]struct{})
	titleWords := make([]string, 0, 8)
	for _, word := range strings.Fields(flattened) {
		token := strings.ToLower(strings.Trim(word, "[](){}!?,:;'\""))
		if token == "" {
			continue
		}
		if tier, ok := qualityToken(token); ok {
			if record.Quality == domain.QualityUnknown || rank(tier) > rank(record.Quality) {
				record.Quality = tier
			}
			continue
		}
		if lang, ok := languageTags[token]; ok {
			if _, dup := seen["lang:"+lang]; !dup {
				seen["lang:"+lang] = struct{}{}
				record.Languages = append(record.Languages, lang)
			}
			continue
		}
		if _, junk := releaseJunk[token]; junk {
			continue
		}
		if seasonEpisodePattern.MatchString(token) || seasonXEpisodePattern.MatchString(token) {
			continue
		}
		if numeric, err := strconv.Atoi(token); err == nil {
			if numeric == record.Year || numeric == record.Season || numeric == record.Episode {
				continue
			}
		}
		titleWords = append(titleWords, strings.Trim(word, "[](){}!?,:;'\""))
	}

	record.Title = strings.Join(titleWords, " ")
	if record.Title == "" && record.Year > 0 {
		// Nothing but the year in the name; keep it as the title so the
		// record still gets index entries and stays searchable.
		record.Title = strconv.Itoa(record.Year)
	}
	record.NormalizedTitle = Normalize(record.Title)
	return record
}

// Normalize lowercases and strips punctuation, leaving space-joined letter
// and digit runs. Search queries and stored titles go through the same
// function so token matching lines up.
func Normalize(raw string) string {
	input := strings.ToLower(strings.TrimSpace(raw))
	if input == "" {
		return ""
	}
	return strings.Join(tokenPattern.FindAllString(input, -1), " ")
}

func stripContainerExtension(name string) string {
	dot := strings.LastIndexByte(name, '.')
	if dot <= 0 || dot == len(name)-1 {
		return name
	}
	ext := strings.ToLower(name[dot+1:])
	if _, ok := containerExtensions[ext]; ok {
		return name[:dot]
	}
	return name
}

func extractYear(input string) int {
	maxYear := time.Now().Year() + 1
	best := 0
	for _, match := range yearPattern.FindAllStringSubmatch(input, -1) {
		value, err := strconv.Atoi(match[1])
		if err != nil || value < 1900 || value > maxYear {
			continue
		}
		if value > best {
			best = value
		}
	}
	return best
}

func extractSeasonEpisode(input string) (int, int) {
	if match := seasonEpisodePattern.FindStringSubmatch(input); len(match) == 3 {
		return parseIntOrZero(match[1]), parseIntOrZero(match[2])
	}
	if match := longFormPattern.FindStringSubmatch(input); len(match) == 3 {
		return parseIntOrZero(match[1]), parseIntOrZero(match[2])
	}
	if match := seasonXEpisodePattern.FindStringSubmatch(input); len(match) == 3 {
		return parseIntOrZero(match[1]), parseIntOrZero(match[2])
	}
	if match := episodeOnlyPattern.FindStringSubmatch(input); len(match) == 2 {
		return 0, parseIntOrZero(match[1])
	}
	return 0, 0
}

func qualityToken(token string) (domain.Quality, bool) {
	for _, group := range qualityMarkers {
		for _, marker := range group.markers {
			if token == marker {
				return group.tier, true
			}
		}
	}
	return domain.QualityUnknown, false
}

func rank(q domain.Quality) int {
	switch q {
	case domain.QualityUHD:
		return 5
	case domain.QualityFHD:
		return 4
	case domain.QualityHDR:
		return 3
	case domain.QualityHD:
		return 2
	case domain.QualitySD:
		return 1
	default:
		return 0
	}
}

func parseIntOrZero(raw string) int {
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return value
}
