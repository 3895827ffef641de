package domain

// Page bounds one result window of a search.
type Page struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// ScoredRecord pairs a record with its relevance for one query, score in [0,1].
type ScoredRecord struct {
	Record    MediaRecord `json:"record"`
	Score     float64     `json:"score"`
	Corrected bool        `json:"corrected,omitempty"`
}

// QueryResult is one immutable page of ranked matches. Total is the size of
// the full candidate set the page was cut from; it may lag writes within one
// cache TTL window.
type QueryResult struct {
	Items     []ScoredRecord `json:"items"`
	Total     int            `json:"total"`
	Offset    int            `json:"offset"`
	Limit     int            `json:"limit"`
	Corrected bool           `json:"corrected,omitempty"`
}
