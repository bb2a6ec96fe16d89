// ABOUTME: Keyword-based intent classification for inbound chat requests
// ABOUTME: Any hotel keyword routes to hotel search; everything else is a flight search

// Package intent decides which search a chat message is asking for.
package intent

import "strings"

// Intent is the search category of a request.
type Intent int

const (
	FlightSearch Intent = iota
	HotelSearch
)

// String returns the label used in logs, metrics and the request ledger.
func (i Intent) String() string {
	switch i {
	case FlightSearch:
		return "flight_search"
	case HotelSearch:
		return "hotel_search"
	default:
		return "unknown"
	}
}

// Noun returns the plural search subject, e.g. "flights".
func (i Intent) Noun() string {
	if i == HotelSearch {
		return "hotels"
	}
	return "flights"
}

// hotelKeywords are matched as case-insensitive substrings. This is a
// heuristic: "hotel near the airport for my flight" is a hotel search.
var hotelKeywords = []string{
	"hotel",
	"hotels",
	"accommodation",
	"stay",
	"booking",
	"room",
	"lodge",
	"resort",
}

// Classify returns HotelSearch when text contains any hotel keyword and
// FlightSearch otherwise.
func Classify(text string) Intent {
	lower := strings.ToLower(text)
	for _, kw := range hotelKeywords {
		if strings.Contains(lower, kw) {
			return HotelSearch
		}
	}
	return FlightSearch
}
