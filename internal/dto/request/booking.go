package request

type CancelBookingRequest struct {
	Reason             string `json:"reason" validate:"max=500"`
	WeatherOrEmergency bool   `json:"weather_or_emergency"`
}

// RefundQuoteRequest is read from the query string. CancelAt defaults
// to now.
type RefundQuoteRequest struct {
	WeatherOrEmergency bool   `json:"weather"`
	CancelAt           string `json:"cancel_at" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}
