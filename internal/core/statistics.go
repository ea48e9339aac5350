package core

import "time"

// TopPayment is one ranked payment together with the bill it belongs to.
type TopPayment struct {
	BillID         string    `json:"bill_id"`
	Position       int       `json:"position"`
	Amount         Money     `json:"amount"`
	Date           time.Time `json:"date"`
	Note           string    `json:"note,omitempty"`
	CommunityName  string    `json:"community_name"`
	Phase          string    `json:"phase"`
	BuildingNumber string    `json:"building_number"`
	RoomNumber     string    `json:"room_number"`
}

// StatisticsData summarizes bills over a window. It is built fresh for
// every query and never persisted.
type StatisticsData struct {
	StartedProjects   int          `json:"started_projects"`
	EndedProjects     int          `json:"ended_projects"`
	CompletedProjects int          `json:"completed_projects"`
	TotalPayments     Money        `json:"total_payments"`
	TopPayments       []TopPayment `json:"top_payments"`
}

// IsEmpty reports whether every count, the payment sum and the ranking are
// all zero or empty at once.
func (s StatisticsData) IsEmpty() bool {
	return s.StartedProjects == 0 &&
		s.EndedProjects == 0 &&
		s.CompletedProjects == 0 &&
		s.TotalPayments.IsZero() &&
		len(s.TopPayments) == 0
}
