package health

import "time"

type Input struct{}

type Output struct {
	Body Response
}

// Response is public, so it carries nothing a client could not learn from the change log anyway.
type Response struct {
	Status     string    `json:"status" example:"OK" doc:"Health status of the service"`
	Database   string    `json:"database" example:"OK" doc:"Database reachability"`
	MaxSeq     int64     `json:"max_seq" doc:"Head of the change log"`
	ServerTime time.Time `json:"server_time" doc:"Server clock, compare with local clock to spot skew"`
}
