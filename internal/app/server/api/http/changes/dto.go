package changes

import "tether/internal/domain/sync"

type listInput struct {
	Since int64 `query:"since" minimum:"0" doc:"Return entries with seq greater than this"`
	Limit int   `query:"limit" default:"500" minimum:"1" maximum:"1000" doc:"Page size"`
}

type listOutput struct {
	Body listResponse
}

type listResponse struct {
	Changes []sync.ChangeLogEntry `json:"changes" doc:"Entries in seq order"`
}

type maxSeqOutput struct {
	Body maxSeqResponse
}

type maxSeqResponse struct {
	MaxSeq int64 `json:"max_seq" doc:"Highest seq in the change log, 0 when empty"`
}
