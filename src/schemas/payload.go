package schemas

import (
	"encoding/json"
	"errors"
	"fmt"

	"reportserver/src/models"
)

var ErrInvalidPayload = errors.New("schemas: invalid job payload")

// JobPayload is the decoded form of a job's columns, filter and sort.
type JobPayload struct {
	Columns []string
	Filter  *Filter
	Sort    *Sort
}

// DecodeJobPayload decodes the JSON payloads stored on a job. Null or empty
// filter and sort payloads decode to nil.
func DecodeJobPayload(job *models.ScheduledReportJob) (JobPayload, error) {
	var payload JobPayload

	if err := json.Unmarshal(job.Columns, &payload.Columns); err != nil {
		return JobPayload{}, fmt.Errorf("%w: columns: %v", ErrInvalidPayload, err)
	}
	if len(payload.Columns) == 0 {
		return JobPayload{}, fmt.Errorf("%w: no columns selected", ErrInvalidPayload)
	}
	if !isNull(job.Filter) {
		payload.Filter = &Filter{}
		if err := json.Unmarshal(job.Filter, payload.Filter); err != nil {
			return JobPayload{}, fmt.Errorf("%w: filter: %v", ErrInvalidPayload, err)
		}
	}
	if !isNull(job.Sort) {
		payload.Sort = &Sort{}
		if err := json.Unmarshal(job.Sort, payload.Sort); err != nil {
			return JobPayload{}, fmt.Errorf("%w: sort: %v", ErrInvalidPayload, err)
		}
	}
	return payload, nil
}

// EncodeJobPayload is the inverse of DecodeJobPayload. A nil filter or sort is
// stored as SQL NULL.
func EncodeJobPayload(columns []string, filter *Filter, sort *Sort) (cols, f, s json.RawMessage, err error) {
	if cols, err = json.Marshal(columns); err != nil {
		return nil, nil, nil, err
	}
	if filter != nil {
		if f, err = json.Marshal(filter); err != nil {
			return nil, nil, nil, err
		}
	}
	if sort != nil {
		if s, err = json.Marshal(sort); err != nil {
			return nil, nil, nil, err
		}
	}
	return cols, f, s, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
