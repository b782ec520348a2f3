package dto

import "basegraph.app/materializer/internal/model"

type ChangeRequest struct {
	Table      string          `json:"table" binding:"required"`
	Operation  model.Operation `json:"operation" binding:"required,oneof=INSERT UPDATE DELETE"`
	RowID      string          `json:"row_id" binding:"required"`
	DeletedRow map[string]any  `json:"deleted_row,omitempty"`
}

func (r ChangeRequest) Event(traceID string) model.ChangeEvent {
	return model.ChangeEvent{
		Table:      r.Table,
		Operation:  r.Operation,
		RowID:      r.RowID,
		DeletedRow: r.DeletedRow,
		TraceID:    traceID,
	}
}

type ChangeBatchRequest struct {
	Events []ChangeRequest `json:"events" binding:"required,min=1,max=1000,dive"`
}

type ChangeResponse struct {
	Accepted int `json:"accepted"`
}
