package api

import (
	"github.com/iudanet/rollcall/internal/models"
	"github.com/iudanet/rollcall/pkg/api"
)

func fromAPIRecord(r api.Record) *models.Record {
	fields := r.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	return &models.Record{
		ID:             r.ID,
		Fields:         fields,
		Version:        r.Version,
		LastModifiedBy: r.LastModifiedBy,
		LastModifiedAt: r.LastModifiedAt,
	}
}

func toAPIEntry(e *models.ChangeLogEntry) api.ChangeLogEntry {
	return api.ChangeLogEntry{
		ID:            e.ID,
		RecordID:      e.RecordID,
		ActionType:    string(e.ActionType),
		Before:        e.Before,
		After:         e.After,
		ActorID:       e.ActorID,
		CreatedAt:     e.CreatedAt,
		RecordVersion: e.RecordVersion,
		Metadata:      e.Metadata,
	}
}

func fromAPIEntry(e api.ChangeLogEntry) *models.ChangeLogEntry {
	return &models.ChangeLogEntry{
		ID:            e.ID,
		RecordID:      e.RecordID,
		ActionType:    models.ActionType(e.ActionType),
		Before:        e.Before,
		After:         e.After,
		ActorID:       e.ActorID,
		CreatedAt:     e.CreatedAt,
		RecordVersion: e.RecordVersion,
		Seq:           e.Seq,
		Metadata:      e.Metadata,
	}
}

func fromAPIRestore(r api.RestoreResponse) *models.RestoreResult {
	out := &models.RestoreResult{
		Status:         models.RestoreStatus(r.Status),
		Reason:         r.Reason,
		NewValues:      r.NewValues,
		RestoredFields: r.RestoredFields,
		Replayed:       r.Replayed,
	}
	if r.Record != nil {
		out.Record = fromAPIRecord(*r.Record)
	}
	if r.Entry != nil {
		out.Entry = fromAPIEntry(*r.Entry)
	}
	return out
}

func fromAPIEvent(ev api.ChangeEvent) models.ChangeEvent {
	return models.ChangeEvent{
		RecordID:      ev.RecordID,
		Version:       ev.Version,
		ChangedFields: ev.ChangedFields,
		ActorID:       ev.ActorID,
		Action:        models.ActionType(ev.Action),
		SourceEntryID: ev.SourceEntryID,
		At:            ev.At,
	}
}
