package handlers

import (
	"github.com/iudanet/rollcall/internal/models"
	"github.com/iudanet/rollcall/pkg/api"
)

func toAPIRecord(rec *models.Record) api.Record {
	return api.Record{
		ID:             rec.ID,
		Fields:         rec.Fields,
		Version:        rec.Version,
		LastModifiedBy: rec.LastModifiedBy,
		LastModifiedAt: rec.LastModifiedAt,
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
		Seq:           e.Seq,
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

func toAPIRestore(res *models.RestoreResult) api.RestoreResponse {
	out := api.RestoreResponse{
		Status:         string(res.Status),
		Reason:         res.Reason,
		NewValues:      res.NewValues,
		RestoredFields: res.RestoredFields,
		Replayed:       res.Replayed,
	}
	if res.Record != nil {
		rec := toAPIRecord(res.Record)
		out.Record = &rec
	}
	if res.Entry != nil {
		entry := toAPIEntry(res.Entry)
		out.Entry = &entry
	}
	return out
}

// ToAPIEvent converts a feed event to its wire form
func ToAPIEvent(ev models.ChangeEvent) api.ChangeEvent {
	return api.ChangeEvent{
		RecordID:      ev.RecordID,
		Version:       ev.Version,
		ChangedFields: ev.ChangedFields,
		ActorID:       ev.ActorID,
		Action:        string(ev.Action),
		SourceEntryID: ev.SourceEntryID,
		At:            ev.At,
	}
}
