package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"roomchat/pkg/domain"
	"roomchat/pkg/storage"
)

// Transcript is the document uploaded for a finished export.
type Transcript struct {
	RoomID     string           `json:"roomId"`
	ExportedAt time.Time        `json:"exportedAt"`
	Messages   []HistoryMessage `json:"messages"`
}

// RequestExport queues a transcript export of a room.
func (a *App) RequestExport(ctx context.Context, roomID string, user *domain.User) (domain.ExportJob, error) {
	if user == nil {
		return domain.ExportJob{}, ErrUnauthenticated
	}
	if a.exports == nil {
		return domain.ExportJob{}, ErrExportsDisabled
	}
	roomID, err := validateRoomID(roomID)
	if err != nil {
		return domain.ExportJob{}, err
	}
	if err := a.requireRoom(ctx, roomID); err != nil {
		return domain.ExportJob{}, err
	}
	job, err := a.exports.Enqueue(ctx, roomID, user.ID)
	if err != nil {
		return domain.ExportJob{}, fmt.Errorf("enqueue export: %w", err)
	}
	return job, nil
}

// ExportStatus returns a job owned by user, with a download URL once done.
// Jobs of other users are reported as not found.
func (a *App) ExportStatus(ctx context.Context, jobID string, user *domain.User) (domain.ExportJob, error) {
	if user == nil {
		return domain.ExportJob{}, ErrUnauthenticated
	}
	if a.exports == nil {
		return domain.ExportJob{}, ErrExportsDisabled
	}
	job, ok, err := a.exports.GetJob(ctx, jobID)
	if err != nil {
		return domain.ExportJob{}, fmt.Errorf("fetch export: %w", err)
	}
	if !ok || job.RequestedBy != user.ID {
		return domain.ExportJob{}, ErrExportNotFound
	}
	if job.Status == domain.ExportDone && job.ObjectKey != "" {
		url, err := a.objects.PresignGet(ctx, job.ObjectKey, a.exportURLTTL)
		if err != nil {
			return domain.ExportJob{}, fmt.Errorf("presign transcript: %w", err)
		}
		job.DownloadURL = url
	}
	return job, nil
}

// RunExport uploads the full transcript of the job's room and returns its
// object key. It is the export queue's handler.
func (a *App) RunExport(ctx context.Context, job domain.ExportJob) (string, error) {
	if a.objects == nil {
		return "", ErrExportsDisabled
	}
	msgs, err := a.store.RoomTranscript(ctx, job.RoomID)
	if err != nil {
		return "", fmt.Errorf("load transcript: %w", err)
	}
	body, err := json.Marshal(Transcript{
		RoomID:     job.RoomID,
		ExportedAt: a.now(),
		Messages:   HistoryFromMessages(msgs),
	})
	if err != nil {
		return "", fmt.Errorf("encode transcript: %w", err)
	}
	key := storage.TranscriptKey(job.RoomID, job.ID)
	if err := a.objects.Put(ctx, key, bytes.NewReader(body), int64(len(body)), "application/json"); err != nil {
		return "", err
	}
	slog.Info("transcript exported", "job_id", job.ID, "room_id", job.RoomID, "messages", len(msgs))
	return key, nil
}
