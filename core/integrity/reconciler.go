package integrity

import (
	"context"
	"fmt"

	"VoxFM/logger"
	"VoxFM/repository"
	"VoxFM/storage"
)

// RemovedTrack identifies one row deleted by reconciliation.
type RemovedTrack struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// Report summarizes one reconciliation run.
type Report struct {
	Checked int            `json:"checked"`
	Deleted int            `json:"deleted"`
	Removed []RemovedTrack `json:"removed"`
}

// Reconciler re-establishes the invariant that every cloud storage pointer
// references a readable object.
type Reconciler struct {
	tracks repository.TrackRepository
	store  storage.Facade
}

// NewReconciler wires the reconciler.
func NewReconciler(tracks repository.TrackRepository, store storage.Facade) *Reconciler {
	return &Reconciler{tracks: tracks, store: store}
}

// VerifyCloudTracks probes every cloud-pointer track of the user with a real
// ranged read and deletes rows whose object is gone or unreadable.
//
// 探测必须是真实读取：对象元数据存在但对象体损坏的情况，StatObject
// 发现不了。云存储未配置时不做任何判断，直接返回空报告。
func (r *Reconciler) VerifyCloudTracks(ctx context.Context, ownerID int64) (*Report, error) {
	report := &Report{Removed: []RemovedTrack{}}

	if !r.store.CloudAvailable() {
		logger.Warn("云存储未配置，跳过对象校验", logger.Int64("userId", ownerID))
		return report, nil
	}

	tracks, err := r.tracks.ListCloudTracksByUserID(ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cloud tracks for user %d: %w", ownerID, err)
	}

	for _, track := range tracks {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		report.Checked++
		if r.store.ProbeReadable(ctx, storage.CloudPointer(track.ObjectKey)) {
			continue
		}

		logger.Warn("云对象不可读，删除对应曲目",
			logger.Int64("trackId", track.ID),
			logger.String("title", track.Title),
			logger.String("objectKey", track.ObjectKey))

		if err := r.tracks.DeleteTrack(track.ID); err != nil {
			logger.Error("删除不可读曲目失败",
				logger.Int64("trackId", track.ID),
				logger.ErrorField(err))
			continue
		}
		report.Deleted++
		report.Removed = append(report.Removed, RemovedTrack{ID: track.ID, Title: track.Title})
	}

	logger.Info("对象完整性校验完成",
		logger.Int64("userId", ownerID),
		logger.Int("checked", report.Checked),
		logger.Int("deleted", report.Deleted))
	return report, nil
}
