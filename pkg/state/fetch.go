package state

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertFetchJob inserts a FetchJob keyed by (job id, SOP instance UID). An
// existing row keeps its position and its fetched/forwarded flags; only the
// routing columns are refreshed.
func (s *Store) UpsertFetchJob(ctx context.Context, job *FetchJob) error {
	return s.write(ctx, "upsert_fetch_job", func(tx *gorm.DB) error {
		now := time.Now()
		job.OfferedAt = &now
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "job_id"}, {Name: "sop_instance_uid"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"source_ae", "destination_ae", "destination_host", "destination_port",
				"study_uid", "series_uid", "local_path", "source_key", "offered_at",
			}),
		}).Create(job).Error
	})
}

// MarkFetched flips the fetched flag of one row. It reports false when the
// row was already fetched, so the flag changes exactly once.
func (s *Store) MarkFetched(ctx context.Context, jobID, sopInstanceUID string) (bool, error) {
	var changed bool
	err := s.write(ctx, "mark_fetched", func(tx *gorm.DB) error {
		res := tx.Model(&FetchJob{}).
			Where("job_id = ? AND sop_instance_uid = ? AND fetched = ?", jobID, sopInstanceUID, false).
			Update("fetched", true)
		changed = res.RowsAffected > 0
		return res.Error
	})
	return changed, err
}

// PendingFetchCount returns how many rows of the job are not yet fetched.
func (s *Store) PendingFetchCount(ctx context.Context, jobID string) (int64, error) {
	var n int64
	err := s.read(ctx, "pending_fetch_count", func(db *gorm.DB) error {
		return db.Model(&FetchJob{}).Where("job_id = ? AND fetched = ?", jobID, false).Count(&n).Error
	})
	return n, err
}

// FetchJobs returns the job's rows in creation order.
func (s *Store) FetchJobs(ctx context.Context, jobID string) ([]FetchJob, error) {
	var rows []FetchJob
	err := s.read(ctx, "fetch_jobs", func(db *gorm.DB) error {
		return db.Where("job_id = ?", jobID).Order("id").Find(&rows).Error
	})
	return rows, err
}

// ReadyJobs returns jobs whose rows are all fetched and none forwarded, in
// order of their first row.
func (s *Store) ReadyJobs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.read(ctx, "ready_jobs", func(db *gorm.DB) error {
		return db.Model(&FetchJob{}).
			Select("job_id").
			Group("job_id").
			Having("SUM(CASE WHEN fetched = ? THEN 0 ELSE 1 END) = 0", true).
			Having("SUM(CASE WHEN forwarded = ? THEN 1 ELSE 0 END) = 0", true).
			Order("MIN(id)").
			Pluck("job_id", &ids).Error
	})
	return ids, err
}

// MarkForwarded flags every row of the job as handed to the send stage.
func (s *Store) MarkForwarded(ctx context.Context, jobID string) error {
	return s.write(ctx, "mark_forwarded", func(tx *gorm.DB) error {
		return tx.Model(&FetchJob{}).Where("job_id = ?", jobID).Update("forwarded", true).Error
	})
}

// DeleteFetchJobs removes every row of the job so a later forward request
// expands it from scratch.
func (s *Store) DeleteFetchJobs(ctx context.Context, jobID string) (int64, error) {
	var deleted int64
	err := s.write(ctx, "delete_fetch_jobs", func(tx *gorm.DB) error {
		res := tx.Where("job_id = ?", jobID).Delete(&FetchJob{})
		deleted = res.RowsAffected
		return res.Error
	})
	return deleted, err
}

// JobForwarded reports whether any row of the job was already forwarded.
func (s *Store) JobForwarded(ctx context.Context, jobID string) (bool, error) {
	var n int64
	err := s.read(ctx, "job_forwarded", func(db *gorm.DB) error {
		return db.Model(&FetchJob{}).Where("job_id = ? AND forwarded = ?", jobID, true).Count(&n).Error
	})
	return n > 0, err
}

// ClaimStaleFetches returns up to limit unfetched rows last offered before
// cutoff and stamps them as offered now.
func (s *Store) ClaimStaleFetches(ctx context.Context, cutoff time.Time, limit int) ([]FetchJob, error) {
	var rows []FetchJob
	err := s.write(ctx, "claim_stale_fetches", func(tx *gorm.DB) error {
		err := tx.Where("fetched = ? AND forwarded = ? AND offered_at < ?", false, false, cutoff).
			Order("id").Limit(limit).Find(&rows).Error
		if err != nil || len(rows) == 0 {
			return err
		}

		now := time.Now()
		ids := make([]uint, len(rows))
		for i := range rows {
			ids[i] = rows[i].ID
			rows[i].OfferedAt = &now
		}
		return tx.Model(&FetchJob{}).Where("id IN ?", ids).Update("offered_at", now).Error
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// DeleteForwardedBefore removes forwarded rows older than cutoff.
func (s *Store) DeleteForwardedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.write(ctx, "delete_forwarded", func(tx *gorm.DB) error {
		res := tx.Where("forwarded = ? AND created_at < ?", true, cutoff).Delete(&FetchJob{})
		deleted = res.RowsAffected
		return res.Error
	})
	return deleted, err
}
