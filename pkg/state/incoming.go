package state

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InsertObject records a received instance as Unsent. A second store of the
// same SOP instance within one association is ignored and reports false.
func (s *Store) InsertObject(ctx context.Context, obj *IncomingObject) (bool, error) {
	var inserted bool
	err := s.write(ctx, "insert_object", func(tx *gorm.DB) error {
		obj.Status = Unsent
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "association_id"}, {Name: "sop_instance_uid"}},
			DoNothing: true,
		}).Create(obj)
		if res.Error != nil {
			return res.Error
		}
		inserted = res.RowsAffected > 0
		return nil
	})
	return inserted, err
}

// ClaimUnsent selects up to limit rows eligible for upload, marks them Queued
// and returns them in insertion order. Rows left Queued for longer than
// requeueAfter are claimed again, which is how failed uploads are retried
// without the status ever moving backwards. A zero requeueAfter disables
// reclaiming.
func (s *Store) ClaimUnsent(ctx context.Context, limit int, requeueAfter time.Duration) ([]IncomingObject, error) {
	var rows []IncomingObject
	err := s.write(ctx, "claim_unsent", func(tx *gorm.DB) error {
		now := time.Now()
		q := tx.Where("status = ?", Unsent)
		if requeueAfter > 0 {
			q = tx.Where("status = ? OR (status = ? AND queued_at < ?)", Unsent, Queued, now.Add(-requeueAfter))
		}
		if err := q.Order("id").Limit(limit).Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]uint, len(rows))
		for i := range rows {
			ids[i] = rows[i].ID
			rows[i].Status = Queued
			rows[i].QueuedAt = &now
		}
		return tx.Model(&IncomingObject{}).
			Where("id IN ? AND status <> ?", ids, Sent).
			Updates(map[string]any{"status": Queued, "queued_at": now}).Error
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkSent advances one object to Sent. It reports false when the row is
// already Sent or no longer exists.
func (s *Store) MarkSent(ctx context.Context, associationID, sopInstanceUID string) (bool, error) {
	var changed bool
	err := s.write(ctx, "mark_sent", func(tx *gorm.DB) error {
		res := tx.Model(&IncomingObject{}).
			Where("association_id = ? AND sop_instance_uid = ? AND status <> ?", associationID, sopInstanceUID, Sent).
			Update("status", Sent)
		changed = res.RowsAffected > 0
		return res.Error
	})
	return changed, err
}

// MarkAssociationCompleted flags every row of the association as closed by
// the peer.
func (s *Store) MarkAssociationCompleted(ctx context.Context, associationID string) error {
	return s.write(ctx, "mark_association_completed", func(tx *gorm.DB) error {
		return tx.Model(&IncomingObject{}).
			Where("association_id = ?", associationID).
			Update("association_completed", true).Error
	})
}

// CountNotSent returns how many objects of the association are not yet Sent.
func (s *Store) CountNotSent(ctx context.Context, associationID string) (int64, error) {
	var n int64
	err := s.read(ctx, "count_not_sent", func(db *gorm.DB) error {
		return db.Model(&IncomingObject{}).
			Where("association_id = ? AND status <> ?", associationID, Sent).
			Count(&n).Error
	})
	return n, err
}

// CompletedAssociations returns the associations that are closed and have
// every object Sent, in order of their first object.
func (s *Store) CompletedAssociations(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.read(ctx, "completed_associations", func(db *gorm.DB) error {
		return db.Model(&IncomingObject{}).
			Select("association_id").
			Group("association_id").
			Having("SUM(CASE WHEN association_completed = ? THEN 0 ELSE 1 END) = 0", true).
			Having("SUM(CASE WHEN status <> ? THEN 1 ELSE 0 END) = 0", Sent).
			Order("MIN(id)").
			Pluck("association_id", &ids).Error
	})
	return ids, err
}

// ObjectsForAssociation returns the association's rows in insertion order.
func (s *Store) ObjectsForAssociation(ctx context.Context, associationID string) ([]IncomingObject, error) {
	var rows []IncomingObject
	err := s.read(ctx, "objects_for_association", func(db *gorm.DB) error {
		return db.Where("association_id = ?", associationID).Order("id").Find(&rows).Error
	})
	return rows, err
}

// DeleteAssociation removes the association's rows provided it is still
// closed and fully sent. It returns the number of rows removed; zero means
// the association was not eligible.
func (s *Store) DeleteAssociation(ctx context.Context, associationID string) (int64, error) {
	var deleted int64
	err := s.write(ctx, "delete_association", func(tx *gorm.DB) error {
		var pending int64
		err := tx.Model(&IncomingObject{}).
			Where("association_id = ? AND (status <> ? OR association_completed = ?)", associationID, Sent, false).
			Count(&pending).Error
		if err != nil || pending > 0 {
			return err
		}
		res := tx.Where("association_id = ?", associationID).Delete(&IncomingObject{})
		deleted = res.RowsAffected
		return res.Error
	})
	return deleted, err
}
