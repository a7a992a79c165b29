package store

import (
	"time"

	"github.com/pkg/errors"

	"bank-reconciliation-core/internal/models"
)

// PaymentLineCandidate pairs a payment line with its batch for candidate
// scoring.
type PaymentLineCandidate struct {
	Line  models.PaymentLine
	Batch models.PaymentBatch
}

// PostedBatchesInWindow returns POSTED payment batches of one bank account
// posted inside the window, lines preloaded.
func (s *Store) PostedBatchesInWindow(tenantID, legalEntityID, bankAccountID uint, from, to time.Time) ([]models.PaymentBatch, error) {
	var rows []models.PaymentBatch
	err := s.db.Preload("Lines").
		Where("tenant_id = ? AND legal_entity_id = ? AND bank_account_id = ? AND status = ?",
			tenantID, legalEntityID, bankAccountID, models.PaymentBatchPosted).
		Where("posted_at >= ? AND posted_at <= ?", from, to).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "listing posted payment batches")
	}
	return rows, nil
}

// PostedLinesInWindow returns the lines of POSTED batches on one bank
// account and currency, each paired with its batch.
func (s *Store) PostedLinesInWindow(tenantID, legalEntityID, bankAccountID uint, currency string, from, to time.Time) ([]PaymentLineCandidate, error) {
	batches, err := s.PostedBatchesInWindow(tenantID, legalEntityID, bankAccountID, from, to)
	if err != nil {
		return nil, err
	}
	var out []PaymentLineCandidate
	for bi := range batches {
		if currency != "" && batches[bi].CurrencyCode != currency {
			continue
		}
		for li := range batches[bi].Lines {
			out = append(out, PaymentLineCandidate{
				Line:  batches[bi].Lines[li],
				Batch: batches[bi],
			})
		}
	}
	return out, nil
}

// PaymentBatchByID loads one batch, lines included.
func (s *Store) PaymentBatchByID(tenantID, id uint) (*models.PaymentBatch, error) {
	var b models.PaymentBatch
	err := s.db.Preload("Lines").Where("tenant_id = ? AND id = ?", tenantID, id).First(&b).Error
	if err != nil {
		return nil, errors.Wrapf(err, "loading payment batch %d", id)
	}
	return &b, nil
}

// PaymentBatchForUpdate loads one batch header under a row lock.
func (s *Store) PaymentBatchForUpdate(tenantID, id uint) (*models.PaymentBatch, error) {
	var b models.PaymentBatch
	err := s.forUpdate(s.db).Where("tenant_id = ? AND id = ?", tenantID, id).First(&b).Error
	if err != nil {
		return nil, errors.Wrapf(err, "locking payment batch %d", id)
	}
	return &b, nil
}

// SaveBatch persists every column of the batch header.
func (s *Store) SaveBatch(b *models.PaymentBatch) error {
	if err := s.db.Omit("Lines").Save(b).Error; err != nil {
		return errors.Wrapf(err, "saving payment batch %d", b.ID)
	}
	return nil
}

// PaymentLineByID loads one payment line.
func (s *Store) PaymentLineByID(tenantID, id uint) (*models.PaymentLine, error) {
	var l models.PaymentLine
	err := s.db.Where("tenant_id = ? AND id = ?", tenantID, id).First(&l).Error
	if err != nil {
		return nil, errors.Wrapf(err, "loading payment line %d", id)
	}
	return &l, nil
}

// PaymentLineForUpdate loads one payment line under a row lock.
func (s *Store) PaymentLineForUpdate(tenantID, id uint) (*models.PaymentLine, error) {
	var l models.PaymentLine
	err := s.forUpdate(s.db).Where("tenant_id = ? AND id = ?", tenantID, id).First(&l).Error
	if err != nil {
		return nil, errors.Wrapf(err, "locking payment line %d", id)
	}
	return &l, nil
}

// PaymentLinesForBatch returns a batch's lines in line-number order.
func (s *Store) PaymentLinesForBatch(tenantID, batchID uint) ([]models.PaymentLine, error) {
	var rows []models.PaymentLine
	err := s.db.Where("tenant_id = ? AND payment_batch_id = ?", tenantID, batchID).
		Order("line_no ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrapf(err, "listing lines of payment batch %d", batchID)
	}
	return rows, nil
}

// SavePaymentLine persists every column of the payment line.
func (s *Store) SavePaymentLine(l *models.PaymentLine) error {
	if err := s.db.Save(l).Error; err != nil {
		return errors.Wrapf(err, "saving payment line %d", l.ID)
	}
	return nil
}

// InsertReturnEvent creates a return event. A duplicate (tenant, LE,
// requestId) surfaces as gorm.ErrDuplicatedKey for the idempotent path.
func (s *Store) InsertReturnEvent(ev *models.PaymentReturnEvent) error {
	if err := s.db.Create(ev).Error; err != nil {
		return errors.Wrap(err, "inserting payment return event")
	}
	return nil
}

// ReturnEventByRequestID loads a return event by its idempotency key.
func (s *Store) ReturnEventByRequestID(tenantID, legalEntityID uint, requestID string) (*models.PaymentReturnEvent, error) {
	var ev models.PaymentReturnEvent
	err := s.db.Where("tenant_id = ? AND legal_entity_id = ? AND request_id = ?",
		tenantID, legalEntityID, requestID).First(&ev).Error
	if err != nil {
		return nil, errors.Wrapf(err, "loading return event %q", requestID)
	}
	return &ev, nil
}

// InsertBatchAudit appends one row to a batch's audit trail.
func (s *Store) InsertBatchAudit(a *models.PaymentBatchAudit) error {
	if err := s.db.Create(a).Error; err != nil {
		return errors.Wrap(err, "inserting payment batch audit")
	}
	return nil
}
