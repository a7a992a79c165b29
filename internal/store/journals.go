package store

import (
	"time"

	"github.com/pkg/errors"

	"bank-reconciliation-core/internal/models"
)

// PreferredBookCode is picked first when a legal entity has several books.
const PreferredBookCode = "LOCAL"

// ResolveBookAndPeriod finds the posting book for a legal entity (the LOCAL
// book when present, else the primary, else the first) and the fiscal
// period covering postDate. The pair must be OPEN; a missing period-status
// row counts as OPEN.
func (s *Store) ResolveBookAndPeriod(tenantID, legalEntityID uint, postDate time.Time) (*models.LedgerBook, *models.FiscalPeriod, error) {
	var books []models.LedgerBook
	err := s.db.Where("tenant_id = ? AND legal_entity_id = ?", tenantID, legalEntityID).
		Order("id ASC").Find(&books).Error
	if err != nil {
		return nil, nil, errors.Wrap(err, "listing ledger books")
	}
	if len(books) == 0 {
		return nil, nil, errors.Errorf("no ledger book for legal entity %d", legalEntityID)
	}
	book := &books[0]
	for i := range books {
		if books[i].BookCode == PreferredBookCode {
			book = &books[i]
			break
		}
		if books[i].IsPrimary && book.BookCode != PreferredBookCode {
			book = &books[i]
		}
	}

	var period models.FiscalPeriod
	err = s.db.Where("tenant_id = ? AND start_date <= ? AND end_date >= ?",
		tenantID, postDate, postDate).First(&period).Error
	if err != nil {
		return nil, nil, errors.Wrapf(err, "no fiscal period covers %s", postDate.Format("2006-01-02"))
	}

	var bps models.BookPeriodStatus
	err = s.db.Where("tenant_id = ? AND ledger_book_id = ? AND fiscal_period_id = ?",
		tenantID, book.ID, period.ID).First(&bps).Error
	if err == nil && !bps.Status.AcceptsPostings() {
		return nil, nil, errors.Errorf("period %s is %s for book %s", period.PeriodCode, bps.Status, book.BookCode)
	}
	if err != nil && !IsNotFound(err) {
		return nil, nil, errors.Wrap(err, "checking period status")
	}
	return book, &period, nil
}

// JournalByNo loads a journal by its deterministic number within a book.
func (s *Store) JournalByNo(tenantID, bookID uint, journalNo string) (*models.JournalEntry, error) {
	var j models.JournalEntry
	err := s.db.Where("tenant_id = ? AND ledger_book_id = ? AND journal_no = ?",
		tenantID, bookID, journalNo).First(&j).Error
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading journal %s", journalNo)
	}
	return &j, nil
}

// JournalByID loads one journal, lines included.
func (s *Store) JournalByID(tenantID, id uint) (*models.JournalEntry, error) {
	var j models.JournalEntry
	err := s.db.Preload("Lines").Where("tenant_id = ? AND id = ?", tenantID, id).First(&j).Error
	if err != nil {
		return nil, errors.Wrapf(err, "loading journal %d", id)
	}
	return &j, nil
}

// InsertJournal creates a journal header together with its lines.
func (s *Store) InsertJournal(j *models.JournalEntry) error {
	for i := range j.Lines {
		j.Lines[i].TenantID = j.TenantID
		j.Lines[i].LineNo = i + 1
	}
	if err := s.db.Create(j).Error; err != nil {
		return errors.Wrap(err, "inserting journal")
	}
	return nil
}

// PostedJournalCandidates returns POSTED journals of a legal entity dated
// inside the window that touch the given GL account, lines preloaded.
func (s *Store) PostedJournalCandidates(tenantID, legalEntityID, glAccountID uint, from, to time.Time) ([]models.JournalEntry, error) {
	var rows []models.JournalEntry
	err := s.db.Preload("Lines").
		Where("tenant_id = ? AND legal_entity_id = ? AND status = ?",
			tenantID, legalEntityID, models.JournalPosted).
		Where("journal_date >= ? AND journal_date <= ?", from, to).
		Where("id IN (?)", s.db.Model(&models.JournalLine{}).
			Select("journal_entry_id").
			Where("tenant_id = ? AND account_id = ?", tenantID, glAccountID)).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "listing journal candidates")
	}
	return rows, nil
}
