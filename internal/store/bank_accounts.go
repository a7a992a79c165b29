package store

import (
	"github.com/pkg/errors"

	"bank-reconciliation-core/internal/models"
)

// BankAccountByID loads one bank account.
func (s *Store) BankAccountByID(tenantID, id uint) (*models.BankAccount, error) {
	var acc models.BankAccount
	err := s.db.Where("tenant_id = ? AND id = ?", tenantID, id).First(&acc).Error
	if err != nil {
		return nil, errors.Wrapf(err, "loading bank account %d", id)
	}
	return &acc, nil
}

// InsertBankAccount creates a bank account. Fixtures and seeds use it.
func (s *Store) InsertBankAccount(acc *models.BankAccount) error {
	if err := s.db.Create(acc).Error; err != nil {
		return errors.Wrap(err, "inserting bank account")
	}
	return nil
}
