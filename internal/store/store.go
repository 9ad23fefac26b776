package store

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/connexa/waconnect/internal/domain"
)

// AccountStore persists session records on gorm. It backs the connection
// supervisor and the admin API.
type AccountStore struct {
	db *gorm.DB
}

func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) Get(ctx context.Context, id int64) (*domain.WaAccount, error) {
	var acct domain.WaAccount
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&acct).Error; err != nil {
		return nil, errors.Wrapf(err, "load account %d", id)
	}
	return &acct, nil
}

// ListActive returns every administratively-enabled account.
func (s *AccountStore) ListActive(ctx context.Context) ([]domain.WaAccount, error) {
	var accts []domain.WaAccount
	err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("id").
		Find(&accts).Error
	if err != nil {
		return nil, errors.Wrap(err, "list active accounts")
	}
	return accts, nil
}

func (s *AccountStore) Update(ctx context.Context, id int64, values map[string]interface{}) error {
	err := s.db.WithContext(ctx).
		Model(&domain.WaAccount{}).
		Where("id = ?", id).
		Updates(values).Error
	return errors.Wrapf(err, "update account %d", id)
}

// IncrCounters bumps the daily message counters atomically in the database.
func (s *AccountStore) IncrCounters(ctx context.Context, id int64, sent, recv int) error {
	values := map[string]interface{}{}
	if sent != 0 {
		values["msg_sent_today"] = gorm.Expr("msg_sent_today + ?", sent)
	}
	if recv != 0 {
		values["msg_recv_today"] = gorm.Expr("msg_recv_today + ?", recv)
	}
	if len(values) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Model(&domain.WaAccount{}).
		Where("id = ?", id).
		Updates(values).Error
	return errors.Wrapf(err, "bump counters for account %d", id)
}

// ResetDailyCounters zeroes every account's daily counters; run at midnight.
func (s *AccountStore) ResetDailyCounters(ctx context.Context) error {
	err := s.db.WithContext(ctx).
		Model(&domain.WaAccount{}).
		Where("msg_sent_today > 0 OR msg_recv_today > 0").
		Updates(map[string]interface{}{"msg_sent_today": 0, "msg_recv_today": 0}).Error
	return errors.Wrap(err, "reset daily counters")
}

// Owner resolves the operator that receives alerts for an account.
func (s *AccountStore) Owner(ctx context.Context, oprID int64) (*domain.SysOpr, error) {
	var opr domain.SysOpr
	if err := s.db.WithContext(ctx).Where("id = ?", oprID).First(&opr).Error; err != nil {
		return nil, errors.Wrapf(err, "load operator %d", oprID)
	}
	return &opr, nil
}
