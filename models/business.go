package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/remit_backend/config"
	"bitbucket.org/mmdatafocus/remit_backend/utils"
	"github.com/google/uuid"
)

// Business is the tenant. Every tenant-owned row carries its id and the
// tenant-guard plugin scopes queries to it.
type Business struct {
	ID          uuid.UUID `gorm:"primary_key" json:"id"`
	Name        string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	ContactName string    `gorm:"size:100" json:"contact_name"`
	Email       string    `gorm:"size:255" json:"email"`
	Phone       string    `gorm:"size:20" json:"phone"`
	Timezone    string    `gorm:"size:50" json:"timezone"`

	// External accounting ledger connection.
	LedgerTenantId    *string `gorm:"size:100" json:"ledger_tenant_id"`
	LedgerBankAccount string  `gorm:"size:100" json:"ledger_bank_account"`

	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBusiness struct {
	Name              string `json:"name" binding:"required"`
	ContactName       string `json:"contact_name"`
	Email             string `json:"email" binding:"required"`
	Phone             string `json:"phone"`
	Timezone          string `json:"timezone"`
	LedgerBankAccount string `json:"ledger_bank_account"`
}

func CreateBusiness(ctx context.Context, input *NewBusiness) (*Business, error) {
	if !utils.IsValidEmail(input.Email) {
		return nil, errors.New("invalid email")
	}
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return nil, err
		}
	}

	db := config.GetDB()
	business := Business{
		ID:                uuid.New(),
		Name:              input.Name,
		ContactName:       input.ContactName,
		Email:             input.Email,
		Phone:             input.Phone,
		Timezone:          input.Timezone,
		LedgerBankAccount: input.LedgerBankAccount,
		IsActive:          utils.NewTrue(),
	}
	if err := db.WithContext(ctx).Create(&business).Error; err != nil {
		return nil, err
	}
	return &business, nil
}

/*
caches:
	Business:$businessId
*/

func GetBusinessById(ctx context.Context, businessId string) (*Business, error) {
	var business Business
	redisKey := "Business:" + businessId
	exists, err := config.GetRedisObject(redisKey, &business)
	if err != nil {
		return nil, err
	}
	if exists {
		return &business, nil
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Where("id = ?", businessId).First(&business).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if err := config.SetRedisObject(redisKey, &business, 0); err != nil {
		return nil, err
	}
	return &business, nil
}

func (b Business) RemoveInstanceRedis() error {
	return config.RemoveRedisKey("Business:" + b.ID.String())
}

// ListActiveBusinessIds feeds the daily poll fan-out.
func ListActiveBusinessIds(ctx context.Context) ([]string, error) {
	db := config.GetDB()
	var ids []string
	err := db.WithContext(ctx).Model(&Business{}).
		Where("is_active = ?", true).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list active businesses: %w", err)
	}
	return ids, nil
}
