package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/remit_backend/config"
	"bitbucket.org/mmdatafocus/remit_backend/utils"
	"gorm.io/gorm"
)

// Document is the uploaded remittance advice file. The binary lives in
// object storage; this row keeps the object key plus display metadata.
type Document struct {
	ID           int       `gorm:"primary_key" json:"id"`
	BusinessId   string    `gorm:"index;not null" json:"business_id"`
	ObjectKey    string    `gorm:"size:500;not null" json:"object_key"`
	FileName     string    `gorm:"size:255" json:"file_name"`
	ContentType  string    `gorm:"size:100" json:"content_type"`
	SizeBytes    int64     `json:"size_bytes"`
	ThumbnailKey string    `gorm:"size:500" json:"thumbnail_key"`
	UploadedBy   string    `gorm:"size:100" json:"uploaded_by"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// DocumentUrl resolves the object key to a browser-usable URL.
func (d *Document) DocumentUrl() string {
	return utils.BuildObjectAccessURL(d.ObjectKey)
}

func (d *Document) ThumbnailUrl() string {
	if d.ThumbnailKey == "" {
		return ""
	}
	return utils.BuildObjectAccessURL(d.ThumbnailKey)
}

func (d *Document) Store(tx *gorm.DB, ctx context.Context) error {
	return tx.WithContext(ctx).Create(&d).Error
}

func GetDocument(ctx context.Context, id int) (*Document, error) {
	var result Document
	db := config.GetDB()
	if err := db.WithContext(ctx).First(&result, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

// DeleteObject removes the stored binary and its thumbnail. Called only
// from retention cleanup, never from the remittance workflows.
func (d *Document) DeleteObject(ctx context.Context) error {
	if err := utils.DeleteObjectFromGCS(ctx, d.ObjectKey); err != nil {
		return err
	}
	if d.ThumbnailKey != "" {
		if err := utils.DeleteObjectFromGCS(ctx, d.ThumbnailKey); err != nil {
			return err
		}
	}
	return nil
}
