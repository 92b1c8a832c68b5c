package main

import (
	"bytes"
	"context"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/remit_backend/config"
	"bitbucket.org/mmdatafocus/remit_backend/models"
	"bitbucket.org/mmdatafocus/remit_backend/utils"
	"bitbucket.org/mmdatafocus/remit_backend/workflow"
	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type uploadSignRequest struct {
	FileName string `json:"fileName" binding:"required"`
	MimeType string `json:"mimeType" binding:"required"`
	Size     int64  `json:"size" binding:"required"`
}

type uploadCompleteRequest struct {
	ObjectKey string `json:"objectKey" binding:"required"`
	FileName  string `json:"fileName"`
	MimeType  string `json:"mimeType"`
	Size      int64  `json:"size"`
}

type uploadSignResponse struct {
	UploadURL string            `json:"uploadUrl"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	ObjectKey string            `json:"objectKey"`
	AccessURL string            `json:"accessUrl"`
	ExpiresAt string            `json:"expiresAt"`
}

const maxUploadSizeBytes int64 = 10 * 1024 * 1024

var imageMimeTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// advice documents arrive as PDFs or photos of printed advices
var adviceMimeTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
}

var mimeExtensions = map[string]string{
	"application/pdf": ".pdf",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
}

// signUploadHandler issues a V4 signed PUT URL so the advice binary goes
// straight to the bucket without passing through this service.
func signUploadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		ctx := c.Request.Context()

		businessId, ok := utils.GetBusinessIdFromContext(ctx)
		if !ok || businessId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req uploadSignRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "fileName, mimeType and size are required"})
			return
		}
		if req.Size > maxUploadSizeBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file size exceeds 10MB limit"})
			return
		}
		if !adviceMimeTypes[req.MimeType] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type"})
			return
		}

		ext := strings.ToLower(filepath.Ext(req.FileName))
		if ext == "" {
			ext = mimeExtensions[req.MimeType]
		}
		objectKey := path.Join(businessId, "remittances", uuid.New().String()+ext)

		signed, err := utils.SignUpload(ctx, objectKey, req.MimeType, 15*time.Minute)
		if err != nil {
			config.LogError(logger, "uploads.go", "signUploadHandler", "SignUpload", objectKey, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign upload"})
			return
		}

		logger.WithFields(logrus.Fields{
			"business_id": businessId,
			"mime_type":   req.MimeType,
			"size":        req.Size,
			"object_key":  objectKey,
		}).Info("[upload.sign]")

		c.JSON(http.StatusOK, gin.H{
			"data": uploadSignResponse{
				UploadURL: signed.UploadURL,
				Method:    signed.Method,
				Headers:   signed.Headers,
				ObjectKey: signed.ObjectKey,
				AccessURL: signed.AccessURL,
				ExpiresAt: signed.ExpiresAt.UTC().Format(time.RFC3339),
			},
		})
	}
}

// completeUploadHandler registers the uploaded advice: a Document row, a
// Remittance in Uploaded, and the upload audit entry in one transaction.
// Image uploads additionally get a server-side thumbnail.
func completeUploadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		ctx := c.Request.Context()

		businessId, ok := utils.GetBusinessIdFromContext(ctx)
		if !ok || businessId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		actor := workflow.ActorFromContext(ctx)

		var req uploadCompleteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "objectKey is required"})
			return
		}
		// The object key encodes the tenant; a caller may only register
		// objects under its own prefix.
		if !strings.HasPrefix(req.ObjectKey, businessId+"/") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid object key"})
			return
		}

		thumbnailKey := ""
		if imageMimeTypes[req.MimeType] {
			key, err := createThumbnail(ctx, req.ObjectKey)
			if err != nil {
				config.LogError(logger, "uploads.go", "completeUploadHandler", "createThumbnail", req.ObjectKey, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate thumbnail"})
				return
			}
			thumbnailKey = key
		}

		var remittance *models.Remittance
		db := config.GetDB()
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			document := models.Document{
				BusinessId:   businessId,
				ObjectKey:    req.ObjectKey,
				FileName:     req.FileName,
				ContentType:  req.MimeType,
				SizeBytes:    req.Size,
				ThumbnailKey: thumbnailKey,
				UploadedBy:   actor.UserName,
			}
			if err := document.Store(tx, ctx); err != nil {
				return err
			}

			remittance = &models.Remittance{
				BusinessId: businessId,
				DocumentId: document.ID,
				Status:     models.RemittanceStatusUploaded,
			}
			if err := tx.Create(remittance).Error; err != nil {
				return err
			}

			return models.AppendAuditLog(tx, &models.AuditLogEntry{
				BusinessId:   businessId,
				RemittanceId: remittance.ID,
				UserId:       &actor.UserId,
				UserName:     actor.UserName,
				Action:       models.AuditActionUpload,
				Outcome:      models.AuditOutcomeSuccess,
				Reason:       req.FileName,
				NewStatus:    models.RemittanceStatusUploaded,
			})
		})
		if err != nil {
			config.LogError(logger, "uploads.go", "completeUploadHandler", "transaction", req.ObjectKey, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register upload"})
			return
		}

		logger.WithFields(logrus.Fields{
			"business_id":   businessId,
			"object_key":    req.ObjectKey,
			"remittance_id": remittance.ID,
		}).Info("[upload.complete]")

		c.JSON(http.StatusOK, gin.H{"data": presentRemittance(remittance)})
	}
}

func createThumbnail(ctx context.Context, objectKey string) (string, error) {
	data, err := utils.ReadObjectFromGCS(ctx, objectKey, maxUploadSizeBytes)
	if err != nil {
		return "", err
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	thumbnail := imaging.Resize(img, 200, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumbnail, imaging.JPEG); err != nil {
		return "", err
	}

	thumbnailKey := path.Join(path.Dir(objectKey), "thumbnails", path.Base(objectKey))
	if _, err := utils.UploadBytesToGCS(ctx, thumbnailKey, "image/jpeg", buf.Bytes()); err != nil {
		return "", err
	}
	return thumbnailKey, nil
}
