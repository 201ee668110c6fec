package routes

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/acme-studios/cf-rag-agent/internal/config"
	"github.com/acme-studios/cf-rag-agent/internal/logger"
	"github.com/acme-studios/cf-rag-agent/internal/queue"
	"github.com/acme-studios/cf-rag-agent/internal/store"
	"github.com/acme-studios/cf-rag-agent/middleware"
	"github.com/acme-studios/cf-rag-agent/models"
	"github.com/acme-studios/cf-rag-agent/utils"
)

// HandleUpload accepts a document, stores the raw file, inserts a pending
// row and enqueues ingestion. The response returns as soon as the task is
// queued; clients poll GET /documents/:id for progress.
func HandleUpload(cfg *config.Config, st *store.Store, enqueuer *queue.Enqueuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := middleware.GetSessionID(c)

		if err := c.Request.ParseMultipartForm(cfg.MaxFileSize); err != nil {
			utils.RespondWithError(c, http.StatusBadRequest, "File size exceeds maximum limit")
			return
		}

		file, header, err := c.Request.FormFile("file")
		if err != nil {
			utils.RespondWithError(c, http.StatusBadRequest, "No file provided")
			return
		}
		defer file.Close()

		if header.Size > cfg.MaxFileSize {
			utils.RespondWithError(c, http.StatusBadRequest, "File size exceeds maximum limit")
			return
		}

		contentType := detectContentType(header.Header.Get("Content-Type"), header.Filename)
		if !typeAllowed(cfg.AllowedTypes, contentType) {
			utils.RespondWithError(c, http.StatusBadRequest, "Unsupported file type: "+contentType)
			return
		}

		documentID := uuid.NewString()

		uploadDir := filepath.Join(cfg.FileStorageDir, sessionID)
		if err := os.MkdirAll(uploadDir, 0755); err != nil {
			logger.Error("Failed to create upload directory", "dir", uploadDir, "error", err)
			utils.RespondWithError(c, http.StatusInternalServerError, "Failed to store file")
			return
		}

		filePath := filepath.Join(uploadDir, documentID+filepath.Ext(header.Filename))
		dst, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			logger.Error("Failed to open destination file", "path", filePath, "error", err)
			utils.RespondWithError(c, http.StatusInternalServerError, "Failed to store file")
			return
		}
		if _, err := io.Copy(dst, file); err != nil {
			dst.Close()
			os.Remove(filePath)
			logger.Error("Failed to write uploaded file", "path", filePath, "error", err)
			utils.RespondWithError(c, http.StatusInternalServerError, "Failed to store file")
			return
		}
		dst.Close()

		doc := &models.Document{
			ID:          documentID,
			SessionID:   sessionID,
			Filename:    filepath.Base(header.Filename),
			FilePath:    filePath,
			ContentType: contentType,
			Size:        header.Size,
			Status:      models.StatusPending,
		}

		ctx := c.Request.Context()
		if err := st.InsertDocument(ctx, doc); err != nil {
			os.Remove(filePath)
			logger.Error("Failed to insert document", "document", documentID, "error", err)
			utils.RespondWithError(c, http.StatusInternalServerError, "Failed to register document")
			return
		}

		if err := st.TouchSession(ctx, sessionID); err != nil {
			logger.Warn("Failed to touch session", "session", sessionID, "error", err)
		}
		if err := st.IncSessionDocuments(ctx, sessionID, 1); err != nil {
			logger.Warn("Failed to count session document", "session", sessionID, "error", err)
		}

		if err := enqueuer.EnqueueIngest(ctx, documentID, sessionID); err != nil {
			// Roll the registration back so the document never sits in
			// pending forever with no task behind it.
			logger.Error("Failed to enqueue ingest", "document", documentID, "error", err)
			if derr := st.DeleteDocumentRow(ctx, documentID, sessionID); derr != nil {
				logger.Error("Failed to roll back document row", "document", documentID, "error", derr)
			}
			os.Remove(filePath)
			utils.RespondWithError(c, http.StatusInternalServerError, "Failed to queue document for processing")
			return
		}

		logger.Info("Upload accepted", "document", documentID, "session", sessionID,
			"filename", doc.Filename, "size", header.Size)

		c.JSON(http.StatusAccepted, gin.H{
			"success":    true,
			"documentId": documentID,
			"filename":   doc.Filename,
			"status":     models.StatusPending,
		})
	}
}

// HandleGetDocument reports one document's processing state.
func HandleGetDocument(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := middleware.GetSessionID(c)
		doc, err := st.GetDocument(c.Request.Context(), c.Param("id"), sessionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				utils.RespondWithError(c, http.StatusNotFound, "Document not found")
				return
			}
			logger.Error("Failed to load document", "document", c.Param("id"), "error", err)
			utils.RespondWithError(c, http.StatusInternalServerError, "Failed to load document")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"document": doc,
		})
	}
}

// HandleListDocuments lists the session's documents, newest first.
func HandleListDocuments(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := middleware.GetSessionID(c)
		docs, err := st.ListDocuments(c.Request.Context(), sessionID)
		if err != nil {
			logger.Error("Failed to list documents", "session", sessionID, "error", err)
			utils.RespondWithError(c, http.StatusInternalServerError, "Failed to list documents")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":   true,
			"documents": docs,
			"count":     len(docs),
		})
	}
}

func detectContentType(headerType, filename string) string {
	contentType := headerType
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	contentType = strings.TrimSpace(strings.ToLower(contentType))

	if contentType == "" || contentType == "application/octet-stream" {
		switch strings.ToLower(filepath.Ext(filename)) {
		case ".pdf":
			return "application/pdf"
		case ".md", ".markdown":
			return "text/markdown"
		case ".html", ".htm":
			return "text/html"
		case ".xlsx":
			return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		case ".txt":
			return "text/plain"
		default:
			if byExt := mime.TypeByExtension(filepath.Ext(filename)); byExt != "" {
				if i := strings.Index(byExt, ";"); i >= 0 {
					byExt = byExt[:i]
				}
				return byExt
			}
		}
	}
	return contentType
}

func typeAllowed(allowed []string, contentType string) bool {
	for _, t := range allowed {
		if strings.EqualFold(strings.TrimSpace(t), contentType) {
			return true
		}
	}
	return false
}
