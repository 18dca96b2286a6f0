package storage

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kwartzlab/forms-service/internal/models"
	"github.com/kwartzlab/forms-service/internal/validation"
)

// AssetManager validates and uploads a submission's attachments into a
// container scoped by the submission identifier, and deletes them again
// during compensating rollback.
type AssetManager struct {
	store   ObjectStore
	parents map[models.FormKind]string

	// folders caches container handles keyed by "parent/submissionID" so a
	// retried attempt reuses the container a prior attempt created. The
	// cache is an optimization only; losing an entry just costs an extra
	// EnsureFolder round trip.
	folders sync.Map

	logger *zap.Logger
}

// NewAssetManager creates an asset manager uploading under the per-kind
// parent prefixes.
func NewAssetManager(store ObjectStore, parents map[models.FormKind]string, logger *zap.Logger) *AssetManager {
	return &AssetManager{
		store:   store,
		parents: parents,
		logger:  logger,
	}
}

// UploadAll validates every attachment before any network call, then
// uploads the batch into the submission's container. One invalid attachment
// fails the whole batch with nothing uploaded. If an upload fails after
// validation passed, every asset already uploaded in this batch is deleted
// before the error is returned, so a partially uploaded batch is never left
// behind. The returned assets are in input order.
func (m *AssetManager) UploadAll(ctx context.Context, kind models.FormKind, submissionID models.Identifier, atts []models.Attachment) ([]models.FileAsset, error) {
	if len(atts) == 0 {
		return nil, nil
	}

	// Validation pass: nothing is uploaded until the whole batch is clean.
	names := make([]string, len(atts))
	for i, att := range atts {
		safe, err := validation.ValidateFile(att)
		if err != nil {
			m.logger.Warn("Rejected attachment",
				zap.String("filename", att.Filename),
				zap.Error(err))
			return nil, err
		}
		names[i] = safe
	}
	if err := validation.ValidateTotalSize(atts); err != nil {
		return nil, err
	}

	folder, err := m.ensureFolder(ctx, kind, submissionID)
	if err != nil {
		return nil, fmt.Errorf("prepare container for %s: %w", submissionID, err)
	}

	assets := make([]models.FileAsset, 0, len(atts))
	for i, att := range atts {
		remoteID, link, err := m.store.Upload(ctx, folder, names[i], att.ContentType,
			bytes.NewReader(att.Data), att.Size)
		if err != nil {
			m.logger.Error("Upload failed mid-batch, cleaning up",
				zap.String("submission_id", submissionID.String()),
				zap.String("filename", names[i]),
				zap.Int("uploaded_so_far", len(assets)),
				zap.Error(err))
			m.deleteAll(ctx, assets)
			return nil, fmt.Errorf("upload %s: %w", names[i], err)
		}
		assets = append(assets, models.FileAsset{
			Filename: names[i],
			RemoteID: remoteID,
			Link:     link,
		})
	}

	m.logger.Info("Uploaded attachment batch",
		zap.String("form_kind", string(kind)),
		zap.String("submission_id", submissionID.String()),
		zap.Int("count", len(assets)))
	return assets, nil
}

// Delete removes one uploaded asset, best-effort. The result is reported so
// callers can log it, but rollback never escalates a delete failure.
func (m *AssetManager) Delete(ctx context.Context, remoteID string) bool {
	if err := m.store.Delete(ctx, remoteID); err != nil {
		m.logger.Error("Failed to delete uploaded asset",
			zap.String("remote_id", remoteID),
			zap.Error(err))
		return false
	}
	return true
}

func (m *AssetManager) ensureFolder(ctx context.Context, kind models.FormKind, submissionID models.Identifier) (string, error) {
	parent := m.parents[kind]
	key := parent + "/" + submissionID.String()

	if cached, ok := m.folders.Load(key); ok {
		return cached.(string), nil
	}

	folder, err := m.store.EnsureFolder(ctx, parent, submissionID.String())
	if err != nil {
		return "", err
	}
	m.folders.Store(key, folder)
	return folder, nil
}

func (m *AssetManager) deleteAll(ctx context.Context, assets []models.FileAsset) {
	for _, asset := range assets {
		m.Delete(ctx, asset.RemoteID)
	}
}
