package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zhouzirui/parley/backend/internal/model/settings"
)

// GetSettings returns the stored selection and credentials. A user with no
// row yields a Settings with empty fields and found=false.
func (s *Store) GetSettings(ctx context.Context, userID string) (settings.Settings, bool, error) {
	out := settings.Settings{UserID: userID, Credentials: map[string]string{}}

	var row settingsRow
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	found := true
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		found = false
	case err != nil:
		return out, false, err
	default:
		out.SelectedProvider = row.SelectedProvider
		out.SelectedModel = row.SelectedModel
		out.UpdatedAt = row.UpdatedAt
	}

	var creds []credentialRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&creds).Error; err != nil {
		return out, false, err
	}
	for _, c := range creds {
		out.Credentials[c.Provider] = c.Secret
	}
	return out, found || len(creds) > 0, nil
}

// SaveSelection upserts the non-nil fields of sel. Last write wins.
func (s *Store) SaveSelection(ctx context.Context, userID string, sel settings.Selection) error {
	row := settingsRow{UserID: userID, UpdatedAt: s.now()}
	columns := []string{"updated_at"}
	if sel.Provider != nil {
		row.SelectedProvider = *sel.Provider
		columns = append(columns, "selected_provider")
	}
	if sel.Model != nil {
		row.SelectedModel = *sel.Model
		columns = append(columns, "selected_model")
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(&row).Error
}

// SetCredential stores a provider secret for the user, replacing any previous one.
func (s *Store) SetCredential(ctx context.Context, userID, provider, secret string) error {
	row := credentialRow{UserID: userID, Provider: provider, Secret: secret, UpdatedAt: s.now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{"secret", "updated_at"}),
	}).Create(&row).Error
}

// DeleteCredential removes a stored secret. Deleting a missing one is not an error.
func (s *Store) DeleteCredential(ctx context.Context, userID, provider string) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		Delete(&credentialRow{}).Error
}
