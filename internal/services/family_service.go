package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/hearth/internal/database"
	"github.com/charlesng35/hearth/internal/models"
)

// FamilyBoundary is the slice of the family module the account lifecycle depends on.
type FamilyBoundary interface {
	CreateFamily(ctx context.Context, ownerID, name string) (*models.Family, error)
	FindFamily(ctx context.Context, familyID string) (*models.Family, error)
	// TransferOwnership sets the owner; an empty newOwnerID leaves the family ownerless.
	TransferOwnership(ctx context.Context, familyID, newOwnerID string) error
	// ListMembers returns members ordered by join time, then id.
	ListMembers(ctx context.Context, familyID string) ([]models.Account, error)
}

// FamilyService is the gorm-backed FamilyBoundary.
type FamilyService struct {
	db *gorm.DB
}

// NewFamilyService constructs a FamilyService.
func NewFamilyService(db *gorm.DB) (*FamilyService, error) {
	if db == nil {
		return nil, errors.New("family service: db is required")
	}
	return &FamilyService{db: db}, nil
}

// CreateFamily creates a family owned by ownerID and links the owner as its first member.
func (s *FamilyService) CreateFamily(ctx context.Context, ownerID, name string) (*models.Family, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, errors.New("family service: owner id is required")
	}

	family := &models.Family{Name: strings.TrimSpace(name), OwnerID: &ownerID}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(family).Error; err != nil {
			return fmt.Errorf("create family: %w", err)
		}
		result := tx.Model(&models.Account{}).Where("id = ?", ownerID).Update("family_id", family.ID)
		if result.Error != nil {
			return fmt.Errorf("link owner: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrAccountNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("family service: %w", err)
	}
	return family, nil
}

// FindFamily loads a family by id.
func (s *FamilyService) FindFamily(ctx context.Context, familyID string) (*models.Family, error) {
	var family models.Family
	if err := s.db.WithContext(ctx).Take(&family, "id = ?", familyID).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, ErrFamilyNotFound
		}
		return nil, fmt.Errorf("family service: find family: %w", err)
	}
	return &family, nil
}

// TransferOwnership reassigns the family owner.
func (s *FamilyService) TransferOwnership(ctx context.Context, familyID, newOwnerID string) error {
	var owner *string
	if id := strings.TrimSpace(newOwnerID); id != "" {
		owner = &id
	}

	result := s.db.WithContext(ctx).Model(&models.Family{}).Where("id = ?", familyID).Update("owner_id", owner)
	if result.Error != nil {
		return fmt.Errorf("family service: transfer ownership: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrFamilyNotFound
	}
	return nil
}

// ListMembers returns the accounts linked to the family.
func (s *FamilyService) ListMembers(ctx context.Context, familyID string) ([]models.Account, error) {
	var members []models.Account
	if err := s.db.WithContext(ctx).
		Where("family_id = ?", familyID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&members).Error; err != nil {
		return nil, fmt.Errorf("family service: list members: %w", err)
	}
	return members, nil
}
