package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"reportserver/src/models"
)

var ErrTenantNotFound = errors.New("repositories: tenant not found")

type TenantRepository interface {
	Create(ctx context.Context, tenant *models.Tenant) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	TenantName(ctx context.Context, id uuid.UUID) (string, error)
}

type tenantRepo struct {
	DB *pgxpool.Pool
}

func NewTenantRepository(db *pgxpool.Pool) TenantRepository {
	return &tenantRepo{DB: db}
}

func (r *tenantRepo) Create(ctx context.Context, tenant *models.Tenant) error {
	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	return r.DB.QueryRow(ctx, `
		INSERT INTO tenants (id, name)
		VALUES ($1, $2)
		RETURNING created_at`, tenant.ID, tenant.Name).Scan(&tenant.CreatedAt)
}

func (r *tenantRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var tenant models.Tenant
	err := r.DB.QueryRow(ctx, `
		SELECT id, name, created_at
		FROM tenants
		WHERE id = $1`, id).Scan(&tenant.ID, &tenant.Name, &tenant.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

// TenantName returns the display name used in report deliveries.
func (r *tenantRepo) TenantName(ctx context.Context, id uuid.UUID) (string, error) {
	tenant, err := r.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return tenant.Name, nil
}
