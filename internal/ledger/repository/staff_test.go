package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pharmledger/pharmledger-backend/internal/ledger/domain"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/repository"
	apperrors "github.com/pharmledger/pharmledger-backend/pkg/errors"
	"github.com/pharmledger/pharmledger-backend/pkg/tenant"
)

func staffColumns() []string {
	return []string{"id", "tenant_id", "username", "password_hash", "role", "pharmacy_id", "created_at"}
}

func TestStaffRepository_Create_RequiresPharmacyForNonLead(t *testing.T) {
	db, _ := newMockDB(t)
	repo := repository.NewStaffRepository(db)
	ctx := tenant.WithTenantID(context.Background(), testTenant)

	err := repo.Create(ctx, &domain.StaffMember{
		Username: "j.doe",
		Role:     string(tenant.RoleSenior),
	}, "secret")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestStaffRepository_Create_LeadWithoutPharmacy(t *testing.T) {
	db, mock := newMockDB(t)
	repo := repository.NewStaffRepository(db)
	ctx := tenant.WithTenantID(context.Background(), testTenant)

	expectRLS(mock, testTenant)
	mock.ExpectQuery("INSERT INTO staff_members").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectCommit()

	staff := &domain.StaffMember{Username: "owner", Role: string(tenant.RoleLead)}
	require.NoError(t, repo.Create(ctx, staff, "secret"))
	assert.NotEmpty(t, staff.ID)
	assert.Equal(t, testTenant, staff.TenantID)
}

func TestStaffRepository_Authenticate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := repository.NewStaffRepository(db)

	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)

	expectRLS(mock, testTenant)
	mock.ExpectQuery("SELECT (.+) FROM staff_members").
		WithArgs("j.doe").
		WillReturnRows(sqlmock.NewRows(staffColumns()).
			AddRow("st-1", testTenant, "j.doe", string(hash), "senior", "ph-1", time.Now()))
	mock.ExpectCommit()

	staff, err := repo.Authenticate(context.Background(), testTenant, "j.doe", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "st-1", staff.ID)
	assert.Equal(t, "senior", staff.Role)
	assert.Equal(t, "ph-1", staff.PharmacyID)
}

func TestStaffRepository_Authenticate_WrongPassword(t *testing.T) {
	db, mock := newMockDB(t)
	repo := repository.NewStaffRepository(db)

	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)

	expectRLS(mock, testTenant)
	mock.ExpectQuery("SELECT (.+) FROM staff_members").
		WithArgs("j.doe").
		WillReturnRows(sqlmock.NewRows(staffColumns()).
			AddRow("st-1", testTenant, "j.doe", string(hash), "senior", "ph-1", time.Now()))
	mock.ExpectCommit()

	_, err = repo.Authenticate(context.Background(), testTenant, "j.doe", "battery staple")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthorized))
}

func TestStaffRepository_Authenticate_UnknownUser(t *testing.T) {
	db, mock := newMockDB(t)
	repo := repository.NewStaffRepository(db)

	expectRLS(mock, testTenant)
	mock.ExpectQuery("SELECT (.+) FROM staff_members").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(staffColumns()))
	mock.ExpectRollback()

	_, err := repo.Authenticate(context.Background(), testTenant, "ghost", "anything")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthorized))
}
