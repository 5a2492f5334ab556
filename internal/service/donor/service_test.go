package donor

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemolink/donor-api/internal/model"
	"github.com/hemolink/donor-api/pkg/errors"
	"github.com/hemolink/donor-api/pkg/logger"
	"github.com/hemolink/donor-api/pkg/security"
)

type fakeDonorRepo struct {
	mu     sync.Mutex
	donors map[uuid.UUID]*model.Donor
}

func newFakeDonorRepo() *fakeDonorRepo {
	return &fakeDonorRepo{donors: make(map[uuid.UUID]*model.Donor)}
}

func (r *fakeDonorRepo) Create(_ context.Context, d *model.Donor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.donors[d.ID] = &cp
	return nil
}

func (r *fakeDonorRepo) Get(_ context.Context, id uuid.UUID) (*model.Donor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.donors[id]
	if !ok {
		return nil, errors.NewNotFound("donor", nil)
	}
	cp := *d
	return &cp, nil
}

func (r *fakeDonorRepo) GetByEmail(_ context.Context, email string) (*model.Donor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.donors {
		if d.Email == email {
			cp := *d
			return &cp, nil
		}
	}
	return nil, errors.NewNotFound("donor", nil)
}

func (r *fakeDonorRepo) Update(_ context.Context, d *model.Donor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.donors[d.ID]; !ok {
		return errors.NewNotFound("donor", nil)
	}
	cp := *d
	r.donors[d.ID] = &cp
	return nil
}

func (r *fakeDonorRepo) List(_ context.Context, _ *model.DonorFilters) ([]*model.Donor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Donor, 0, len(r.donors))
	for _, d := range r.donors {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeDonorRepo) FindCompatible(_ context.Context, _ []model.BloodType, _, _, _ float64, _ time.Time, _ []uuid.UUID) ([]*model.Donor, error) {
	return nil, nil
}

func (r *fakeDonorRepo) MarkDonated(_ context.Context, id uuid.UUID, donatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.donors[id]
	if !ok {
		return errors.NewNotFound("donor", nil)
	}
	d.Available = false
	d.LastDonation = &donatedAt
	return nil
}

func testService() (*Service, *fakeDonorRepo) {
	repo := newFakeDonorRepo()
	lg := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	return NewService(repo, lg), repo
}

func validRegistration() *model.RegisterDonorRequest {
	return &model.RegisterDonorRequest{
		Name:      "Jordan Doe",
		Email:     "jordan@example.com",
		Password:  "s3cretpass",
		BloodType: "O-",
		Latitude:  40.7128,
		Longitude: -74.0060,
	}
}

func TestRegisterDonor(t *testing.T) {
	svc, _ := testService()

	d, err := svc.Register(context.Background(), validRegistration())
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, d.ID)
	assert.Equal(t, model.BloodTypeONeg, d.BloodType)
	assert.True(t, d.Available, "new donors start available")
	assert.Nil(t, d.LastDonation)
	assert.Equal(t, []string{model.ContactChannelEmail}, []string(d.ContactChannels))

	assert.NotEqual(t, "s3cretpass", d.PasswordHash)
	assert.NoError(t, security.ComparePassword(d.PasswordHash, "s3cretpass"))
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	_, err := svc.Register(ctx, validRegistration())
	require.NoError(t, err)

	_, err = svc.Register(ctx, validRegistration())
	assert.True(t, errors.IsValidation(err))
}

func TestRegisterValidatesInput(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	bad := validRegistration()
	bad.BloodType = "Z+"
	_, err := svc.Register(ctx, bad)
	assert.True(t, errors.IsValidation(err))

	bad = validRegistration()
	bad.Password = "short"
	_, err = svc.Register(ctx, bad)
	assert.True(t, errors.IsValidation(err))

	bad = validRegistration()
	bad.Email = "not-an-email"
	_, err = svc.Register(ctx, bad)
	assert.True(t, errors.IsValidation(err))
}

func TestUpdateDonorPartial(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	d, err := svc.Register(ctx, validRegistration())
	require.NoError(t, err)

	available := false
	phone := "+15550100"
	updated, err := svc.Update(ctx, d.ID, &model.UpdateDonorRequest{
		Available: &available,
		Phone:     &phone,
	})
	require.NoError(t, err)

	assert.False(t, updated.Available)
	assert.Equal(t, phone, updated.Phone)
	assert.Equal(t, d.BloodType, updated.BloodType, "unset fields stay untouched")
	assert.Equal(t, d.Latitude, updated.Latitude)
}

func TestUpdateUnknownDonor(t *testing.T) {
	svc, _ := testService()

	available := true
	_, err := svc.Update(context.Background(), uuid.New(), &model.UpdateDonorRequest{Available: &available})
	assert.True(t, errors.IsNotFound(err))
}
