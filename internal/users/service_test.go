package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestProfile_DefaultsForNewUser(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	p, err := svc.Profile(context.Background(), "u1", "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", p.ID)
	assert.Equal(t, "a@example.com", p.BillingEmail)
	assert.Equal(t, DefaultTimezone, p.Timezone)
	assert.False(t, p.EmailVerified)
}

func TestUpdate_MergesPartialFields(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	require.NoError(t, svc.Update(ctx, "u1", Update{BusinessName: ptr("Acme")}))
	require.NoError(t, svc.Update(ctx, "u1", Update{Timezone: ptr("Europe/Berlin"), AutopayEnabled: ptr(true)}))

	p, err := svc.Profile(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, "Acme", p.BusinessName)
	assert.Equal(t, "Europe/Berlin", p.Timezone)
	assert.True(t, p.AutopayEnabled)
}

func TestUpdate_Validation(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	ctx := context.Background()

	assert.ErrorIs(t, svc.Update(ctx, "u1", Update{Timezone: ptr("Mars/Olympus")}), ErrInvalidProfile)
	assert.ErrorIs(t, svc.Update(ctx, "u1", Update{BillingEmail: ptr("not-an-email")}), ErrInvalidProfile)
	assert.ErrorIs(t, svc.Update(ctx, "", Update{BusinessName: ptr("x")}), ErrInvalidProfile)
	assert.NoError(t, svc.Update(ctx, "u1", Update{}))
}

func TestMarkVerified(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	require.NoError(t, svc.Update(ctx, "u1", Update{BusinessName: ptr("Acme")}))
	require.NoError(t, svc.MarkVerified(ctx, "u1", "a@example.com"))

	p, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.EmailVerified)
	assert.NotNil(t, p.EmailVerifiedAt)
	assert.Equal(t, "a@example.com", p.Email)
	assert.Equal(t, "Acme", p.BusinessName)
}
