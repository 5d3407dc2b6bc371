package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxTenantID
	ctxEmail
	ctxRole
)

var ErrNoIdentity = errors.New("auth: identity not in context")

func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, id.UserID)
	ctx = context.WithValue(ctx, ctxTenantID, id.TenantID)
	ctx = context.WithValue(ctx, ctxEmail, id.Email)
	ctx = context.WithValue(ctx, ctxRole, id.Role)
	return ctx
}

func UserID(ctx context.Context) (string, error) {
	return stringValue(ctx, ctxUserID, "user_id")
}

func TenantID(ctx context.Context) (string, error) {
	return stringValue(ctx, ctxTenantID, "tenant_id")
}

func Role(ctx context.Context) (string, error) {
	return stringValue(ctx, ctxRole, "role")
}

// Email is optional; it returns "" when the token carried none.
func Email(ctx context.Context) string {
	s, _ := ctx.Value(ctxEmail).(string)
	return s
}

// FromContext returns the full identity, failing if user or tenant is missing.
func FromContext(ctx context.Context) (Identity, error) {
	uid, err := UserID(ctx)
	if err != nil {
		return Identity{}, err
	}
	tid, err := TenantID(ctx)
	if err != nil {
		return Identity{}, err
	}
	role, _ := Role(ctx)
	return Identity{UserID: uid, TenantID: tid, Email: Email(ctx), Role: role}, nil
}

func stringValue(ctx context.Context, key ctxKey, name string) (string, error) {
	if s, ok := ctx.Value(key).(string); ok && s != "" {
		return s, nil
	}
	return "", errors.Join(ErrNoIdentity, errors.New(name+" missing"))
}
