package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActorFromContext(t *testing.T) {
	assert.Nil(t, ActorFromContext(context.Background()))

	actor := int64(12)
	ctx := WithKey(context.Background(), &APIKeyInfo{ID: "k1", ActorID: &actor})

	got := ActorFromContext(ctx)
	require.NotNil(t, got)
	assert.Equal(t, int64(12), *got)
}

func TestAPIKeyInfo_HasScope(t *testing.T) {
	tests := []struct {
		name   string
		scopes []string
		scope  string
		want   bool
	}{
		{name: "no scopes is unrestricted", scope: "orders:write", want: true},
		{name: "exact match", scopes: []string{"orders:read", "orders:write"}, scope: "orders:write", want: true},
		{name: "wildcard", scopes: []string{"*"}, scope: "orders:write", want: true},
		{name: "missing scope", scopes: []string{"orders:read"}, scope: "orders:write", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := &APIKeyInfo{Scopes: tt.scopes}
			assert.Equal(t, tt.want, k.HasScope(tt.scope))
		})
	}
}
