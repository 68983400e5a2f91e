package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paygate/internal/clock"
	"github.com/smallbiznis/paygate/internal/config"
	"github.com/smallbiznis/paygate/internal/gatewayconfig/domain"
	"github.com/smallbiznis/paygate/internal/gatewayconfig/repository"
	"github.com/smallbiznis/paygate/internal/orgcontext"
	"github.com/smallbiznis/paygate/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type staticCatalog map[string]bool

func (c staticCatalog) ProviderExists(provider string) bool { return c[provider] }

func newTestService(t *testing.T, secret string) (*Service, *gorm.DB) {
	t.Helper()
	conn := testutil.NewDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := New(Params{
		DB:      conn,
		Log:     zap.NewNop(),
		GenID:   node,
		Repo:    repository.Provide(),
		Cfg:     config.Config{GatewayConfigSecret: secret},
		Catalog: staticCatalog{"mercadopago": true, "stripe": true},
		Clock:   clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	})
	return svc.(*Service), conn
}

func boolPtr(v bool) *bool { return &v }

func TestUpsertSealsCredentials(t *testing.T) {
	svc, conn := newTestService(t, "s3cret")
	ctx := orgcontext.WithOrgID(context.Background(), 10)

	summary, err := svc.UpsertConfig(ctx, domain.UpsertRequest{
		Provider: " MercadoPago ",
		Sandbox:  map[string]string{"access_token": " TEST-123 ", "blank": " "},
	})
	require.NoError(t, err)
	assert.Equal(t, "mercadopago", summary.Provider)
	assert.True(t, summary.SandboxConfigured)
	assert.False(t, summary.ProductionConfigured)
	assert.Equal(t, []string{"access_token"}, summary.SandboxKeys)
	assert.True(t, summary.IsSandbox)
	assert.True(t, summary.IsActive)

	var raw string
	require.NoError(t, conn.Raw(`SELECT sandbox_credentials FROM gateway_configs WHERE org_id = ?`, 10).Scan(&raw).Error)
	assert.NotContains(t, raw, "TEST-123")
	assert.Contains(t, raw, `"version":1`)

	resolved, err := svc.Resolve(context.Background(), 10, "mercadopago")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"access_token": "TEST-123"}, resolved.Sandbox)
	assert.Empty(t, resolved.Production)
}

func TestUpsertKeepsUntouchedCredentialSet(t *testing.T) {
	svc, _ := newTestService(t, "s3cret")
	ctx := orgcontext.WithOrgID(context.Background(), 10)

	_, err := svc.UpsertConfig(ctx, domain.UpsertRequest{
		Provider:   "stripe",
		Sandbox:    map[string]string{"secret_key": "sk_test_1"},
		Production: map[string]string{"secret_key": "sk_live_1"},
	})
	require.NoError(t, err)

	_, err = svc.UpsertConfig(ctx, domain.UpsertRequest{
		Provider:  "stripe",
		Sandbox:   map[string]string{"secret_key": "sk_test_2"},
		IsSandbox: boolPtr(false),
	})
	require.NoError(t, err)

	resolved, err := svc.Resolve(context.Background(), 10, "stripe")
	require.NoError(t, err)
	assert.Equal(t, "sk_test_2", resolved.Sandbox["secret_key"])
	assert.Equal(t, "sk_live_1", resolved.Production["secret_key"])
	assert.False(t, resolved.IsSandbox)
}

func TestUpsertValidation(t *testing.T) {
	svc, _ := newTestService(t, "s3cret")
	ctx := orgcontext.WithOrgID(context.Background(), 10)

	_, err := svc.UpsertConfig(context.Background(), domain.UpsertRequest{Provider: "stripe"})
	assert.ErrorIs(t, err, domain.ErrInvalidOrganization)

	_, err = svc.UpsertConfig(ctx, domain.UpsertRequest{Provider: "paypal", Sandbox: map[string]string{"k": "v"}})
	assert.ErrorIs(t, err, domain.ErrInvalidProvider)

	_, err = svc.UpsertConfig(ctx, domain.UpsertRequest{Provider: "stripe"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	noKey, _ := newTestService(t, "")
	_, err = noKey.UpsertConfig(ctx, domain.UpsertRequest{Provider: "stripe", Sandbox: map[string]string{"secret_key": "sk"}})
	assert.ErrorIs(t, err, domain.ErrEncryptionKeyMissing)
}

func TestSetActiveAndListActive(t *testing.T) {
	svc, _ := newTestService(t, "s3cret")
	for _, orgID := range []snowflake.ID{10, 20, 30} {
		ctx := orgcontext.WithOrgID(context.Background(), orgID)
		_, err := svc.UpsertConfig(ctx, domain.UpsertRequest{
			Provider: "mercadopago",
			Sandbox:  map[string]string{"access_token": "TEST-" + orgID.String()},
		})
		require.NoError(t, err)
	}

	summary, err := svc.SetActive(orgcontext.WithOrgID(context.Background(), 20), "mercadopago", false)
	require.NoError(t, err)
	assert.False(t, summary.IsActive)

	active, err := svc.ListActive(context.Background(), "mercadopago", 0)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, snowflake.ID(10), active[0].OrgID)
	assert.Equal(t, snowflake.ID(30), active[1].OrgID)

	hinted, err := svc.ListActive(context.Background(), "mercadopago", 30)
	require.NoError(t, err)
	require.Len(t, hinted, 1)
	assert.Equal(t, "TEST-30", hinted[0].Sandbox["access_token"])

	_, err = svc.SetActive(orgcontext.WithOrgID(context.Background(), 99), "mercadopago", true)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarkVerified(t *testing.T) {
	svc, _ := newTestService(t, "s3cret")
	ctx := orgcontext.WithOrgID(context.Background(), 10)
	_, err := svc.UpsertConfig(ctx, domain.UpsertRequest{Provider: "stripe", Sandbox: map[string]string{"secret_key": "sk_test"}})
	require.NoError(t, err)

	at := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	require.NoError(t, svc.MarkVerified(context.Background(), 10, "stripe", at))

	summary, err := svc.GetConfig(ctx, "stripe")
	require.NoError(t, err)
	require.NotNil(t, summary.LastVerifiedAt)
	assert.True(t, at.Equal(*summary.LastVerifiedAt))

	assert.ErrorIs(t, svc.MarkVerified(context.Background(), 10, "mercadopago", at), domain.ErrNotFound)
}

func TestOpenRejectsWrongKey(t *testing.T) {
	sealed, err := newSealer("one").seal(map[string]string{"k": "v"})
	require.NoError(t, err)

	_, err = newSealer("two").open(sealed)
	assert.ErrorIs(t, err, domain.ErrDecryptFailed)

	opened, err := newSealer("one").open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "v", opened["k"])

	empty, err := newSealer("").open(emptyEnvelope)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
