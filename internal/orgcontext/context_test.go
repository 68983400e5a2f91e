package orgcontext

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
)

func TestOrgIDRoundTrip(t *testing.T) {
	_, ok := OrgIDFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithOrgID(context.Background(), snowflake.ID(42))
	orgID, ok := OrgIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, snowflake.ID(42), orgID)

	_, ok = OrgIDFromContext(WithOrgID(context.Background(), 0))
	assert.False(t, ok)
}
