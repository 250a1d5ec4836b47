package orgcontext

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
)

func TestOrgIDRoundTrip(t *testing.T) {
	ctx := WithOrgID(context.Background(), snowflake.ID(77))
	orgID, ok := OrgIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, snowflake.ID(77), orgID)

	_, ok = OrgIDFromContext(context.Background())
	assert.False(t, ok)

	_, ok = OrgIDFromContext(WithOrgID(context.Background(), 0))
	assert.False(t, ok)
}

func TestParseOrgID(t *testing.T) {
	orgID, ok := ParseOrgID(" 1234 ")
	assert.True(t, ok)
	assert.Equal(t, snowflake.ID(1234), orgID)

	_, ok = ParseOrgID("abc")
	assert.False(t, ok)
	_, ok = ParseOrgID("-5")
	assert.False(t, ok)
}
