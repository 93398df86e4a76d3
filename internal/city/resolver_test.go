package city

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/city-weather-service/internal/models"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver(models.Beijing)
	require.NoError(t, err)
	return r
}

func TestNewResolver_RejectsUnsupportedDefault(t *testing.T) {
	_, err := NewResolver("tokyo")
	assert.Error(t, err)
}

func TestResolver_Resolve_Variants(t *testing.T) {
	r := newTestResolver(t)

	tests := []struct {
		in   string
		want models.CityKey
	}{
		{"北京", models.Beijing},
		{"北京市", models.Beijing},
		{"Beijing", models.Beijing},
		{"  BEIJING  ", models.Beijing},
		{"Bei Jing", models.Beijing},
		{"Běijīng", models.Beijing},
		{"Ｂｅｉｊｉｎｇ", models.Beijing},
		{"Peking", models.Beijing},
		{"Beijing City", models.Beijing},
		{"%E5%8C%97%E4%BA%AC", models.Beijing},
		{"åŒ—äº¬", models.Beijing},
		{"上海", models.Shanghai},
		{"shanghai", models.Shanghai},
		{"广州", models.Guangzhou},
		{"廣州", models.Guangzhou},
		{"Canton", models.Guangzhou},
		{"深圳", models.Shenzhen},
		{"ShenZhen", models.Shenzhen},
		{"杭州", models.Hangzhou},
		{"hangzhou", models.Hangzhou},
		{"101210101", models.Hangzhou},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := r.Lookup(tt.in)
			assert.True(t, ok, "expected %q to match a known city", tt.in)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_Resolve_UnknownFallsBackToDefault(t *testing.T) {
	r := newTestResolver(t)

	for _, in := range []string{"", "   ", "Tokyo", "东京", "Zürich", "!!!", "%zz", "市"} {
		got, ok := r.Lookup(in)
		assert.False(t, ok, "input %q", in)
		assert.Equal(t, models.Beijing, got, "input %q", in)
		assert.Equal(t, models.Beijing, r.Resolve(in))
	}
}

func TestResolver_CustomDefault(t *testing.T) {
	r, err := NewResolver(models.Shenzhen)
	require.NoError(t, err)
	assert.Equal(t, models.Shenzhen, r.Resolve("Atlantis"))
	assert.Equal(t, models.Shenzhen, r.Default())
}

func TestAliasesAreNormalized(t *testing.T) {
	for alias, key := range aliases {
		assert.Equal(t, alias, Normalize(alias), "alias for %s is not in normalized form", key)
		assert.True(t, key.Valid())
	}
}

func TestRepairMojibake_LeavesValidTextAlone(t *testing.T) {
	for _, s := range []string{"北京", "café", "Zürich", "plain"} {
		assert.Equal(t, s, repairMojibake(s))
	}
}
