package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildIsDeterministic(t *testing.T) {
	first := Build("Hand-thrown ceramic mug", "morning ritual")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Build("Hand-thrown ceramic mug", "morning ritual"))
	}
	assert.Equal(t, CategoryHomeLiving, first.Category)
	assert.Equal(t, "home_lifestyle_v1", first.TemplateID)
}

func TestBuildClassifiesWatchAsJewelry(t *testing.T) {
	result := Build("stainless steel watch", "")
	assert.Equal(t, CategoryJewelryAccessories, result.Category)
	assert.Equal(t, "jewelry_macro_v1", result.TemplateID)
	assert.Contains(t, result.Text, "stainless steel watch")
	assert.NotContains(t, result.Text, "Creative direction")
}

func TestClassifyDefaultsWithoutKeywords(t *testing.T) {
	assert.Equal(t, DefaultCategory, Classify("zzz qqq"))
	assert.Equal(t, DefaultCategory, Classify(""))

	result := Build("an unusual object", "")
	assert.Equal(t, CategoryGeneral, result.Category)
	assert.Equal(t, "general_showcase_v1", result.TemplateID)
}

func TestClassifyTieKeepsEarlierCategory(t *testing.T) {
	// one hit each for beauty (serum) and electronics (phone)
	assert.Equal(t, CategoryBeautySkincare, Classify("serum phone"))
	assert.Equal(t, CategoryBeautySkincare, Classify("phone serum"))
}

func TestClassifyCountsAcrossDescriptionAndHint(t *testing.T) {
	result := Build("running shoe", "trail running at dawn")
	// fitness: running x2; fashion: shoe x1
	assert.Equal(t, CategoryFitnessOutdoor, result.Category)
}

func TestClassifyNormalizesWidthAndCase(t *testing.T) {
	assert.Equal(t, CategoryFoodBeverage, Classify("ＣＯＦＦＥＥ BEANS"))
}

func TestBuildAppendsHintSuffix(t *testing.T) {
	result := Build("  iced   coffee ", " summer vibes. ")
	require.True(t, strings.HasSuffix(result.Text, "Creative direction: summer vibes."), result.Text)
	assert.NotContains(t, result.Text, "  ")
	assert.Contains(t, result.Text, "iced coffee")
}

func TestBuildStripsMarkup(t *testing.T) {
	result := Build(`<script>alert(1)</script><b>Rose & oud</b> perfume`, "<i>moody</i>")
	assert.NotContains(t, result.Text, "<")
	assert.Contains(t, result.Text, "Rose & oud perfume")
	assert.Contains(t, result.Text, "Creative direction: moody.")
	assert.Equal(t, CategoryBeautySkincare, result.Category)
}

func TestComposeAddsBrandAndFormat(t *testing.T) {
	result := Build("stainless steel watch", "")
	composed := Compose(result, Brand{Name: "Tempo", Slogan: "Every second counts"}, Output{AspectRatio: "9:16", Resolution: "720p"})

	assert.True(t, strings.HasPrefix(composed, result.Text))
	assert.Contains(t, composed, `"Tempo"`)
	assert.Contains(t, composed, `"Every second counts"`)
	assert.Contains(t, composed, "Format: aspect ratio 9:16, resolution 720p.")
	assert.Equal(t, composed, Compose(result, Brand{Name: "Tempo", Slogan: "Every second counts"}, Output{AspectRatio: "9:16", Resolution: "720p"}))
}

func TestComposeWithoutMetadata(t *testing.T) {
	result := Build("mug", "")
	composed := Compose(result, Brand{}, Output{})
	assert.NotContains(t, composed, "Format:")
	assert.NotContains(t, composed, "brand name")
}

func TestCategoriesOrder(t *testing.T) {
	assert.Equal(t, []Category{
		CategoryGeneral,
		CategoryJewelryAccessories,
		CategoryBeautySkincare,
		CategoryFashionApparel,
		CategoryFoodBeverage,
		CategoryElectronics,
		CategoryHomeLiving,
		CategoryFitnessOutdoor,
	}, Categories())
}
