package prompt

// Category is a product family with its own scene template.
type Category string

const (
	CategoryGeneral            Category = "general"
	CategoryJewelryAccessories Category = "jewelry_accessories"
	CategoryBeautySkincare     Category = "beauty_skincare"
	CategoryFashionApparel     Category = "fashion_apparel"
	CategoryFoodBeverage       Category = "food_beverage"
	CategoryElectronics        Category = "electronics"
	CategoryHomeLiving         Category = "home_living"
	CategoryFitnessOutdoor     Category = "fitness_outdoor"
)

// DefaultCategory is used when no keyword matches.
const DefaultCategory = CategoryGeneral

// Template renders one category. Scene takes the product description via %s.
type Template struct {
	ID       string
	Scene    string
	Camera   string
	Lighting string
}

type categoryEntry struct {
	category Category
	keywords []string
	template Template
}

// catalog order is the tie-break order for classification.
var catalog = []categoryEntry{
	{
		category: CategoryGeneral,
		template: Template{
			ID:       "general_showcase_v1",
			Scene:    "A clean studio product showcase of %s on a seamless backdrop, the product centered and in sharp focus",
			Camera:   "slow 180 degree orbit ending on a hero front view",
			Lighting: "soft key light with a subtle rim light and gentle floor reflection",
		},
	},
	{
		category: CategoryJewelryAccessories,
		keywords: []string{
			"jewel", "ring", "necklace", "bracelet", "pendant", "earring", "watch",
			"stainless steel", "gold", "silver", "diamond", "gem", "sunglasses",
			"wallet", "handbag", "accessor",
		},
		template: Template{
			ID:       "jewelry_macro_v1",
			Scene:    "A luxurious close-up of %s resting on dark velvet with scattered light sparkles",
			Camera:   "macro dolly-in with a shallow depth of field and a slow rack focus across the details",
			Lighting: "crisp specular highlights from a moving strip light that makes metal and stones glint",
		},
	},
	{
		category: CategoryBeautySkincare,
		keywords: []string{
			"serum", "cream", "lotion", "skincare", "skin care", "moisturizer", "cleanser",
			"lipstick", "mascara", "makeup", "cosmetic", "perfume", "fragrance", "toner", "beauty",
		},
		template: Template{
			ID:       "beauty_splash_v1",
			Scene:    "A fresh spa-like scene with %s surrounded by water droplets and botanical accents",
			Camera:   "gentle push-in followed by a slow-motion texture shot of the formula",
			Lighting: "bright diffused daylight with a luminous pastel glow",
		},
	},
	{
		category: CategoryFashionApparel,
		keywords: []string{
			"shirt", "t-shirt", "dress", "jacket", "hoodie", "sweater", "jeans", "pants",
			"skirt", "sneaker", "shoe", "boot", "apparel", "clothing", "fabric", "cotton", "denim",
		},
		template: Template{
			ID:       "fashion_runway_v1",
			Scene:    "An editorial fashion moment featuring %s with fabric moving naturally in a light breeze",
			Camera:   "tracking shot at waist height that ends on a detail close-up of stitching and texture",
			Lighting: "high-key fashion lighting with soft shadows and a warm accent",
		},
	},
	{
		category: CategoryFoodBeverage,
		keywords: []string{
			"coffee", "tea", "juice", "drink", "beverage", "snack", "chocolate", "cookie",
			"cake", "bread", "sauce", "honey", "food", "wine", "beer", "soda",
		},
		template: Template{
			ID:       "food_appetite_v1",
			Scene:    "An appetizing tabletop scene of %s with fresh ingredients arranged around it",
			Camera:   "overhead descent that transitions into a low-angle hero shot with a slow pour or steam rising",
			Lighting: "warm natural window light with rich contrast that brings out texture",
		},
	},
	{
		category: CategoryElectronics,
		keywords: []string{
			"phone", "laptop", "tablet", "headphone", "earbud", "speaker", "camera",
			"charger", "keyboard", "mouse", "gadget", "console", "bluetooth", "usb", "electronic",
		},
		template: Template{
			ID:       "electronics_tech_v1",
			Scene:    "A sleek futuristic reveal of %s floating above a reflective surface with subtle UI light trails",
			Camera:   "smooth parallax slide revealing ports and edges before settling on the front face",
			Lighting: "cool blue edge lighting with a clean gradient background",
		},
	},
	{
		category: CategoryHomeLiving,
		keywords: []string{
			"mug", "cup", "candle", "pillow", "cushion", "blanket", "lamp", "vase", "chair",
			"table", "sofa", "furniture", "kitchen", "decor", "plant", "ceramic",
		},
		template: Template{
			ID:       "home_lifestyle_v1",
			Scene:    "A cozy lived-in interior styled around %s with natural textures and greenery",
			Camera:   "handheld-feel slow walk-in that ends on an eye-level product hero shot",
			Lighting: "golden hour sunlight through sheer curtains with soft bounce fill",
		},
	},
	{
		category: CategoryFitnessOutdoor,
		keywords: []string{
			"yoga", "fitness", "gym", "dumbbell", "running", "bottle", "tent", "camping",
			"hiking", "bike", "bicycle", "outdoor", "sport", "backpack", "mat",
		},
		template: Template{
			ID:       "fitness_action_v1",
			Scene:    "An energetic outdoor action scene featuring %s in use against a scenic landscape",
			Camera:   "dynamic low-angle tracking shot with a quick speed ramp into a product close-up",
			Lighting: "bright high-contrast sunlight with lens flare",
		},
	},
}

// Categories returns the categories in classification order.
func Categories() []Category {
	out := make([]Category, len(catalog))
	for i, entry := range catalog {
		out[i] = entry.category
	}
	return out
}

// TemplateFor returns the template of a category, falling back to the default.
func TemplateFor(category Category) Template {
	for _, entry := range catalog {
		if entry.category == category {
			return entry.template
		}
	}
	return catalog[0].template
}
