package featureflag

type Flag string

const (
	FlagDisableHorizonCulling Flag = "DISABLE_HORIZON_CULLING"
	FlagDisableTileEviction   Flag = "DISABLE_TILE_EVICTION"
	FlagEagerTileEviction     Flag = "EAGER_TILE_EVICTION"
	FlagDisableInspector      Flag = "DISABLE_INSPECTOR"
)
