package quadtree

// Policy captures how a map specialization balances visual continuity against
// resource usage. The surface map keeps a parent displayed until its four
// children are ready so subdivision never pops a hole in the globe; the
// elevation map has no visual representation of its own and releases parents
// immediately.
type Policy interface {
	// The map name, used in logs and metric labels.
	Name() string

	// Reports whether a subdivided parent must stay active until its four
	// children are loaded and displayed.
	RetainParentUntilChildrenShown() bool

	// Reports whether freshly subdivided children render with their parent
	// content while their own content streams in.
	ChildFallbackContent() bool
}

// TexturePolicy is the policy of maps that produce renderable surface
// geometry and texture tiles.
type TexturePolicy struct{}

func (TexturePolicy) Name() string {
	return "texture"
}

func (TexturePolicy) RetainParentUntilChildrenShown() bool {
	return true
}

func (TexturePolicy) ChildFallbackContent() bool {
	return true
}

// ElevationPolicy is the policy of maps that produce elevation-only data
// tiles.
type ElevationPolicy struct{}

func (ElevationPolicy) Name() string {
	return "elevation"
}

func (ElevationPolicy) RetainParentUntilChildrenShown() bool {
	return false
}

func (ElevationPolicy) ChildFallbackContent() bool {
	return false
}
