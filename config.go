package rutabaga

import (
	"errors"
	"fmt"
	"image"
	"maps"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/gogpu/wgpu/hal"
	"github.com/prometheus/client_golang/prometheus"
)

var validate = validator.New()

// Cross-domain channel types.
const (
	ChannelTypeWayland uint32 = 0x0001
	ChannelTypeCamera  uint32 = 0x0002
)

// Channel is a host socket the cross-domain component may connect a
// guest context to.
type Channel struct {
	BasePath    string `validate:"required"`
	ChannelType uint32 `validate:"oneof=1 2"`
}

// VirglFlags configure the 3D command-stream component.
type VirglFlags struct {
	UseVirgl        bool
	UseVenus        bool
	UseDrm          bool
	UseExternalBlob bool
}

// GfxstreamFlags configure the Vulkan-stream component.
type GfxstreamFlags struct {
	UseVulkan       bool
	UseSystemBlob   bool
	UseExternalBlob bool
}

// Display receives flushed 2D scanouts.
type Display interface {
	Present(img *image.RGBA) error
}

// GPUAPI creates hal instances. Registered hal backends and noop.API
// satisfy it.
type GPUAPI interface {
	CreateInstance(desc *hal.InstanceDescriptor) (hal.Instance, error)
}

// Config selects and configures the components of a Rutabaga.
type Config struct {
	// DefaultComponent handles everything not routed elsewhere. It is
	// overridden when ContextMask is set.
	DefaultComponent ComponentType `validate:"lte=3"`

	// ContextMask restricts the advertised capsets, one bit per capset
	// id. Zero advertises everything the components provide.
	ContextMask uint64

	DisplayWidth  uint32 `validate:"lte=16384"`
	DisplayHeight uint32 `validate:"lte=16384"`

	// Display receives 2D flushes. Optional.
	Display Display `validate:"-"`

	Virgl     VirglFlags
	Gfxstream GfxstreamFlags

	Channels []Channel `validate:"dive"`

	// GPU overrides the hal backend used by the GPU components. Nil
	// selects the Vulkan backend.
	GPU GPUAPI `validate:"-"`

	// StrictCapsets rejects unknown capset ids instead of routing them to
	// the default component.
	StrictCapsets bool

	// Registerer receives the metrics collectors. Optional.
	Registerer prometheus.Registerer `validate:"-"`
}

// resolveDefault applies the capset mask to the default component and
// the virgl flags.
func (c *Config) resolveDefault() {
	if c.ContextMask == 0 {
		return
	}
	has := func(id uint32) bool { return c.ContextMask&(1<<id) != 0 }

	switch {
	case has(CapsetGfxstream):
		c.DefaultComponent = Gfxstream
	case has(CapsetVirgl2) || has(CapsetVenus) || has(CapsetDrm):
		c.DefaultComponent = VirglRenderer
	default:
		c.DefaultComponent = CrossDomain
	}

	c.Virgl.UseVirgl = has(CapsetVirgl2)
	c.Virgl.UseVenus = has(CapsetVenus)
	c.Virgl.UseDrm = has(CapsetDrm)
}

// plan lists the components to instantiate, default first.
func (c *Config) plan() []ComponentType {
	switch c.DefaultComponent {
	case Rutabaga2D:
		return []ComponentType{Rutabaga2D}
	case CrossDomain:
		return []ComponentType{CrossDomain}
	}
	plan := []ComponentType{c.DefaultComponent}
	if IsRegistered(CrossDomain) {
		plan = append(plan, CrossDomain)
	} else {
		Logger().Debug("rutabaga: cross-domain not compiled in")
	}
	return plan
}

// Build validates cfg and creates every component it selects. Nothing is
// left running on failure: components created before the error are closed.
func Build(cfg Config, fh FenceHandler) (*Rutabaga, error) {
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBuild, err)
	}
	if fh == nil {
		fh = func(Fence) {}
	}
	cfg.resolveDefault()

	if !IsRegistered(cfg.DefaultComponent) {
		return nil, fmt.Errorf("%w: default component %s is not compiled in", ErrInvalidBuild, cfg.DefaultComponent)
	}
	if cfg.DefaultComponent == Gfxstream && (cfg.DisplayWidth == 0 || cfg.DisplayHeight == 0) {
		return nil, fmt.Errorf("%w: gfxstream requires display dimensions", ErrInvalidBuild)
	}

	r := &Rutabaga{
		resources:        newTable[*Resource](),
		contexts:         newTable[Context](),
		components:       make(map[ComponentType]Component),
		defaultComponent: cfg.DefaultComponent,
		fenceHandler:     fh,
		strictCapsets:    cfg.StrictCapsets,
		metrics:          NewMetrics(cfg.Registerer),
	}

	for _, ct := range cfg.plan() {
		f, ok := factory(ct)
		if !ok {
			r.closeComponents()
			return nil, fmt.Errorf("%w: %s is not compiled in", ErrInvalidBuild, ct)
		}
		comp, err := f(&cfg, fh)
		if err != nil {
			r.closeComponents()
			return nil, fmt.Errorf("rutabaga: create %s: %w", ct, err)
		}
		r.components[ct] = comp
		r.pushCapsets(ct, cfg.ContextMask)
	}

	if err := r.metrics.Register(); err != nil {
		r.closeComponents()
		return nil, fmt.Errorf("rutabaga: register metrics: %w", err)
	}

	Logger().Info("rutabaga: built",
		"default", r.defaultComponent.String(),
		"components", len(r.components),
		"capsets", CalculateContextTypes(r.capsetMask()))
	return r, nil
}

// pushCapsets adds the catalog entries owned by ct that mask allows.
func (r *Rutabaga) pushCapsets(ct ComponentType, mask uint64) {
	if ct == Rutabaga2D {
		return
	}
	for _, c := range capsets {
		if c.Component != ct {
			continue
		}
		if mask == 0 || mask&(1<<c.ID) != 0 {
			r.capsets = append(r.capsets, c)
		}
	}
}

func (r *Rutabaga) capsetMask() uint64 {
	var mask uint64
	for _, c := range r.capsets {
		mask |= 1 << c.ID
	}
	return mask
}

func (r *Rutabaga) closeComponents() error {
	var errs []error
	for _, ct := range slices.Backward(slices.Sorted(maps.Keys(r.components))) {
		comp := r.components[ct]
		delete(r.components, ct)
		if c, ok := comp.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", ct, err))
			}
		}
	}
	return errors.Join(errs...)
}
