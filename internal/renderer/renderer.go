// Package renderer draws viewport frames with WebGPU.
package renderer

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"unsafe"

	"github.com/rajveermalviya/go-webgpu/wgpu"
	log "github.com/sirupsen/logrus"
	xdraw "golang.org/x/image/draw"

	"slippymap/internal/config"
	"slippymap/internal/logging"
	"slippymap/internal/tilesource"
	"slippymap/internal/viewport"
)

// textureTTL is how many frames an unused texture survives
const textureTTL = 120

var errNoSwapChain = errors.New("no swap chain")

// TileTexture holds GPU resources for a single tile
type TileTexture struct {
	Texture *wgpu.Texture
	View    *wgpu.TextureView
}

func (t *TileTexture) release() {
	t.View.Release()
	t.Texture.Release()
}

type cached struct {
	tex *TileTexture
	// handle the texture was uploaded from; a TTL refresh swaps it.
	// Handles are pointer images so they compare by identity.
	handle tilesource.Handle
	used   uint64
}

// Options configures a Renderer
type Options struct {
	Width, Height uint32
	Render        config.Render
	Log           *log.Entry
}

// Renderer handles all WebGPU rendering. It must be used from the thread
// that owns the surface.
type Renderer struct {
	device          *wgpu.Device
	queue           *wgpu.Queue
	surface         *wgpu.Surface
	adapter         *wgpu.Adapter
	swapChain       *wgpu.SwapChain
	swapChainFormat wgpu.TextureFormat
	pipeline        *wgpu.RenderPipeline
	sampler         *wgpu.Sampler
	bindGroupLayout *wgpu.BindGroupLayout

	placeholder *TileTexture
	textures    map[string]*cached
	frame       uint64

	mask config.Render
	log  *log.Entry

	width  uint32
	height uint32
}

// New creates a renderer drawing into surface
func New(adapter *wgpu.Adapter, device *wgpu.Device, queue *wgpu.Queue, surface *wgpu.Surface, opts Options) (*Renderer, error) {
	r := &Renderer{
		adapter:  adapter,
		device:   device,
		queue:    queue,
		surface:  surface,
		width:    opts.Width,
		height:   opts.Height,
		textures: make(map[string]*cached),
		mask:     opts.Render,
		log:      logging.Or(opts.Log).WithField("component", "renderer"),
	}

	if err := r.init(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Renderer) init() error {
	r.swapChainFormat = r.surface.GetPreferredFormat(r.adapter)

	var err error
	r.swapChain, err = r.createSwapChain(r.width, r.height)
	if err != nil {
		return fmt.Errorf("swap chain creation failed: %w", err)
	}

	shader, err := r.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "tile_shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: TileShader},
	})
	if err != nil {
		return fmt.Errorf("shader creation failed: %w", err)
	}
	defer shader.Release()

	r.sampler, err = r.device.CreateSampler(&wgpu.SamplerDescriptor{
		AddressModeU:   wgpu.AddressMode_ClampToEdge,
		AddressModeV:   wgpu.AddressMode_ClampToEdge,
		AddressModeW:   wgpu.AddressMode_ClampToEdge,
		MagFilter:      wgpu.FilterMode_Linear,
		MinFilter:      wgpu.FilterMode_Linear,
		MipmapFilter:   wgpu.MipmapFilterMode_Nearest,
		MaxAnisotrophy: 1,
	})
	if err != nil {
		return fmt.Errorf("sampler creation failed: %w", err)
	}

	r.bindGroupLayout, err = r.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "tile_bind_group_layout",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStage_Fragment,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingType_Uniform},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStage_Fragment,
				Sampler:    wgpu.SamplerBindingLayout{Type: wgpu.SamplerBindingType_Filtering},
			},
			{
				Binding:    2,
				Visibility: wgpu.ShaderStage_Fragment,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleType_Float,
					ViewDimension: wgpu.TextureViewDimension_2D,
				},
			},
			{
				Binding:    3,
				Visibility: wgpu.ShaderStage_Fragment,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingType_ReadOnlyStorage},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("bind group layout creation failed: %w", err)
	}

	pipelineLayout, err := r.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "tile_pipeline_layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{r.bindGroupLayout},
	})
	if err != nil {
		return fmt.Errorf("pipeline layout creation failed: %w", err)
	}
	defer pipelineLayout.Release()

	r.pipeline, err = r.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  "tile_pipeline",
		Layout: pipelineLayout,
		Vertex: wgpu.VertexState{
			Module:     shader,
			EntryPoint: "vs_main",
			Buffers: []wgpu.VertexBufferLayout{{
				ArrayStride: uint64(unsafe.Sizeof(Vertex{})),
				StepMode:    wgpu.VertexStepMode_Vertex,
				Attributes: []wgpu.VertexAttribute{
					{Format: wgpu.VertexFormat_Float32x2, Offset: 0, ShaderLocation: 0},
					{Format: wgpu.VertexFormat_Float32x2, Offset: 8, ShaderLocation: 1},
					{Format: wgpu.VertexFormat_Float32x2, Offset: 16, ShaderLocation: 2},
				},
			}},
		},
		Fragment: &wgpu.FragmentState{
			Module:     shader,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{{
				Format:    r.swapChainFormat,
				Blend:     &wgpu.BlendState_Replace,
				WriteMask: wgpu.ColorWriteMask_All,
			}},
		},
		Primitive: wgpu.PrimitiveState{
			Topology: wgpu.PrimitiveTopology_TriangleList,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return fmt.Errorf("pipeline creation failed: %w", err)
	}

	r.placeholder, err = r.createPlaceholder()
	if err != nil {
		return fmt.Errorf("placeholder creation failed: %w", err)
	}
	return nil
}

func (r *Renderer) createSwapChain(width, height uint32) (*wgpu.SwapChain, error) {
	return r.device.CreateSwapChain(r.surface, &wgpu.SwapChainDescriptor{
		Usage:       wgpu.TextureUsage_RenderAttachment,
		Format:      r.swapChainFormat,
		Width:       width,
		Height:      height,
		PresentMode: wgpu.PresentMode_Fifo,
	})
}

func (r *Renderer) createPlaceholder() (*TileTexture, error) {
	img := image.NewRGBA(image.Rect(0, 0, TileSize, TileSize))
	seaBlue := color.RGBA{R: 160, G: 195, B: 207, A: 255}
	xdraw.Draw(img, img.Bounds(), &image.Uniform{C: seaBlue}, image.Point{}, xdraw.Src)
	return r.createTileTexture(img)
}

func (r *Renderer) createTileTexture(img *image.RGBA) (*TileTexture, error) {
	size := wgpu.Extent3D{
		Width:              uint32(img.Bounds().Dx()),
		Height:             uint32(img.Bounds().Dy()),
		DepthOrArrayLayers: 1,
	}
	texture, err := r.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "tile_texture",
		Size:          size,
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension_2D,
		Format:        wgpu.TextureFormat_RGBA8UnormSrgb,
		Usage:         wgpu.TextureUsage_TextureBinding | wgpu.TextureUsage_CopyDst,
	})
	if err != nil {
		return nil, err
	}

	r.queue.WriteTexture(
		&wgpu.ImageCopyTexture{Texture: texture, MipLevel: 0, Origin: wgpu.Origin3D{}, Aspect: wgpu.TextureAspect_All},
		img.Pix,
		&wgpu.TextureDataLayout{Offset: 0, BytesPerRow: uint32(img.Stride), RowsPerImage: size.Height},
		&size,
	)

	view, err := texture.CreateView(&wgpu.TextureViewDescriptor{
		Format:          wgpu.TextureFormat_RGBA8UnormSrgb,
		Dimension:       wgpu.TextureViewDimension_2D,
		BaseMipLevel:    0,
		MipLevelCount:   1,
		BaseArrayLayer:  0,
		ArrayLayerCount: 1,
		Aspect:          wgpu.TextureAspect_All,
	})
	if err != nil {
		texture.Release()
		return nil, err
	}
	return &TileTexture{Texture: texture, View: view}, nil
}

// texture returns the GPU texture of a raster tile, uploading it on first
// use or after its handle changed. Tiles still loading get the placeholder.
func (r *Renderer) texture(t viewport.DrawTile) *TileTexture {
	img, ok := t.Handle.(image.Image)
	if !ok {
		return r.placeholder
	}

	key := textureKey(t.Layer, t.Coord)
	c := r.textures[key]
	if c != nil && c.handle == t.Handle {
		c.used = r.frame
		return c.tex
	}

	tex, err := r.createTileTexture(toRGBA(img))
	if err != nil {
		r.log.WithError(err).WithField("tile", key).Warn("tile upload failed")
		return r.placeholder
	}
	if c != nil {
		c.tex.release()
	}
	r.textures[key] = &cached{tex: tex, handle: t.Handle, used: r.frame}
	return tex
}

// sweep releases textures no frame has used for textureTTL frames
func (r *Renderer) sweep() {
	for key, c := range r.textures {
		if r.frame-c.used > textureTTL {
			c.tex.release()
			delete(r.textures, key)
		}
	}
}

// SetCityRadius changes the city mask radius, clamped to 0-100 percent
func (r *Renderer) SetCityRadius(percent float64) {
	r.mask.CityRadiusPercent = max(0, min(100, percent))
}

// CityRadius returns the city mask radius in percent
func (r *Renderer) CityRadius() float64 {
	return r.mask.CityRadiusPercent
}

// Draw renders one frame: raster tiles in draw-list order, masked by the
// cities of the frame's vector tiles
func (r *Renderer) Draw(f viewport.Frame) error {
	r.frame++
	defer r.sweep()

	var (
		vertices []Vertex
		indices  []uint16
		textures []*TileTexture
	)
	for _, t := range f.Tiles {
		if t.Kind != viewport.Raster {
			continue
		}
		q := quad(f, t)
		base := uint16(len(vertices))
		vertices = append(vertices, q[:]...)
		for _, i := range quadIndices {
			indices = append(indices, base+i)
		}
		textures = append(textures, r.texture(t))
	}

	if r.swapChain == nil {
		return errNoSwapChain
	}
	view, err := r.swapChain.GetCurrentTextureView()
	if err != nil {
		return err
	}
	defer view.Release()

	encoder, err := r.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{})
	if err != nil {
		return err
	}
	defer encoder.Release()

	pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:       view,
			LoadOp:     wgpu.LoadOp_Clear,
			StoreOp:    wgpu.StoreOp_Store,
			ClearValue: wgpu.Color{R: 0.627, G: 0.765, B: 0.812, A: 1.0},
		}},
	})

	if len(textures) > 0 {
		release, err := r.drawTiles(pass, vertices, indices, textures, cities(f))
		defer release()
		if err != nil {
			pass.End()
			return err
		}
	}
	pass.End()

	cmdBuffer, err := encoder.Finish(&wgpu.CommandBufferDescriptor{})
	if err != nil {
		return err
	}
	defer cmdBuffer.Release()

	r.queue.Submit(cmdBuffer)
	r.swapChain.Present()
	return nil
}

// drawTiles records the tile draws into pass. The returned func frees the
// per-frame GPU objects once the commands are submitted.
func (r *Renderer) drawTiles(pass *wgpu.RenderPassEncoder, vertices []Vertex, indices []uint16, textures []*TileTexture, cities []CityData) (func(), error) {
	var releases []func()
	release := func() {
		for _, fn := range releases {
			fn()
		}
	}

	vertexBuffer, err := r.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    "vertex_buffer",
		Contents: wgpu.ToBytes(vertices),
		Usage:    wgpu.BufferUsage_Vertex,
	})
	if err != nil {
		return release, fmt.Errorf("vertex buffer: %w", err)
	}
	releases = append(releases, vertexBuffer.Release)

	indexBuffer, err := r.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    "index_buffer",
		Contents: wgpu.ToBytes(indices),
		Usage:    wgpu.BufferUsage_Index,
	})
	if err != nil {
		return release, fmt.Errorf("index buffer: %w", err)
	}
	releases = append(releases, indexBuffer.Release)

	params := maskParams(r.mask, len(cities))
	maskBuffer, err := r.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    "mask_params_uniform",
		Contents: wgpu.ToBytes([]MaskParams{params}),
		Usage:    wgpu.BufferUsage_Uniform,
	})
	if err != nil {
		return release, fmt.Errorf("mask buffer: %w", err)
	}
	releases = append(releases, maskBuffer.Release)

	// storage buffers must not be empty
	if len(cities) == 0 {
		cities = []CityData{{}}
	}
	cityBuffer, err := r.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    "city_storage",
		Contents: wgpu.ToBytes(cities),
		Usage:    wgpu.BufferUsage_Storage,
	})
	if err != nil {
		return release, fmt.Errorf("city buffer: %w", err)
	}
	releases = append(releases, cityBuffer.Release)

	pass.SetPipeline(r.pipeline)
	pass.SetVertexBuffer(0, vertexBuffer, 0, wgpu.WholeSize)
	pass.SetIndexBuffer(indexBuffer, wgpu.IndexFormat_Uint16, 0, wgpu.WholeSize)

	groups := make(map[*TileTexture]*wgpu.BindGroup)
	for i, tex := range textures {
		group := groups[tex]
		if group == nil {
			group, err = r.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
				Label:  "tile_bind_group",
				Layout: r.bindGroupLayout,
				Entries: []wgpu.BindGroupEntry{
					{Binding: 0, Buffer: maskBuffer, Size: uint64(unsafe.Sizeof(MaskParams{}))},
					{Binding: 1, Sampler: r.sampler},
					{Binding: 2, TextureView: tex.View},
					{Binding: 3, Buffer: cityBuffer, Size: uint64(len(cities) * int(unsafe.Sizeof(CityData{})))},
				},
			})
			if err != nil {
				return release, fmt.Errorf("bind group: %w", err)
			}
			groups[tex] = group
			releases = append(releases, group.Release)
		}
		pass.SetBindGroup(0, group, nil)
		pass.DrawIndexed(uint32(len(quadIndices)), 1, uint32(i*len(quadIndices)), 0, 0)
	}
	return release, nil
}

// Resize recreates the swap chain for the new framebuffer size
func (r *Renderer) Resize(width, height uint32) {
	if width == 0 || height == 0 {
		return
	}
	r.width = width
	r.height = height

	if r.swapChain != nil {
		r.swapChain.Release()
	}

	var err error
	r.swapChain, err = r.createSwapChain(width, height)
	if err != nil {
		r.swapChain = nil
		r.log.WithError(err).Error("failed to recreate swap chain")
	}
}

// Release frees all GPU resources
func (r *Renderer) Release() {
	for key, c := range r.textures {
		c.tex.release()
		delete(r.textures, key)
	}
	if r.placeholder != nil {
		r.placeholder.release()
	}

	r.bindGroupLayout.Release()
	r.pipeline.Release()
	r.sampler.Release()
	if r.swapChain != nil {
		r.swapChain.Release()
	}
}
