package viewport

import (
	"fmt"
	"math"
)

func (m *Map) layerContext() LayerContext {
	return LayerContext{
		MapID:      m.id,
		Sched:      m.sched,
		Bus:        m.bus,
		PixelRatio: m.surface.PixelRatio(),
		Log:        m.log,
	}
}

func (m *Map) find(id string) (int, *entry) {
	for i, e := range m.layers {
		if e.layer.ID() == id {
			return i, e
		}
	}
	return -1, nil
}

func (m *Map) activate(e *entry) error {
	if err := e.layer.OnAdd(m.layerContext()); err != nil {
		return fmt.Errorf("add layer %q: %w", e.layer.ID(), err)
	}
	e.active = true
	m.dirty = true
	return nil
}

func (m *Map) deactivate(e *entry) {
	if !e.active {
		return
	}
	e.layer.OnRemove()
	e.active = false
	m.dirty = true
}

// applyZoomRange limits the camera to the intersection of the map's zoom
// range and the active base layer's
func (m *Map) applyZoomRange() {
	lo, hi := m.minZoom, m.maxZoom
	if _, e := m.find(m.base); e != nil {
		if r, ok := e.layer.(ZoomRanger); ok {
			lmin, lmax := r.ZoomRange()
			if math.Max(lo, lmin) <= math.Min(hi, lmax) {
				lo, hi = math.Max(lo, lmin), math.Min(hi, lmax)
			} else {
				m.log.WithField("layer", m.base).Warnf("zoom range %v-%v outside the map's %v-%v", lmin, lmax, lo, hi)
			}
		}
	}
	if cmin, cmax := m.camera.ZoomRange(); cmin == lo && cmax == hi {
		return
	}
	m.camera.SetZoomRange(lo, hi)
	m.dirty = true
}

// AddLayer registers l. Overlays are shown immediately; a base layer is
// shown only when no other base layer is active.
func (m *Map) AddLayer(l Layer) error {
	if m.destroyed {
		return ErrDestroyed
	}
	if _, e := m.find(l.ID()); e != nil {
		return fmt.Errorf("%w: %q", ErrDuplicateLayer, l.ID())
	}

	e := &entry{layer: l}
	if l.Overlay() || m.base == "" {
		if err := m.activate(e); err != nil {
			return err
		}
		if !l.Overlay() {
			m.base = l.ID()
			m.applyZoomRange()
		}
	}
	m.layers = append(m.layers, e)
	m.log.WithField("layer", l.ID()).Debugf("%s layer added", l.Kind())
	return nil
}

// RemoveLayer deactivates and unregisters a layer. Removing the active base
// layer shows the next registered base layer, if any.
func (m *Map) RemoveLayer(id string) error {
	i, e := m.find(id)
	if e == nil {
		return fmt.Errorf("%w: %q", ErrUnknownLayer, id)
	}
	m.deactivate(e)
	m.layers = append(m.layers[:i], m.layers[i+1:]...)

	if m.base == id {
		m.base = ""
		for _, next := range m.layers {
			if next.layer.Overlay() {
				continue
			}
			if err := m.activate(next); err != nil {
				m.log.WithError(err).Warn("could not show next base layer")
				continue
			}
			m.base = next.layer.ID()
			break
		}
		m.applyZoomRange()
	}
	return nil
}

// Layer returns a registered layer
func (m *Map) Layer(id string) (Layer, bool) {
	_, e := m.find(id)
	if e == nil {
		return nil, false
	}
	return e.layer, true
}

// Layers returns every registered layer in registration order
func (m *Map) Layers() []Layer {
	out := make([]Layer, len(m.layers))
	for i, e := range m.layers {
		out[i] = e.layer
	}
	return out
}

// BaseLayer returns the id of the active base layer, "" when none
func (m *Map) BaseLayer() string {
	return m.base
}

// SetBaseLayer makes id the active base layer. Base layers are mutually
// exclusive; the previous one is deactivated.
func (m *Map) SetBaseLayer(id string) error {
	_, e := m.find(id)
	if e == nil {
		return fmt.Errorf("%w: %q", ErrUnknownLayer, id)
	}
	if e.layer.Overlay() {
		return fmt.Errorf("%w: %q", ErrNotBaseLayer, id)
	}
	if m.base == id {
		return nil
	}

	var prev *entry
	if m.base != "" {
		_, prev = m.find(m.base)
		m.deactivate(prev)
	}
	if err := m.activate(e); err != nil {
		if prev != nil && m.activate(prev) == nil {
			return err
		}
		m.base = ""
		m.applyZoomRange()
		return err
	}
	m.base = id
	m.applyZoomRange()
	m.log.WithField("layer", id).Info("base layer changed")
	return nil
}

// ToggleBaseLayer switches to the base layer registered after the active
// one, wrapping around, and returns the new base layer id
func (m *Map) ToggleBaseLayer() string {
	var bases []string
	current := -1
	for _, e := range m.layers {
		if e.layer.Overlay() {
			continue
		}
		if e.layer.ID() == m.base {
			current = len(bases)
		}
		bases = append(bases, e.layer.ID())
	}
	if len(bases) < 2 {
		return m.base
	}

	next := bases[(current+1)%len(bases)]
	if err := m.SetBaseLayer(next); err != nil {
		m.log.WithError(err).Warn("base layer toggle failed")
	}
	return m.base
}

// ordered returns the active layers in draw order
func (m *Map) ordered() []*entry {
	out := make([]*entry, 0, len(m.layers))
	for _, e := range m.layers {
		if e.active && !e.layer.Overlay() {
			out = append(out, e)
		}
	}
	for _, e := range m.layers {
		if e.active && e.layer.Overlay() {
			out = append(out, e)
		}
	}
	return out
}
