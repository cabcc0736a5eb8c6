package event

// View is the payload of the viewport change events
type View struct {
	Lat     float64
	Lon     float64
	Zoom    float64
	Bearing float64
}

// Size is the payload of resize events
type Size struct {
	Width  float64
	Height float64
}

// Tile is the payload of tile load and error events
type Tile struct {
	Layer string
	Key   string
	URL   string

	// Cause is nil for loads
	Cause error
}

// Bus groups the emitters of one map instance. The zero value is ready
// to use.
type Bus struct {
	Move    Emitter[View]
	MoveEnd Emitter[View]
	Zoom    Emitter[View]
	ZoomEnd Emitter[View]
	Rotate  Emitter[View]
	Resize  Emitter[Size]

	TileLoad  Emitter[Tile]
	TileError Emitter[Tile]
}
