// Package animation drives frame-interpolated camera motion: fly-to,
// anchored zoom/rotate and drag inertia. At most one job runs at a time;
// starting a job cancels the running one.
package animation

import (
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"

	"slippymap/internal/camera"
	"slippymap/internal/event"
	"slippymap/internal/logging"
	"slippymap/internal/scheduler"
)

// Kind identifies a job variant
type Kind int

const (
	KindFlyTo Kind = iota
	KindZoomRotate
	KindInertia
)

func (k Kind) String() string {
	switch k {
	case KindFlyTo:
		return "flyto"
	case KindZoomRotate:
		return "zoomrotate"
	case KindInertia:
		return "inertia"
	}
	return "unknown"
}

// job is one motion. begin is called once when the job starts, step on
// every frame until it reports completion, end only after a completed
// (not cancelled) run.
type job interface {
	kind() Kind
	begin(now time.Time)
	step(now time.Time) (done bool)
	end(bus *event.Bus)
}

type running struct {
	id        string
	job       job
	started   time.Time
	task      scheduler.Task
	cancelled bool
}

// Animator runs motion jobs against a camera on scheduler frames
type Animator struct {
	sched  scheduler.Scheduler
	camera *camera.Camera
	bus    *event.Bus
	log    *log.Entry

	active *running
}

// NewAnimator creates an animator. bus and logger may be nil.
func NewAnimator(sched scheduler.Scheduler, cam *camera.Camera, bus *event.Bus, logger *log.Entry) *Animator {
	if bus == nil {
		bus = &event.Bus{}
	}
	return &Animator{
		sched:  sched,
		camera: cam,
		bus:    bus,
		log:    logging.Or(logger),
	}
}

// Active reports whether a job is running
func (a *Animator) Active() bool {
	return a.active != nil
}

// Current returns the kind and id of the running job
func (a *Animator) Current() (Kind, string, bool) {
	if a.active == nil {
		return 0, "", false
	}
	return a.active.job.kind(), a.active.id, true
}

// Stop cancels the running job without firing its end events
func (a *Animator) Stop() bool {
	r := a.active
	if r == nil {
		return false
	}
	r.cancelled = true
	if r.task != nil {
		r.task.Cancel()
	}
	a.active = nil
	a.log.WithField("job", r.id).Debugf("%s cancelled", r.job.kind())
	return true
}

func (a *Animator) start(j job) string {
	a.Stop()

	id, err := shortid.Generate()
	if err != nil {
		id = j.kind().String()
	}
	r := &running{id: id, job: j, started: a.sched.Now()}
	a.active = r

	j.begin(r.started)
	a.log.WithField("job", id).Debugf("%s started", j.kind())
	a.schedule(r)
	return id
}

func (a *Animator) schedule(r *running) {
	r.task = a.sched.RequestFrame(func(now time.Time) {
		if r.cancelled {
			return
		}
		if !r.job.step(now) {
			a.schedule(r)
			return
		}
		if a.active == r {
			a.active = nil
		}
		a.log.WithField("job", r.id).Debugf("%s finished after %v", r.job.kind(), now.Sub(r.started))
		r.job.end(a.bus)
	})
}
