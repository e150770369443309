package pid

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"
)

// Discovery sources, used as error labels.
const (
	SourceProcess = "process"
	SourceLibrary = "library"
	SourceCgroup  = "cgroup"
)

// Discovery defines the interface for PID discovery mechanisms.
type Discovery interface {
	// Discover finds PIDs matching the configured criteria.
	Discover(ctx context.Context) ([]uint32, error)
}

// ErrorHandler is called when one discovery source fails. Discovery
// continues with the remaining sources.
type ErrorHandler func(source string, err error)

// NewDiscovery creates a composite discovery over static pids,
// process names, mapped libraries and cgroup membership.
func NewDiscovery(
	log logrus.FieldLogger,
	cfg Config,
	onError ErrorHandler,
) Discovery {
	cfg.ApplyDefaults()

	return &compositeDiscovery{
		log:     log.WithField("component", "pid"),
		static:  cfg.PIDs,
		process: newProcessDiscovery(log, cfg.ProcRoot, cfg.ProcessNames, cfg.Libraries),
		cgroup:  newCgroupDiscovery(log, cfg.CgroupPath),
		onError: onError,
	}
}

type compositeDiscovery struct {
	log     logrus.FieldLogger
	static  []uint32
	process *processDiscovery
	cgroup  *cgroupDiscovery
	onError ErrorHandler
}

func (d *compositeDiscovery) Discover(
	ctx context.Context,
) ([]uint32, error) {
	seen := make(map[uint32]struct{}, 64)
	result := make([]uint32, 0, 64)

	add := func(pids []uint32) {
		for _, pid := range pids {
			if _, ok := seen[pid]; !ok {
				seen[pid] = struct{}{}
				result = append(result, pid)
			}
		}
	}

	add(d.static)

	if d.process != nil && d.process.enabled() {
		pids, err := d.process.Discover(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			d.log.WithError(err).Warn(
				"Process discovery failed",
			)
			d.reportError(d.process.source(), err)
		}

		add(pids)
	}

	if d.cgroup != nil && d.cgroup.path != "" {
		pids, err := d.cgroup.Discover(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			d.log.WithError(err).Warn(
				"Cgroup discovery failed",
			)
			d.reportError(SourceCgroup, err)
		}

		add(pids)
	}

	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })

	if len(result) == 0 {
		d.log.Warn("No PIDs discovered")
	} else {
		d.log.WithField("count", len(result)).
			Debug("Discovered PIDs")
	}

	return result, nil
}

func (d *compositeDiscovery) reportError(source string, err error) {
	if d.onError != nil {
		d.onError(source, err)
	}
}
