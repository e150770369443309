package pid

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

type cgroupDiscovery struct {
	log  logrus.FieldLogger
	path string
}

func newCgroupDiscovery(
	log logrus.FieldLogger,
	path string,
) *cgroupDiscovery {
	return &cgroupDiscovery{
		log:  log.WithField("discovery", "cgroup"),
		path: path,
	}
}

// Discover reads PIDs from every cgroup.procs file at or below the
// configured cgroup v2 path, so processes in child groups are found too.
func (d *cgroupDiscovery) Discover(
	ctx context.Context,
) ([]uint32, error) {
	if d.path == "" {
		return nil, nil
	}

	if _, err := os.Stat(filepath.Join(d.path, "cgroup.procs")); err != nil {
		return nil, fmt.Errorf("cgroup %s: %w", d.path, err)
	}

	pids := make([]uint32, 0, 16)

	err := filepath.WalkDir(d.path, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			// Groups can vanish while walking.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}

			return err
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if !entry.IsDir() {
			return nil
		}

		found, err := d.readProcs(filepath.Join(path, "cgroup.procs"))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}

			return err
		}

		pids = append(pids, found...)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return pids, nil
}

func (d *cgroupDiscovery) readProcs(procsPath string) ([]uint32, error) {
	f, err := os.Open(procsPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", procsPath, err)
	}
	defer f.Close()

	var pids []uint32

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		pidVal, err := strconv.ParseUint(line, 10, 32)
		if err != nil {
			d.log.WithField("line", line).
				Warn("Non-numeric line in cgroup.procs")

			continue
		}

		d.log.WithField("pid", pidVal).
			Debug("Found PID in cgroup")

		pids = append(pids, uint32(pidVal))
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", procsPath, err)
	}

	return pids, nil
}
