package pid

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

type processDiscovery struct {
	log       logrus.FieldLogger
	procRoot  string
	names     []string
	libraries []string
}

func newProcessDiscovery(
	log logrus.FieldLogger,
	procRoot string,
	names []string,
	libraries []string,
) *processDiscovery {
	return &processDiscovery{
		log:       log.WithField("discovery", "process"),
		procRoot:  procRoot,
		names:     names,
		libraries: libraries,
	}
}

func (d *processDiscovery) enabled() bool {
	return len(d.names) > 0 || len(d.libraries) > 0
}

func (d *processDiscovery) source() string {
	if len(d.names) == 0 {
		return SourceLibrary
	}

	return SourceProcess
}

// Discover scans procfs to find PIDs whose name matches one of the
// configured process names or that map one of the configured libraries.
func (d *processDiscovery) Discover(
	ctx context.Context,
) ([]uint32, error) {
	if !d.enabled() {
		return nil, nil
	}

	entries, err := os.ReadDir(d.procRoot)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", d.procRoot, err)
	}

	nameSet := make(map[string]struct{}, len(d.names))
	for _, n := range d.names {
		nameSet[n] = struct{}{}
	}

	pids := make([]uint32, 0, 16)

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if !entry.IsDir() {
			continue
		}

		pidVal, err := strconv.ParseUint(entry.Name(), 10, 32)
		if err != nil || pidVal == 0 {
			continue // Not a PID directory.
		}

		dir := filepath.Join(d.procRoot, entry.Name())

		if comm, err := readComm(dir); err == nil {
			if _, ok := nameSet[comm]; ok {
				d.log.WithFields(logrus.Fields{
					"pid":  pidVal,
					"comm": comm,
				}).Debug("Found matching process")

				pids = append(pids, uint32(pidVal))

				continue
			}
		}

		if len(d.libraries) == 0 {
			continue
		}

		if lib, ok := mapsLibrary(dir, d.libraries); ok {
			d.log.WithFields(logrus.Fields{
				"pid":     pidVal,
				"library": lib,
			}).Debug("Found process mapping library")

			pids = append(pids, uint32(pidVal))
		}
	}

	return pids, nil
}

// readComm reads the process name from <dir>/comm
// or falls back to <dir>/status.
func readComm(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, "comm"))
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}

	// Fall back to <dir>/status which has "Name:\t<name>".
	f, err := os.Open(filepath.Join(dir, "status"))
	if err != nil {
		return "", fmt.Errorf("reading process info in %s: %w", dir, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "Name:") {
			parts := strings.SplitN(line, "\t", 2)
			if len(parts) == 2 {
				return strings.TrimSpace(parts[1]), nil
			}
		}
	}

	return "", fmt.Errorf("could not determine process name in %s", dir)
}

// mapsLibrary reports the first mapped file in <dir>/maps whose base
// name starts with one of prefixes.
func mapsLibrary(dir string, prefixes []string) (string, bool) {
	f, err := os.Open(filepath.Join(dir, "maps"))
	if err != nil {
		return "", false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		// address perms offset dev inode pathname
		fields := strings.Fields(scanner.Text())
		if len(fields) < 6 {
			continue
		}

		base := filepath.Base(fields[5])

		for _, prefix := range prefixes {
			if strings.HasPrefix(base, prefix) {
				return fields[5], true
			}
		}
	}

	return "", false
}
