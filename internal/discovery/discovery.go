// Package discovery scans a reads directory for paired-end sample files and
// builds the immutable sample set that seeds a run.
package discovery

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/genoflow/genoflow/pkg/domain"
)

// Naming convention: <sampleId>_R1<anything> and <sampleId>_R2<anything>.
// The sample id is everything before the last "_R1"/"_R2" marker.
const (
	markerR1 = "_R1"
	markerR2 = "_R2"
)

// sheetName is the optional per-directory sample sheet carrying gender and
// case/control status. Lines: sampleId,gender,status. Missing sheet means
// every sample defaults to case with unknown gender.
const sheetName = "samples.csv"

type pair struct {
	r1, r2 string
}

// Scan walks dir (non-recursive) and returns the discovered samples sorted by
// id. Zero matched pairs is a fatal configuration error.
func Scan(dir string, logger *zap.Logger) ([]domain.Sample, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, domain.Configf("reading samples directory %s: %v", dir, err)
	}

	pairs := make(map[string]*pair)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, isR1, ok := splitReadName(entry.Name())
		if !ok {
			continue
		}
		p := pairs[id]
		if p == nil {
			p = &pair{}
			pairs[id] = p
		}
		path := filepath.Join(dir, entry.Name())
		if isR1 {
			if p.r1 != "" {
				return nil, domain.Configf("sample %s: multiple R1 files (%s, %s)", id, p.r1, path)
			}
			p.r1 = path
		} else {
			if p.r2 != "" {
				return nil, domain.Configf("sample %s: multiple R2 files (%s, %s)", id, p.r2, path)
			}
			p.r2 = path
		}
	}

	if len(pairs) == 0 {
		return nil, domain.Configf("no samples matching <id>_R1*/<id>_R2* found in %s", dir)
	}

	sheet, err := readSheet(filepath.Join(dir, sheetName))
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(pairs))
	for id := range pairs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	samples := make([]domain.Sample, 0, len(ids))
	for _, id := range ids {
		p := pairs[id]
		if p.r1 == "" {
			return nil, domain.Configf("sample %s: R2 file present but R1 missing", id)
		}
		s := domain.Sample{ID: id, Status: domain.StatusCase, R1: p.r1, R2: p.r2}
		if meta, ok := sheet[id]; ok {
			s.Gender = meta.gender
			s.Status = meta.status
		}
		samples = append(samples, s)
		logger.Info("discovered sample",
			zap.String("sample", id),
			zap.String("status", string(s.Status)),
			zap.Bool("paired", p.r2 != ""))
	}
	return samples, nil
}

// splitReadName extracts the sample id and mate flag from a read file name.
// The last marker occurrence wins so ids containing "_R1" elsewhere survive.
func splitReadName(name string) (id string, isR1, ok bool) {
	i1 := strings.LastIndex(name, markerR1)
	i2 := strings.LastIndex(name, markerR2)
	switch {
	case i1 > i2 && i1 > 0:
		return name[:i1], true, true
	case i2 > i1 && i2 > 0:
		return name[:i2], false, true
	default:
		return "", false, false
	}
}

type sheetEntry struct {
	gender string
	status domain.SampleStatus
}

func readSheet(path string) (map[string]sheetEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, domain.Configf("opening sample sheet %s: %v", path, err)
	}
	defer f.Close()

	sheet := make(map[string]sheetEntry)
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Split(text, ",")
		if len(fields) != 3 {
			return nil, domain.Configf("sample sheet %s line %d: want sampleId,gender,status", path, line)
		}
		id := strings.TrimSpace(fields[0])
		status := domain.SampleStatus(strings.ToLower(strings.TrimSpace(fields[2])))
		if status != domain.StatusCase && status != domain.StatusControl {
			return nil, domain.Configf("sample sheet %s line %d: unknown status %q", path, line, fields[2])
		}
		sheet[id] = sheetEntry{gender: strings.TrimSpace(fields[1]), status: status}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading sample sheet %s: %w", path, err)
	}
	return sheet, nil
}
