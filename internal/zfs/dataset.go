package zfs

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type PoolSet struct {
	pools    []*Pool
	datasets map[string]*Dataset
}

// Pool is the root dataset of a zpool.
type Pool struct {
	*Dataset
}

type Dataset struct {
	Name      string
	Creation  time.Time
	Parent    *Dataset
	Children  []*Dataset
	Snapshots []*Snapshot
}

type Snapshot struct {
	Dataset  *Dataset
	Name     string
	Creation time.Time
}

// FullName returns dataset@snapshot.
func (s *Snapshot) FullName() string {
	return s.Dataset.Name + "@" + s.Name
}

func (d *Dataset) IsPool() bool {
	return d.Parent == nil
}

// Snapshot returns the snapshot of d with the given short name.
func (d *Dataset) Snapshot(name string) (*Snapshot, bool) {
	for _, s := range d.Snapshots {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// LatestSnapshot returns the snapshot with the most recent creation time, nil if there is none.
func (d *Dataset) LatestSnapshot() *Snapshot {
	if len(d.Snapshots) == 0 {
		return nil
	}
	return d.Snapshots[len(d.Snapshots)-1]
}

type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("dataset or snapshot %q does not exist", e.Name)
}

func (p *PoolSet) Pools() []*Pool {
	return p.pools
}

func (p *PoolSet) Pool(name string) (*Pool, error) {
	for _, pool := range p.pools {
		if pool.Name == name {
			return pool, nil
		}
	}
	return nil, &NotFoundError{Name: name}
}

func (p *PoolSet) LookupDataset(name string) (*Dataset, error) {
	if strings.Contains(name, "@") {
		return nil, errors.Errorf("%q is a snapshot name, not a dataset name", name)
	}
	ds, ok := p.datasets[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return ds, nil
}

func (p *PoolSet) LookupSnapshot(name string) (*Snapshot, error) {
	dsName, snapName, ok := strings.Cut(name, "@")
	if !ok {
		return nil, errors.Errorf("%q is not a snapshot name", name)
	}
	ds, ok := p.datasets[dsName]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	snap, ok := ds.Snapshot(snapName)
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return snap, nil
}

// Walk visits all datasets depth-first, parents before children, in the order zfs reported them.
func (p *PoolSet) Walk(f func(d *Dataset)) {
	var walk func(d *Dataset)
	walk = func(d *Dataset) {
		f(d)
		for _, c := range d.Children {
			walk(c)
		}
	}
	for _, pool := range p.pools {
		walk(pool.Dataset)
	}
}

func parentName(name string) (string, bool) {
	i := strings.LastIndex(name, "/")
	if i == -1 {
		return "", false
	}
	return name[:i], true
}

// ParseGetCreation builds a PoolSet from the output of
//
//	zfs get -Hpr -o name,value creation
//
// which lists one dataset or snapshot per line. Parents precede their children.
func ParseGetCreation(r io.Reader) (*PoolSet, error) {
	ps := &PoolSet{datasets: make(map[string]*Dataset)}

	s := bufio.NewScanner(r)
	lineno := 0
	for s.Scan() {
		lineno++
		line := s.Text()
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 2)
		if len(fields) != 2 {
			return nil, errors.Errorf("line %d: expected name and value separated by tab: %q", lineno, line)
		}
		name, value := fields[0], fields[1]
		secs, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d: cannot parse creation time of %q", lineno, name)
		}
		creation := time.Unix(secs, 0)

		if dsName, snapName, isSnap := strings.Cut(name, "@"); isSnap {
			ds, ok := ps.datasets[dsName]
			if !ok {
				return nil, errors.Errorf("line %d: snapshot %q listed before its dataset", lineno, name)
			}
			ds.Snapshots = append(ds.Snapshots, &Snapshot{Dataset: ds, Name: snapName, Creation: creation})
			continue
		}

		if _, dup := ps.datasets[name]; dup {
			return nil, errors.Errorf("line %d: duplicate dataset %q", lineno, name)
		}
		ds := &Dataset{Name: name, Creation: creation}
		if parent, ok := parentName(name); ok {
			p, ok := ps.datasets[parent]
			if !ok {
				return nil, errors.Errorf("line %d: dataset %q listed before its parent", lineno, name)
			}
			ds.Parent = p
			p.Children = append(p.Children, ds)
		} else {
			ps.pools = append(ps.pools, &Pool{ds})
		}
		ps.datasets[name] = ds
	}
	if err := s.Err(); err != nil {
		return nil, errors.Wrap(err, "cannot read zfs output")
	}

	for _, ds := range ps.datasets {
		sort.SliceStable(ds.Snapshots, func(i, j int) bool {
			return ds.Snapshots[i].Creation.Before(ds.Snapshots[j].Creation)
		})
	}
	return ps, nil
}
