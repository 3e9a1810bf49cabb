// Copyright (C) 2024 The fdistdump-go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package config resolves the participant set spec.md §6 leaves to "a
// multi-process launcher": either a --peers YAML file (SPEC_FULL.md
// Section A) or the FDISTDUMP_RANK / FDISTDUMP_WORLD_SIZE / FDISTDUMP_PEERS
// environment variables a launcher-driven deployment sets instead.
package config

import (
	"os"
	"strconv"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/CESNET/fdistdump-sub002/ferrors"
)

// PeerDesc is one cluster member, rank given by its position in the
// enclosing PeerList. Mirrors the teacher's peerDesc/peerJSON shape
// (cmd/snellerd/peercmd.go) field for field, YAML instead of JSON.
type PeerDesc struct {
	Addr string `json:"addr" yaml:"addr"`
}

// PeerList is the --peers file's top-level shape.
type PeerList struct {
	Peers []PeerDesc `json:"peers" yaml:"peers"`
}

// Cluster is the resolved participant set: Rank is this process's own
// position in Peers (0 is always the coordinator), and Peers is the
// full ordered address list every rank needs to dial or listen on.
type Cluster struct {
	Rank  int
	Peers []string
}

// LoadPeersFile decodes path as a --peers YAML file into an ordered
// address list. rank identifies which entry is this process.
func LoadPeersFile(path string, rank int) (*Cluster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ferrors.New(ferrors.KindIO, err)
	}
	var pl PeerList
	if err := yaml.Unmarshal(data, &pl); err != nil {
		return nil, ferrors.Newf(ferrors.KindArgs, "config: parsing %s: %v", path, err)
	}
	if len(pl.Peers) < 2 {
		return nil, ferrors.Newf(ferrors.KindArgs, "config: %s lists %d peer(s), need at least 2 (spec.md §4.7)", path, len(pl.Peers))
	}
	addrs := make([]string, len(pl.Peers))
	for i, p := range pl.Peers {
		if p.Addr == "" {
			return nil, ferrors.Newf(ferrors.KindArgs, "config: %s: peer %d has an empty addr", path, i)
		}
		addrs[i] = p.Addr
	}
	if rank < 0 || rank >= len(addrs) {
		return nil, ferrors.Newf(ferrors.KindArgs, "config: rank %d out of range for %d peers", rank, len(addrs))
	}
	return &Cluster{Rank: rank, Peers: addrs}, nil
}

// FromEnv resolves the participant set from FDISTDUMP_RANK,
// FDISTDUMP_WORLD_SIZE and FDISTDUMP_PEERS (a comma-separated host:port
// list), the launcher-driven alternative to --peers (SPEC_FULL.md
// Section A). ok is false when none of the three variables is set, so a
// caller can fall back to --peers without treating that as an error.
func FromEnv() (cluster *Cluster, ok bool, err error) {
	rankStr := os.Getenv("FDISTDUMP_RANK")
	worldStr := os.Getenv("FDISTDUMP_WORLD_SIZE")
	peersStr := os.Getenv("FDISTDUMP_PEERS")
	if rankStr == "" && worldStr == "" && peersStr == "" {
		return nil, false, nil
	}

	rank, err := strconv.Atoi(rankStr)
	if err != nil {
		return nil, true, ferrors.Newf(ferrors.KindArgs, "config: FDISTDUMP_RANK=%q: %v", rankStr, err)
	}
	world, err := strconv.Atoi(worldStr)
	if err != nil {
		return nil, true, ferrors.Newf(ferrors.KindArgs, "config: FDISTDUMP_WORLD_SIZE=%q: %v", worldStr, err)
	}
	if world < 2 {
		return nil, true, ferrors.Newf(ferrors.KindArgs, "config: FDISTDUMP_WORLD_SIZE=%d, need at least 2 (spec.md §4.7)", world)
	}
	peers := strings.Split(peersStr, ",")
	if len(peers) != world {
		return nil, true, ferrors.Newf(ferrors.KindArgs, "config: FDISTDUMP_PEERS lists %d address(es), FDISTDUMP_WORLD_SIZE says %d", len(peers), world)
	}
	if rank < 0 || rank >= world {
		return nil, true, ferrors.Newf(ferrors.KindArgs, "config: FDISTDUMP_RANK=%d out of range for world size %d", rank, world)
	}
	return &Cluster{Rank: rank, Peers: peers}, true, nil
}
