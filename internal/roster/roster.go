// Package roster loads the fixed process-to-address table shared by every member of a deployment.
package roster

import (
	"bufio"
	"distbank/internal/transport"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrInvalidRoster wraps every parse and validation failure.
var ErrInvalidRoster = errors.New("invalid roster")

// Member describes one process of the deployment.
type Member struct {
	ID   int
	Host string
	Port uint16
}

// Address returns the transport address of the member.
func (m Member) Address() transport.Address {
	return transport.Address{Host: m.Host, Port: m.Port}
}

// Roster is the ordered set of members; Members[i].ID == i.
type Roster struct {
	Members []Member
}

// Size returns N, the number of processes.
func (r *Roster) Size() int {
	return len(r.Members)
}

// Contains reports whether id designates a member.
func (r *Roster) Contains(id int) bool {
	return id >= 0 && id < len(r.Members)
}

// Member returns the member with the given id.
func (r *Roster) Member(id int) (Member, bool) {
	if !r.Contains(id) {
		return Member{}, false
	}
	return r.Members[id], true
}

// Peers returns the ids of all members except self.
func (r *Roster) Peers(self int) []int {
	peers := make([]int, 0, len(r.Members))
	for _, m := range r.Members {
		if m.ID != self {
			peers = append(peers, m.ID)
		}
	}
	return peers
}

// Load reads a roster file from disk.
func Load(path string) (*Roster, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

/*
Parse reads lines of the form

	<id> <host> <port>

separated by any whitespace. Blank lines and lines starting with '#' are skipped. Lines may appear in any order, but the ids must be unique and cover exactly 0..N-1.
*/
func Parse(r io.Reader) (*Roster, error) {
	byID := make(map[int]Member)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		member, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidRoster, lineNo, err)
		}
		if _, dup := byID[member.ID]; dup {
			return nil, fmt.Errorf("%w: line %d: duplicate id %d", ErrInvalidRoster, lineNo, member.ID)
		}
		byID[member.ID] = member
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(byID) == 0 {
		return nil, fmt.Errorf("%w: no members", ErrInvalidRoster)
	}

	members := make([]Member, len(byID))
	for id, m := range byID {
		if id >= len(byID) {
			return nil, fmt.Errorf("%w: ids must be contiguous from 0, found %d among %d members", ErrInvalidRoster, id, len(byID))
		}
		members[id] = m
	}

	return &Roster{Members: members}, nil
}

func parseLine(line string) (Member, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return Member{}, fmt.Errorf("expected 3 fields, got %d", len(fields))
	}

	id, err := strconv.Atoi(fields[0])
	if err != nil || id < 0 {
		return Member{}, fmt.Errorf("bad id %q", fields[0])
	}
	if id > 0xffff {
		return Member{}, fmt.Errorf("id %d does not fit the wire format", id)
	}

	port, err := strconv.ParseUint(fields[2], 10, 16)
	if err != nil || port == 0 {
		return Member{}, fmt.Errorf("bad port %q", fields[2])
	}

	return Member{ID: id, Host: fields[1], Port: uint16(port)}, nil
}
